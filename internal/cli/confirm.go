// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation for destructive lexguard commands.
//
// The pattern is the same for every command:
//  1. If --yes is present, proceed without prompting
//  2. If --json mode, require --yes (no interactive prompts in JSON mode)
//  3. If stdin is not a TTY, require --yes (can't prompt)
//  4. Otherwise, show an interactive prompt
package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// errNotConfirmed is returned when the operator declines a prompt.
var errNotConfirmed = &CommandError{Command: "confirm", Action: "prompt", Reason: "cancelled by operator"}

// addYesFlag registers --yes on cmd.
func addYesFlag(cmd *cobra.Command, yes *bool) {
	cmd.Flags().BoolVarP(yes, "yes", "y", false, "skip the confirmation prompt")
}

// requireConfirmation checks that a destructive action was confirmed.
func (o *rootOptions) requireConfirmation(cmd *cobra.Command, yes bool, action string) error {
	if yes {
		return nil
	}
	if o.jsonOut {
		return NewValidationError("confirmation", "", "use --yes for destructive actions in JSON mode")
	}
	if !IsTTY() {
		return NewValidationError("confirmation", "", "stdin is not a terminal; use --yes")
	}
	if !promptYesNo(cmd.InOrStdin(), cmd.ErrOrStderr(), action) {
		return errNotConfirmed
	}
	return nil
}

func promptYesNo(in io.Reader, out io.Writer, action string) bool {
	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes"
}
