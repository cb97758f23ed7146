// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/store"
)

// TokenEnvVar holds a session token between login and later commands.
const TokenEnvVar = "LEXGUARD_TOKEN"

// resolveIdentity finds an identity by username, then by ID.
func resolveIdentity(ctx context.Context, ids store.IdentityStore, ref string) (store.Identity, error) {
	ident, err := ids.GetIdentityByUsername(ctx, strings.ToLower(strings.TrimSpace(ref)))
	if err == nil || !store.IsNotFound(err) {
		return ident, err
	}
	ident, err = ids.GetIdentity(ctx, ref)
	return ident, notFoundAs(err, "identity", ref)
}

// originFlags are the request fingerprint recorded for CLI logins.
type originFlags struct {
	remoteAddr string
	userAgent  string
}

func (f *originFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.remoteAddr, "remote-addr", "127.0.0.1", "remote address recorded for the attempt")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "lexguard-cli/"+Version, "user agent recorded for the attempt")
}

func (f *originFlags) origin() store.Origin {
	return store.Origin{RemoteAddr: f.remoteAddr, UserAgent: f.userAgent}
}

// tokenFlag reads a session token from --token or LEXGUARD_TOKEN.
type tokenFlag struct {
	token string
}

func (f *tokenFlag) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.token, "token", "", "session token (default $"+TokenEnvVar+")")
}

func (f *tokenFlag) value() (string, error) {
	if f.token != "" {
		return f.token, nil
	}
	if t := os.Getenv(TokenEnvVar); t != "" {
		return t, nil
	}
	return "", NewValidationErrorWithExample("token", "", "no session token",
		"lexguard whoami --token <token>  or  export "+TokenEnvVar+"=<token>")
}

// parseTimeFlag parses an optional RFC 3339 time.
func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, NewValidationErrorWithExample(name, value, "not an RFC 3339 time", "2025-01-31T17:00:00Z")
	}
	return &t, nil
}
