// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for lexguard commands.
//
// Commands always return errors; Execute displays them once and maps
// them to an exit code. Engine sentinels are matched with errors.Is so
// the exit code does not depend on message wording.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/lexguard/internal/config"
	"github.com/jeranaias/lexguard/internal/security"
	"github.com/jeranaias/lexguard/internal/security/access"
	"github.com/jeranaias/lexguard/internal/security/audit"
	"github.com/jeranaias/lexguard/internal/security/classification"
	"github.com/jeranaias/lexguard/internal/security/crypto"
	"github.com/jeranaias/lexguard/internal/security/password"
	"github.com/jeranaias/lexguard/internal/store"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file, settings or key error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates network or connectivity error
	ExitNetworkError = 5
	// ExitSecurityError indicates an integrity failure (AU-9, SC-28)
	ExitSecurityError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // Command that failed (e.g., "identity", "audit")
	Action  string // Action being performed (e.g., "add", "verify")
	Reason  string // Human-readable reason
	Err     error  // Underlying error (if any)
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation failure for user input.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Value that was provided
	Reason  string // Why validation failed
	Example string // Example of valid value (optional)
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	Resource string // Type of resource (e.g., "identity", "session")
	ID       string // Identifier that was not found
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Unwrap lets errors.Is match store.ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return store.ErrNotFound
}

// PolicyError reports a password rejected by the IA-5 policy.
type PolicyError struct {
	Command    string
	Violations []password.Violation
}

func (e *PolicyError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return fmt.Sprintf("%s: password rejected: %s", e.Command, strings.Join(msgs, "; "))
}

// =============================================================================
// ERROR CONSTRUCTION HELPERS
// =============================================================================

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{
		Command: command,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Reason:  reason,
		Example: example,
	}
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// notFoundAs replaces a bare store.ErrNotFound with a NotFoundError naming
// the resource.
func notFoundAs(err error, resource, id string) error {
	if store.IsNotFound(err) {
		return NewNotFoundError(resource, id)
	}
	return err
}

// =============================================================================
// ERROR DISPLAY HELPERS
// =============================================================================

// DisplayError writes err to stderr, or the JSON error envelope to stdout
// in JSON mode.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		DisplayErrorJSON(err)
		return
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON outputs an error as JSON.
func DisplayErrorJSON(err error) {
	output := map[string]interface{}{
		"error":     err.Error(),
		"success":   false,
		"exit_code": GetExitCode(err),
	}

	var (
		cmdErr      *CommandError
		validErr    *ValidationError
		notFoundErr *NotFoundError
		policyErr   *PolicyError
		cfgErrs     config.ValidateErrors
	)
	switch {
	case errors.As(err, &policyErr):
		output["error_type"] = "policy_error"
		output["violations"] = policyErr.Violations

	case errors.As(err, &validErr):
		output["error_type"] = "validation_error"
		output["field"] = validErr.Field
		output["value"] = validErr.Value
		output["reason"] = validErr.Reason
		if validErr.Example != "" {
			output["example"] = validErr.Example
		}

	case errors.As(err, &notFoundErr):
		output["error_type"] = "not_found_error"
		output["resource"] = notFoundErr.Resource
		output["id"] = notFoundErr.ID

	case errors.As(err, &cfgErrs):
		output["error_type"] = "config_error"
		fields := make([]string, 0, len(cfgErrs))
		for _, e := range cfgErrs {
			fields = append(fields, e.Field)
		}
		output["fields"] = fields

	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
		output["reason"] = cmdErr.Reason
		if cmdErr.Err != nil {
			output["underlying_error"] = cmdErr.Err.Error()
		}

	default:
		output["error_type"] = "generic_error"
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		policyErr     *PolicyError
		cfgErrs       config.ValidateErrors
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &policyErr):
		return ExitUsageError
	case errors.As(err, &notFoundErr), errors.Is(err, store.ErrNotFound):
		return ExitNotFoundError
	case errors.Is(err, store.ErrIntegrity),
		errors.Is(err, crypto.ErrDecryptionFailed),
		errors.Is(err, crypto.ErrInvalidCiphertext):
		return ExitSecurityError
	case errors.Is(err, security.ErrUnauthenticated),
		errors.Is(err, security.ErrForbidden):
		return ExitAuthError
	case errors.As(err, &cfgErrs),
		errors.Is(err, audit.ErrNoKey),
		errors.Is(err, errNoMFAKey),
		errors.Is(err, crypto.ErrInvalidKey):
		return ExitConfigError
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, security.ErrInvalidIdentity),
		errors.Is(err, access.ErrInvalidPermission),
		errors.Is(err, access.ErrInvalidGrant),
		errors.Is(err, access.ErrUnknownCondition),
		errors.Is(err, classification.ErrInvalidLevel):
		return ExitUsageError
	}

	// Cobra reports flag and argument problems as plain errors.
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "unknown command"),
		strings.Contains(errMsg, "unknown flag"),
		strings.Contains(errMsg, "accepts "),
		strings.Contains(errMsg, "requires at least"):
		return ExitUsageError
	case strings.Contains(errMsg, "deadline exceeded"),
		strings.Contains(errMsg, "timed out"):
		return ExitTimeoutError
	case strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "dial "):
		return ExitNetworkError
	}
	return ExitGeneralError
}
