// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// output.go - JSON and human output for lexguard commands.
//
// Every command can emit the standard JSON envelope (--json) so results
// feed automated review (AU-6) and monitoring (SI-4) pipelines.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONResponse is the envelope written in --json mode.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the RFC 3339 time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response to w with indentation.
func (r *JSONResponse) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// PRINTER
// =============================================================================

// printer writes either the JSON envelope or styled text.
type printer struct {
	out     io.Writer
	json    bool
	command string
}

// result emits data as JSON, or calls human to render it.
func (p *printer) result(data interface{}, human func(w io.Writer)) error {
	if p.json {
		return NewJSONResponse(p.command, data).Write(p.out)
	}
	human(p.out)
	return nil
}

func (p *printer) line(s string) {
	fmt.Fprintln(p.out, s)
}

func (p *printer) field(label string, value interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", RenderLabel(label), ValueStyle.Render(fmt.Sprint(value)))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

// formatDuration renders d rounded to the second.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
