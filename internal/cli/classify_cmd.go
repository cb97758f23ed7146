// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// classify_cmd.go - Field classification and redaction commands.
//
// Both commands read one JSON document from a file or stdin and work
// offline against the configured dictionary:
//
//	lexguard classify client.json
//	lexguard redact --clearance confidential < client.json
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/lexguard/internal/security/classification"
)

// readPayload decodes one JSON document from path, or from in when path
// is empty or "-".
func readPayload(in io.Reader, args []string) (any, error) {
	src := in
	name := "stdin"
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, NewCommandError("classify", "read", args[0], err)
		}
		defer f.Close()
		src, name = f, args[0]
	}
	dec := json.NewDecoder(src)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, NewValidationError("payload", name, "not a JSON document: "+err.Error())
	}
	return payload, nil
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:     "classify [file]",
		Aliases: []string{"class"},
		Short:   "Report the highest classification level in a JSON document",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(opts.cfg)
			defer func() { _ = logger.Sync() }()
			c, err := newClassifier(opts.cfg, logger, nil)
			if err != nil {
				return NewCommandError("classify", "load dictionary", opts.cfg.Classification.DictionaryPath, err)
			}

			p := opts.printer(cmd)
			if len(fields) > 0 {
				levels := make(map[string]classification.Level, len(fields))
				for _, f := range fields {
					levels[f] = c.ClassifyField(f)
				}
				return p.result(levels, func(w io.Writer) {
					for _, f := range fields {
						p.line(RenderLabel(f) + " " + RenderLevel(levels[f]))
					}
				})
			}

			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			level := c.Classify(payload)
			return p.result(map[string]classification.Level{"level": level}, func(w io.Writer) {
				p.line(RenderLabel("Classification:") + " " + RenderLevel(level))
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "classify field names instead of a document (repeatable)")
	return cmd
}

func newRedactCmd(opts *rootOptions) *cobra.Command {
	var clearance string
	cmd := &cobra.Command{
		Use:   "redact [file]",
		Short: "Replace fields above a clearance with the redaction marker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewer, err := classification.ParseLevel(clearance)
			if err != nil {
				return NewValidationErrorWithExample("clearance", clearance, err.Error(), "internal, confidential, secret")
			}
			logger := newLogger(opts.cfg)
			defer func() { _ = logger.Sync() }()
			c, err := newClassifier(opts.cfg, logger, nil)
			if err != nil {
				return NewCommandError("redact", "load dictionary", opts.cfg.Classification.DictionaryPath, err)
			}
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			out := c.Redact(payload, viewer)
			p := opts.printer(cmd)
			if p.json {
				return p.result(out, nil)
			}
			enc := json.NewEncoder(p.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write redacted payload: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clearance, "clearance", "internal", "viewer clearance")
	return cmd
}
