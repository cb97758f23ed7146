// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classification provides sensitivity levels and field redaction.
//
// This package supports NIST 800-53 AC-4 (Information Flow Enforcement)
// and AC-3 for data returned to a caller.
//
// # Levels
//
// Three levels are defined, lowest to highest:
//   - internal: the default for anything not in the dictionary
//   - confidential: medical, privileged-communication and contact data
//   - secret: government and financial identifiers
//
// The same order is used for identity clearances, so a viewer sees a field
// only when the viewer's clearance dominates the field's level.
//
// # Dictionary
//
// Fields are classified by key name. Keys are normalised before lookup, so
// "bankAccount", "bank_account" and "Bank-Account" are the same entry:
//
//	c := classification.NewClassifier(classification.DefaultDictionary())
//	level := c.Classify(payload) // highest level of any key
//
// Deployments can replace the dictionary with a YAML file:
//
//	dict, err := classification.LoadDictionary("/etc/lexguard/fields.yaml")
//
// # Redaction
//
// Redact returns a deep copy of the payload in which every field above the
// viewer's clearance is replaced with Marker. Nested objects and arrays are
// walked; the input is never modified:
//
//	out := c.Redact(payload, classification.LevelInternal)
package classification
