// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classification provides sensitivity levels and field redaction.
//
// This file implements AC-4 (Information Flow Enforcement) for payloads
// leaving the core.
package classification

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/logging"
	"github.com/jeranaias/lexguard/internal/metrics"
)

// Marker replaces redacted values.
const Marker = "[REDACTED]"

// =============================================================================
// CLASSIFIER
// =============================================================================

// Classifier assigns levels to payloads and redacts them for a viewer.
// It is immutable and safe for concurrent use.
type Classifier struct {
	dict    Dictionary
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Classifier) { c.logger = logging.OrNop(logger) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// NewClassifier creates a classifier over dict. A nil dict uses
// DefaultDictionary.
func NewClassifier(dict Dictionary, opts ...Option) *Classifier {
	if dict == nil {
		dict = DefaultDictionary()
	}
	c := &Classifier{dict: dict, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClassifyField returns the level of a single field key.
func (c *Classifier) ClassifyField(key string) Level {
	return c.dict.Lookup(key)
}

// Classify returns the highest level of any key in payload, walking nested
// objects and arrays. A payload with no sensitive keys is LevelInternal.
func (c *Classifier) Classify(payload any) Level {
	return c.classify(payload)
}

func (c *Classifier) classify(v any) Level {
	best := LevelInternal
	switch t := normalize(v).(type) {
	case map[string]any:
		for k, child := range t {
			if l := c.dict.Lookup(k); l > best {
				best = l
			}
			if best == MaxLevel {
				return best
			}
			if l := c.classify(child); l > best {
				best = l
			}
		}
	case []any:
		for _, child := range t {
			if l := c.classify(child); l > best {
				best = l
			}
		}
	}
	return best
}

// Redact returns a copy of payload in which every field whose level
// exceeds viewer is replaced with Marker. The input is not modified.
// Redacting an already redacted payload at the same level changes nothing.
func (c *Classifier) Redact(payload any, viewer Level) any {
	out, n := c.redact(payload, viewer)
	if n > 0 {
		c.metrics.Redacted(n)
		c.logger.Debug("AC-4: fields redacted",
			zap.Stringer("viewer", viewer),
			zap.Int("count", n),
		)
	}
	return out
}

func (c *Classifier) redact(v any, viewer Level) (any, int) {
	switch t := normalize(v).(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		total := 0
		for k, child := range t {
			if !viewer.Dominates(c.dict.Lookup(k)) {
				out[k] = Marker
				total++
				continue
			}
			redacted, n := c.redact(child, viewer)
			out[k] = redacted
			total += n
		}
		return out, total
	case []any:
		out := make([]any, len(t))
		total := 0
		for i, child := range t {
			redacted, n := c.redact(child, viewer)
			out[i] = redacted
			total += n
		}
		return out, total
	default:
		return t, 0
	}
}

// normalize converts payload into the generic JSON shape (maps, slices and
// scalars). Typed maps, slices and structs are converted through their JSON
// encoding; values that cannot be encoded are treated as opaque scalars.
// Numbers decode as json.Number so that integers beyond 2^53 keep their
// exact value.
func normalize(payload any) any {
	switch t := payload.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return t
	case map[string]any:
		return t
	case []any:
		return t
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return payload
	}
	return out
}
