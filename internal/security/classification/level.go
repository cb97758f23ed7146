// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classification

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// CLEARANCE LEVELS
// =============================================================================

// Level is a sensitivity tier. The same order applies to identity clearances
// and to data fields: a viewer may see a field only when the viewer's level
// dominates the field's level.
type Level int

const (
	// LevelInternal is the lowest tier and the default for unrecognised data.
	LevelInternal Level = iota

	// LevelConfidential covers medical, privileged-communication and
	// personal contact data.
	LevelConfidential

	// LevelSecret covers government and financial identifiers.
	LevelSecret
)

// MaxLevel is the highest defined level.
const MaxLevel = LevelSecret

// ErrInvalidLevel is returned when a level name cannot be parsed.
var ErrInvalidLevel = errors.New("invalid clearance level")

var levelNames = map[Level]string{
	LevelInternal:     "internal",
	LevelConfidential: "confidential",
	LevelSecret:       "secret",
}

// String returns the canonical lower-case name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Color returns the banner colour for the level.
func (l Level) Color() lipgloss.Color {
	switch l {
	case LevelSecret:
		return lipgloss.Color("#C8102E")
	case LevelConfidential:
		return lipgloss.Color("#0033A0")
	default:
		return lipgloss.Color("#007A33")
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= LevelInternal && l <= MaxLevel
}

// Dominates reports whether l is at least as high as other.
func (l Level) Dominates(other Level) bool {
	return l >= other
}

// ParseLevel parses a level name. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for level, name := range levelNames {
		if name == key {
			return level, nil
		}
	}
	return LevelInternal, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Levels returns every defined level from lowest to highest.
func Levels() []Level {
	return []Level{LevelInternal, LevelConfidential, LevelSecret}
}
