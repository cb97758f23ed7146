// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// VIOLATIONS
// =============================================================================

// Rule identifies a password policy rule.
type Rule string

const (
	RuleMinLength  Rule = "min_length"
	RuleMaxLength  Rule = "max_length"
	RuleUpper      Rule = "uppercase"
	RuleLower      Rule = "lowercase"
	RuleDigit      Rule = "digit"
	RuleSymbol     Rule = "symbol"
	RuleRepeat     Rule = "repeated_characters"
	RuleSequence   Rule = "sequential_characters"
	RuleDenyList   Rule = "deny_list"
	RuleReused     Rule = "reused"
	RuleWhitespace Rule = "surrounding_whitespace"
)

// Violation is one failed rule. Message is safe to show to the user.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.Message }

// =============================================================================
// POLICY
// =============================================================================

// Policy holds the password rules.
type Policy struct {
	MinLength     int  `toml:"min_length"`
	MaxLength     int  `toml:"max_length"` // bytes; bcrypt ignores input past 72
	RequireUpper  bool `toml:"require_upper"`
	RequireLower  bool `toml:"require_lower"`
	RequireDigit  bool `toml:"require_digit"`
	RequireSymbol bool `toml:"require_symbol"`

	// MaxRepeat rejects runs of this many identical characters.
	MaxRepeat int `toml:"max_repeat"`

	// SequenceLength rejects ascending or descending runs (abc, 321) and
	// keyboard-row runs (qwe) of this length.
	SequenceLength int `toml:"sequence_length"`

	// DenyWords extends the built-in list of common passwords with
	// organisation-specific words.
	DenyWords []string `toml:"deny_words"`

	// ReuseWindow is the number of most recent passwords, the current one
	// included, that may not be chosen again.
	ReuseWindow int `toml:"reuse_window"`

	Algorithm  string `toml:"algorithm"` // "bcrypt" or "argon2id"
	BcryptCost int    `toml:"bcrypt_cost"`
}

// DefaultPolicy returns the default rules.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      12,
		MaxLength:      72,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSymbol:  true,
		MaxRepeat:      3,
		SequenceLength: 3,
		ReuseWindow:    5,
		Algorithm:      AlgorithmBcrypt,
		BcryptCost:     DefaultBcryptCost,
	}
}

// commonPasswords is the built-in deny list. Entries are compared after
// case and leetspeak folding.
var commonPasswords = []string{
	"password", "passw0rd", "welcome", "letmein", "admin", "administrator",
	"qwerty", "iloveyou", "monkey", "dragon", "football", "baseball",
	"master", "sunshine", "princess", "login", "trustno1", "abc123",
	"changeme", "secret", "default", "summer", "winter", "spring", "autumn",
	"counsel", "attorney", "paralegal", "legal", "justice",
}

var keyboardRows = []string{
	"`1234567890-=",
	"qwertyuiop[]\\",
	"asdfghjkl;'",
	"zxcvbnm,./",
}

var leet = strings.NewReplacer(
	"@", "a", "4", "a",
	"8", "b",
	"3", "e",
	"6", "g", "9", "g",
	"1", "i", "!", "i", "|", "i",
	"0", "o",
	"5", "s", "$", "s",
	"7", "t", "+", "t",
	"2", "z",
)

var folder = cases.Fold()

// Normalize applies NFKC so that visually identical inputs hash the same.
func Normalize(candidate string) string {
	return norm.NFKC.String(candidate)
}

// foldWord lower-cases and undoes common character substitutions.
func foldWord(s string) string {
	return leet.Replace(folder.String(s))
}

// Validate checks candidate against every rule and returns all violations.
// It has no side effects.
func (p Policy) Validate(candidate string) []Violation {
	var out []Violation
	add := func(r Rule, format string, args ...any) {
		out = append(out, Violation{Rule: r, Message: fmt.Sprintf(format, args...)})
	}

	if candidate != strings.TrimSpace(candidate) {
		add(RuleWhitespace, "must not begin or end with whitespace")
	}

	pw := Normalize(candidate)
	if n := utf8.RuneCountInString(pw); n < p.MinLength {
		add(RuleMinLength, "must be at least %d characters", p.MinLength)
	}
	if p.MaxLength > 0 && len(pw) > p.MaxLength {
		add(RuleMaxLength, "must be at most %d bytes", p.MaxLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if p.RequireUpper && !upper {
		add(RuleUpper, "must contain an uppercase letter")
	}
	if p.RequireLower && !lower {
		add(RuleLower, "must contain a lowercase letter")
	}
	if p.RequireDigit && !digit {
		add(RuleDigit, "must contain a digit")
	}
	if p.RequireSymbol && !symbol {
		add(RuleSymbol, "must contain a symbol")
	}

	if p.MaxRepeat > 1 && hasRepeat(pw, p.MaxRepeat) {
		add(RuleRepeat, "must not repeat a character %d or more times in a row", p.MaxRepeat)
	}
	if p.SequenceLength > 1 && hasSequence(folder.String(pw), p.SequenceLength) {
		add(RuleSequence, "must not contain sequences such as abc, 321 or qwe")
	}
	if word, ok := p.deniedWord(pw); ok {
		add(RuleDenyList, "must not contain a common or organisation word (%s)", word)
	}
	return out
}

func hasRepeat(s string, n int) bool {
	run := 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run >= n {
			return true
		}
	}
	return false
}

// hasSequence reports ascending/descending code point runs among letters
// and digits, and substrings of keyboard rows, of length n.
func hasSequence(s string, n int) bool {
	runes := []rune(s)
	up, down := 1, 1
	for i := 1; i < len(runes); i++ {
		a, b := runes[i-1], runes[i]
		if !sequential(a) || !sequential(b) {
			up, down = 1, 1
			continue
		}
		switch b - a {
		case 1:
			up++
			down = 1
		case -1:
			down++
			up = 1
		default:
			up, down = 1, 1
		}
		if up >= n || down >= n {
			return true
		}
	}

	if len(runes) < n {
		return false
	}
	for _, row := range keyboardRows {
		rr := []rune(row)
		for i := 0; i+n <= len(rr); i++ {
			chunk := string(rr[i : i+n])
			if strings.Contains(s, chunk) || strings.Contains(s, reverse(chunk)) {
				return true
			}
		}
	}
	return false
}

func sequential(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// deniedWord returns the first deny-list word contained in pw, comparing
// both the case-folded and the leetspeak-folded forms.
func (p Policy) deniedWord(pw string) (string, bool) {
	plain := folder.String(pw)
	folded := foldWord(pw)
	check := func(word string) bool {
		w := folder.String(strings.TrimSpace(word))
		if len(w) < 4 {
			return false
		}
		return strings.Contains(plain, w) || strings.Contains(folded, foldWord(w))
	}
	for _, w := range p.DenyWords {
		if check(w) {
			return w, true
		}
	}
	for _, w := range commonPasswords {
		if check(w) {
			return w, true
		}
	}
	return "", false
}
