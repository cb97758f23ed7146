// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package classification

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// shortTerm is the length below which a dictionary term only matches a
// whole key or a key suffix. Shorter terms ("ssn", "dob") appear inside
// unrelated words too often for substring matching.
const shortTerm = 5

// =============================================================================
// DICTIONARY
// =============================================================================

// Dictionary maps normalised field names to levels.
type Dictionary map[string]Level

// DefaultDictionary returns the built-in sensitivity dictionary for legal
// practice data.
func DefaultDictionary() Dictionary {
	d := Dictionary{}
	d.add(LevelSecret,
		"ssn", "socialSecurityNumber", "taxId", "itin", "employerIdNumber",
		"bankAccount", "accountNumber", "routingNumber", "iban", "swift",
		"creditCard", "cardNumber", "cvv", "passportNumber", "driversLicense",
		"nationalId", "alienNumber",
	)
	d.add(LevelConfidential,
		"medical", "diagnosis", "prescription", "healthRecord", "treatment",
		"privileged", "attorneyClient", "workProduct", "settlementAmount",
		"dateOfBirth", "dob", "homeAddress", "phoneNumber", "personalEmail",
		"salary", "criminalHistory",
	)
	return d
}

func (d Dictionary) add(level Level, terms ...string) {
	for _, t := range terms {
		d[NormalizeKey(t)] = level
	}
}

// Lookup returns the level for a field key. A key matches a term when it
// equals it, ends with it, or (for terms of five or more characters)
// contains it. The highest matching level wins; no match is LevelInternal.
func (d Dictionary) Lookup(key string) Level {
	k := NormalizeKey(key)
	if level, ok := d[k]; ok {
		return level
	}
	best := LevelInternal
	for term, level := range d {
		if level <= best {
			continue
		}
		if strings.HasSuffix(k, term) || (len(term) >= shortTerm && strings.Contains(k, term)) {
			best = level
		}
	}
	return best
}

// Terms returns the dictionary entries at level, sorted.
func (d Dictionary) Terms(level Level) []string {
	var out []string
	for term, l := range d {
		if l == level {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeKey folds a field name for lookup: compatibility decomposition,
// combining marks dropped, lower case, separators removed.
func NormalizeKey(key string) string {
	decomposed, _, err := transform.String(norm.NFKD, key)
	if err != nil {
		decomposed = key
	}
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range strings.ToLower(decomposed) {
		switch {
		case r >= 0x300 && r <= 0x36f:
		case r == '_' || r == '-' || r == '.' || r == ' ':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// =============================================================================
// DICTIONARY FILES
// =============================================================================

// dictionaryFile is the YAML layout:
//
//	secret:
//	  - bankAccount
//	confidential:
//	  - diagnosis
type dictionaryFile map[string][]string

// ParseDictionary parses a YAML dictionary. Level names are those accepted
// by ParseLevel; an empty document yields an empty dictionary.
func ParseDictionary(data []byte) (Dictionary, error) {
	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse classification dictionary: %w", err)
	}
	d := Dictionary{}
	for name, terms := range file {
		level, err := ParseLevel(name)
		if err != nil {
			return nil, err
		}
		for _, t := range terms {
			if strings.TrimSpace(t) == "" {
				return nil, fmt.Errorf("parse classification dictionary: empty field name under %s", level)
			}
			k := NormalizeKey(t)
			if prev, ok := d[k]; ok && prev > level {
				continue
			}
			d[k] = level
		}
	}
	return d, nil
}

// LoadDictionary reads a YAML dictionary from path.
func LoadDictionary(path string) (Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classification dictionary: %w", err)
	}
	return ParseDictionary(data)
}
