// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/lexguard/internal/security/crypto"
	"github.com/jeranaias/lexguard/internal/util"
)

// =============================================================================
// CHAIN KEY LOADING
// =============================================================================

// KeySource indicates where the chain key was loaded from.
type KeySource string

const (
	KeySourceEnvVar  KeySource = "environment_variable"
	KeySourceEnvFile KeySource = "env_file_path"
	KeySourceNone    KeySource = "not_loaded"
)

const (
	// DefaultKeyEnvVar holds the hex or base64 chain key.
	DefaultKeyEnvVar = "LEXGUARD_AUDIT_KEY"

	// KeySize is the HMAC key size in bytes (256 bits).
	KeySize = 32
)

// ErrNoKey is returned when no chain key is configured. Keys are never
// generated implicitly.
var ErrNoKey = errors.New("no audit chain key configured")

// LoadKey reads the chain key. envVar holds the key itself (hex or
// base64); envVar+"_FILE" names a file holding it, either raw or encoded.
func LoadKey(envVar string) ([]byte, KeySource, error) {
	if envVar == "" {
		envVar = DefaultKeyEnvVar
	}

	if encoded := os.Getenv(envVar); encoded != "" {
		key, err := crypto.ParseKey(encoded)
		if err != nil {
			return nil, KeySourceNone, fmt.Errorf("audit key in %s: %w", envVar, err)
		}
		return key, KeySourceEnvVar, nil
	}

	fileVar := envVar + "_FILE"
	if path := os.Getenv(fileVar); path != "" {
		key, err := readKeyFile(path)
		if err != nil {
			return nil, KeySourceNone, fmt.Errorf("audit key file %s: %w", path, err)
		}
		return key, KeySourceEnvFile, nil
	}

	return nil, KeySourceNone, fmt.Errorf("%w: set %s (hex-encoded %d-byte key) or %s",
		ErrNoKey, envVar, KeySize, fileVar)
}

func readKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == KeySize {
		return data, nil
	}
	return crypto.ParseKey(strings.TrimSpace(string(data)))
}

// GenerateKeyFile writes a new hex-encoded chain key to path with 0600
// permissions.
func GenerateKeyFile(path string) error {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate audit key: %w", err)
	}
	defer crypto.ZeroBytes(key)

	if err := util.AtomicWriteFileWithDir(path, []byte(hex.EncodeToString(key)+"\n"), 0600, 0700); err != nil {
		return fmt.Errorf("write audit key: %w", err)
	}
	return nil
}

// Fingerprint identifies a key without revealing it.
func Fingerprint(key []byte) string {
	mac := computeMAC(key, nil, []byte("lexguard-audit-key-fingerprint"))
	return mac[:8]
}
