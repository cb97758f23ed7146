// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)
	return s
}

// =============================================================================
// SEALER TESTS
// =============================================================================

func TestSealer_RoundTrip(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.SealString("JBSWY3DPEHPK3PXP", "identity-1")
	require.NoError(t, err)
	require.True(t, IsEncrypted(sealed))
	require.NotContains(t, sealed, "JBSWY3DPEHPK3PXP")

	plain, err := s.OpenString(sealed, "identity-1")
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", plain)
}

func TestSealer_NoncesDiffer(t *testing.T) {
	s := newTestSealer(t)

	a, err := s.Seal([]byte("same"), "x")
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"), "x")
	require.NoError(t, err)
	require.False(t, bytes.Equal(a, b))
}

func TestSealer_OpenFailures(t *testing.T) {
	s := newTestSealer(t)
	sealed, err := s.SealString("secret", "identity-1")
	require.NoError(t, err)

	other := newTestSealer(t)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, EncryptedPrefix))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := EncryptedPrefix + base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name   string
		sealer *Sealer
		value  string
		aad    string
		want   error
	}{
		{"wrong owner", s, sealed, "identity-2", ErrDecryptionFailed},
		{"wrong key", other, sealed, "identity-1", ErrDecryptionFailed},
		{"tampered", s, tampered, "identity-1", ErrDecryptionFailed},
		{"plaintext", s, "secret", "identity-1", ErrInvalidCiphertext},
		{"bad base64", s, EncryptedPrefix + "!!!", "identity-1", ErrInvalidCiphertext},
		{"too short", s, EncryptedPrefix + base64.StdEncoding.EncodeToString([]byte("abc")), "identity-1", ErrInvalidCiphertext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.sealer.OpenString(tt.value, tt.aad)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewSealer_RejectsShortKey(t *testing.T) {
	_, err := NewSealer(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidKey)
}

// =============================================================================
// KEY TESTS
// =============================================================================

func TestParseKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	got, err := ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	require.Equal(t, key, got)

	got, err = ParseKey(" " + base64.StdEncoding.EncodeToString(key) + "\n")
	require.NoError(t, err)
	require.Equal(t, key, got)

	_, err = ParseKey("")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseKey(hex.EncodeToString(key[:10]))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")
	a := DeriveKey("correct horse", salt)
	b := DeriveKey("correct horse", salt)
	c := DeriveKey("correct horsf", salt)

	require.Len(t, a, KeySize)
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestZeroBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	ZeroBytes(b)
	require.Equal(t, []byte{0, 0, 0}, b)
}
