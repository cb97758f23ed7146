// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// HASHERS
// =============================================================================

// Algorithms accepted in Policy.Algorithm.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// DefaultBcryptCost is the minimum work factor accepted.
const DefaultBcryptCost = 12

// ErrUnknownAlgorithm is returned for an unsupported Policy.Algorithm.
var ErrUnknownAlgorithm = errors.New("unknown password hash algorithm")

// Argon2id parameters.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Hasher produces and checks password digests.
type Hasher interface {
	Hash(candidate string) (string, error)
	Verify(candidate, digest string) bool
}

// NewHasher returns the hasher for algorithm.
func NewHasher(algorithm string, bcryptCost int) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmBcrypt:
		if bcryptCost < DefaultBcryptCost {
			bcryptCost = DefaultBcryptCost
		}
		return bcryptHasher{cost: bcryptCost}, nil
	case AlgorithmArgon2id:
		return argon2Hasher{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}
}

type bcryptHasher struct {
	cost int
}

func (h bcryptHasher) Hash(candidate string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(candidate), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(b), nil
}

func (bcryptHasher) Verify(candidate, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(candidate)) == nil
}

// argon2Hasher encodes digests as
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>.
type argon2Hasher struct{}

func (argon2Hasher) Hash(candidate string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	key := argon2.IDKey([]byte(candidate), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (argon2Hasher) Verify(candidate, digest string) bool {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(candidate), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// verifyAny checks digest with whichever algorithm produced it, so a
// history spanning an algorithm change still matches.
func verifyAny(candidate, digest string) bool {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return argon2Hasher{}.Verify(candidate, digest)
	case strings.HasPrefix(digest, "$2"):
		return bcryptHasher{}.Verify(candidate, digest)
	default:
		return false
	}
}
