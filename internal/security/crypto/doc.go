// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package crypto seals secrets at rest.
//
// TOTP secrets and MFA backup codes are stored as
//
//	ENC:base64(nonce || ciphertext || tag)
//
// using AES-256-GCM. Each value is bound to its owner through the GCM
// additional data, so a ciphertext copied onto another identity's row will
// not open.
//
// Keys come from one of:
//   - a 32-byte key encoded as hex or base64 (ParseKey)
//   - a passphrase and salt run through PBKDF2-SHA-256 (DeriveKey)
//   - a fresh random key (GenerateKey)
//
//	sealer, err := crypto.NewSealer(key)
//	if err != nil {
//	    return err
//	}
//	stored, err := sealer.SealString(secret, identityID)
//	secret, err := sealer.OpenString(stored, identityID)
package crypto
