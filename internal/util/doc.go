// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by lexguard packages.
//
//   - AtomicWriteFile / AtomicWriteFileWithDir: crash-safe writes for key,
//     config and QR files
//   - TruncateWidth: column-aware truncation for table output
package util
