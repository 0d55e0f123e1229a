// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by rigrun-bot packages.
//
// # Key Functions
//
//   - TruncateRunes, TruncateRunesNoEllipsis: UTF-8 safe truncation
//   - RuneLen: length in characters, the unit of Discord's message limit
//   - AtomicWriteFile: crash-safe file writing with fsync, used for the
//     config template
//
// # Usage
//
//	reply := util.TruncateRunes(text, 2000)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
