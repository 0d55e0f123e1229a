// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history assembles conversation context from reply chains.
//
// Starting at the triggering message, the Assembler follows "replied to"
// links through the chat client and keeps the newest turns that fit the
// budget. Older turns are dropped whole; only a newest turn that is too large
// on its own is cut. A message that cannot be fetched (deleted, too old)
// ends the walk without failing the request.
//
// # Key Types
//
//   - Assembler: builds a Window per request, no caching
//   - Window: oldest-first turns plus truncation diagnostics
//   - Sizer: the budget metric, RuneSizer ("chars") or TokenSizer ("tokens")
//   - UnavailableError: a failed predecessor lookup
package history
