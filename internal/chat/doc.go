// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat defines the platform-neutral view of a chat service.
//
// Everything above the platform adapters (the bot, the context assembler and
// the response renderer) talks to a chat platform through the Client
// interface declared here, so the same core runs against Discord, the local
// console, or the in-memory client used by tests.
//
// # Key Types
//
//   - Message: an inbound or outbound chat message with its reply reference
//   - ConversationKey: identity of a logical thread (channel + root message)
//   - Client: send / edit / fetch / attachment download
//   - TransientError: retryable platform failure (network, rate limit)
//   - Memory: in-memory Client implementation
//
// # Errors
//
// Adapters map their failures onto ErrNotFound, ErrForbidden or
// *TransientError. Use IsTransient to decide whether an operation may be
// retried.
package chat
