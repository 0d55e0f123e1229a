// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bot turns platform events into inference jobs.
//
// A message that starts with the command prefix is a command; "stop" is
// reserved and cancels the author's generations in that channel. A message
// that mentions the bot, replies to one of its messages or arrives in a
// direct message continues a conversation: the reply chain is assembled
// into a bounded prompt and the answer is streamed into a new reply.
//
// Each response gets its own placeholder message before its job is
// submitted, and one Render call streams the job into it. A conversation
// job is keyed by its reply chain, so a second message in the same chain
// supersedes the first; a command job is keyed by its own response.
//
// # Key Types
//
//   - Bot: the event router; one per process
//   - Invocation: a command call from a slash command or a prefix command
//   - Overrides: per-call sampling parameters
package bot
