// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package console runs the bot against the local terminal.
//
// Every operator line is a direct message on an in-memory platform, so the
// console exercises the same routing, queueing and rendering as Discord.
// "/name args" invokes a command, "/stop" cancels, "/quit" exits, and any
// other line continues the conversation with the last response.
package console
