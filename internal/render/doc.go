// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render streams generated text into a chat message.
//
// A Render call reads job events in order and keeps the accumulated text in
// a StreamState. One editor goroutine applies edits to the outbound message,
// throttled by a rate.Limiter to one per interval; when tokens arrive faster
// than that, intermediate states are skipped and the next edit shows
// everything received so far. The terminal event always produces one final
// edit carrying the full text, plus a marker when the job was canceled or
// failed. Over a stream of duration T with interval I this is at most
// ceil(T/I)+1 edits.
//
// # Key Types
//
//   - Renderer: throttled, retrying editor shared by all jobs
//   - StreamState: accumulated text, last rendered text, edit bookkeeping
//   - Formatter: PlainFormatter for conversations, CommandFormatter for commands
//   - Outcome: final state, text, token and edit counts
//
// # Usage
//
//	r := render.New(render.Options{Interval: cfg.Inference.UpdateInterval()}, logger)
//	outcome, err := r.Render(ctx, job, render.MessageTarget{Client: c, ChannelID: ch, MessageID: id},
//	    render.CommandFormatter{Prompt: "Describe a sunset", MaxLength: render.DiscordMaxLength})
package render
