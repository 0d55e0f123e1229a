// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	top := &Message{ID: "10", ChannelID: "c"}
	require.Equal(t, ConversationKey{ChannelID: "c", RootID: "10"}, KeyFor(top))

	reply := &Message{ID: "11", ChannelID: "c", ReplyToID: "7"}
	require.Equal(t, ConversationKey{ChannelID: "c", RootID: "7"}, KeyFor(reply))
	require.Equal(t, "c/7", KeyFor(reply).String())
}

func TestTransientError(t *testing.T) {
	base := &TransientError{Op: "edit", RetryAfter: 2 * time.Second, Err: errors.New("429")}
	wrapped := fmt.Errorf("render: %w", base)

	require.True(t, IsTransient(wrapped))
	require.Equal(t, 2*time.Second, RetryAfter(wrapped))
	require.False(t, IsTransient(ErrNotFound))
	require.Zero(t, RetryAfter(ErrNotFound))
}

func TestAttachmentIsText(t *testing.T) {
	require.True(t, Attachment{ContentType: "text/plain; charset=utf-8"}.IsText())
	require.True(t, Attachment{Filename: "NOTES.MD"}.IsText())
	require.False(t, Attachment{Filename: "cat.png", ContentType: "image/png"}.IsText())
}

func TestMemorySendEditFetch(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")

	in := mem.Put(Message{ChannelID: "c", AuthorID: "u1", Content: "hello"})
	out, err := mem.Send(ctx, "c", "thinking", in.ID)
	require.NoError(t, err)
	require.Equal(t, "u1", out.ReplyToAuthorID)

	require.NoError(t, mem.Edit(ctx, "c", out.ID, "hi there"))
	got, err := mem.Fetch(ctx, "c", out.ID)
	require.NoError(t, err)
	require.Equal(t, "hi there", got.Content)
	require.Equal(t, []string{"hi there"}, mem.Edits(out.ID))

	require.ErrorIs(t, mem.Edit(ctx, "c", in.ID, "nope"), ErrForbidden)
	require.ErrorIs(t, mem.Edit(ctx, "c", "missing", "nope"), ErrNotFound)

	_, err = mem.Fetch(ctx, "other", in.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFailEdits(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")
	out, err := mem.Send(ctx, "c", "x", "")
	require.NoError(t, err)

	boom := &TransientError{Op: "edit"}
	mem.FailEdits(boom)
	require.ErrorIs(t, mem.Edit(ctx, "c", out.ID, "a"), boom)
	require.NoError(t, mem.Edit(ctx, "c", out.ID, "b"))
	require.Equal(t, []string{"b"}, mem.Edits(out.ID))
}

func TestBackoffRetriesTransient(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")
	mem.FailSends(&TransientError{Op: "send"}, &TransientError{Op: "send", RetryAfter: 2 * time.Millisecond})

	var waits []time.Duration
	b := Backoff{MaxAttempts: 3, Delay: time.Millisecond, OnRetry: func(_ int, wait time.Duration, _ error) {
		waits = append(waits, wait)
	}}
	out, err := b.Send(ctx, mem, "c", "hello", "")
	require.NoError(t, err)
	require.Equal(t, "hello", out.Content)
	require.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
	require.Len(t, mem.Sent(), 1)
}

func TestBackoffStopsOnPermanentError(t *testing.T) {
	calls := 0
	attempts, err := Backoff{Delay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return ErrForbidden
	})
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestBackoffGivesUp(t *testing.T) {
	boom := &TransientError{Op: "edit"}
	attempts, err := Backoff{MaxAttempts: 2, Delay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, attempts)
}

func TestRetryResponderNotify(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")
	trigger := mem.Put(Message{ChannelID: "c", AuthorID: "u1", Content: "!x"})
	mem.FailSends(&TransientError{Op: "send"})

	r := RetryResponder{Responder: MessageResponder{Client: mem, Trigger: &trigger}, Backoff: Backoff{Delay: time.Millisecond}}
	require.NoError(t, r.Notify(ctx, "Unknown command."))
	sent := mem.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, trigger.ID, sent[0].ReplyToID)
}

func TestMemoryShowCancel(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")
	out, err := mem.Send(ctx, "c", "x", "")
	require.NoError(t, err)
	in := mem.Put(Message{ChannelID: "c", AuthorID: "u1"})

	require.NoError(t, mem.ShowCancel(ctx, "c", out.ID, true))
	require.True(t, mem.HasCancel(out.ID))
	require.NoError(t, mem.ShowCancel(ctx, "c", out.ID, false))
	require.False(t, mem.HasCancel(out.ID))

	require.ErrorIs(t, mem.ShowCancel(ctx, "c", in.ID, true), ErrForbidden)
	require.ErrorIs(t, mem.ShowCancel(ctx, "c", "missing", true), ErrNotFound)
}

func TestMemoryHooksAndSent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")

	var sent, edited []string
	mem.OnSend = func(m Message) { sent = append(sent, m.Content) }
	mem.OnEdit = func(m Message) { edited = append(edited, m.Content) }

	mem.Put(Message{ChannelID: "c", AuthorID: "u1", Content: "question"})
	out, err := mem.Send(ctx, "c", "answer", "")
	require.NoError(t, err)
	require.NoError(t, mem.Edit(ctx, "c", out.ID, "answer!"))

	require.Equal(t, []string{"answer"}, sent)
	require.Equal(t, []string{"answer!"}, edited)
	require.Len(t, mem.Sent(), 1)
}

func TestMemoryAttachment(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("bot", "rigrun")
	mem.AddAttachment("https://cdn/x.txt", []byte("file body"))

	data, err := mem.FetchAttachment(ctx, Attachment{URL: "https://cdn/x.txt"})
	require.NoError(t, err)
	require.Equal(t, "file body", string(data))

	_, err = mem.FetchAttachment(ctx, Attachment{URL: "https://cdn/y.txt"})
	require.ErrorIs(t, err, ErrNotFound)
}
