// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"
)

// =============================================================================
// BACKOFF
// =============================================================================

// Backoff retries transient platform failures with exponential delays.
// The zero value uses the defaults.
type Backoff struct {
	// MaxAttempts bounds attempts per operation (default: 4)
	MaxAttempts int

	// Delay is the first backoff delay, doubled per attempt (default: 500ms)
	Delay time.Duration

	// OnRetry, if set, is called before each wait
	OnRetry func(attempt int, wait time.Duration, err error)
}

func (b Backoff) withDefaults() Backoff {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 4
	}
	if b.Delay <= 0 {
		b.Delay = 500 * time.Millisecond
	}
	return b
}

// Do calls op until it succeeds, fails with an error that is not transient,
// or runs out of attempts, and returns the number of attempts made. A
// platform-requested delay overrides a shorter backoff. If ctx ends while
// waiting, ctx.Err() is returned.
func (b Backoff) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	b = b.withDefaults()
	delay := b.Delay
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !IsTransient(err) || attempt >= b.MaxAttempts {
			return attempt, err
		}

		wait := delay
		if after := RetryAfter(err); after > wait {
			wait = after
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
		delay *= 2
	}
}

// Send posts a message through c, retrying transient failures.
func (b Backoff) Send(ctx context.Context, c Client, channelID, content, replyTo string) (*Message, error) {
	var msg *Message
	_, err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = c.Send(ctx, channelID, content, replyTo)
		return err
	})
	return msg, err
}

// RetryResponder retries the calls of the Responder it wraps.
type RetryResponder struct {
	Responder
	Backoff Backoff
}

// Reply implements Responder.
func (r RetryResponder) Reply(ctx context.Context, content string) (*Message, error) {
	var msg *Message
	_, err := r.Backoff.Do(ctx, func(ctx context.Context) error {
		var err error
		msg, err = r.Responder.Reply(ctx, content)
		return err
	})
	return msg, err
}

// Notify implements Responder.
func (r RetryResponder) Notify(ctx context.Context, content string) error {
	_, err := r.Backoff.Do(ctx, func(ctx context.Context) error {
		return r.Responder.Notify(ctx, content)
	})
	return err
}
