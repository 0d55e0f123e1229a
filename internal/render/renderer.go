// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/jobs"
)

// =============================================================================
// PORTS
// =============================================================================

// Source is the event stream of one job. *jobs.Job implements it.
type Source interface {
	Next(ctx context.Context) (jobs.Event, error)
	Cancel() bool
}

// Target is the outbound message being streamed into.
type Target interface {
	Edit(ctx context.Context, content string) error
}

// MessageTarget edits a message through a chat.Client.
type MessageTarget struct {
	Client    chat.Client
	ChannelID string
	MessageID string
}

// Edit implements Target.
func (t MessageTarget) Edit(ctx context.Context, content string) error {
	return t.Client.Edit(ctx, t.ChannelID, t.MessageID, content)
}

// ShowCancel implements CancelControl. It is a no-op when the client has
// no cancel button.
func (t MessageTarget) ShowCancel(ctx context.Context, show bool) error {
	if c, ok := t.Client.(chat.CancelControls); ok {
		return c.ShowCancel(ctx, t.ChannelID, t.MessageID, show)
	}
	return nil
}

// CancelControl is implemented by targets that can show a cancel button
// while a response streams.
type CancelControl interface {
	ShowCancel(ctx context.Context, show bool) error
}

// =============================================================================
// ERRORS
// =============================================================================

// EditError reports an edit that could not be delivered.
type EditError struct {
	Attempts int
	Err      error
}

func (e *EditError) Error() string {
	return fmt.Sprintf("edit failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// =============================================================================
// RENDERER
// =============================================================================

// Options configure a Renderer.
type Options struct {
	// Interval is the minimum time between edits (default: 250ms)
	Interval time.Duration

	// MaxAttempts bounds delivery attempts per edit (default: 4)
	MaxAttempts int

	// RetryDelay is the first backoff delay, doubled per attempt (default: 500ms)
	RetryDelay time.Duration

	// FinalTimeout bounds the final edit when the render context is already
	// done (default: 10s)
	FinalTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 250 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.FinalTimeout <= 0 {
		o.FinalTimeout = 10 * time.Second
	}
}

// Outcome summarizes a finished render.
type Outcome struct {
	State  State
	Text   string
	Tokens int
	Edits  int
	// Err is the job error for Failed generations
	Err error
}

// Renderer streams job output into a message. One Renderer serves any
// number of concurrent Render calls; each call owns its own StreamState.
type Renderer struct {
	opts    Options
	backoff chat.Backoff
	logger  *zap.Logger
}

// New creates a Renderer.
func New(opts Options, logger *zap.Logger) *Renderer {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		opts: opts,
		backoff: chat.Backoff{
			MaxAttempts: opts.MaxAttempts,
			Delay:       opts.RetryDelay,
			OnRetry: func(attempt int, wait time.Duration, err error) {
				logger.Debug("retrying edit",
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err))
			},
		},
		logger: logger,
	}
}

// Render consumes source until its terminal event, editing target at most
// once per interval, then applies one final edit with the full text. The
// placeholder is assumed to be on screen already, so the first streaming
// edit waits one interval.
//
// When an edit fails for good the job is canceled and the outcome is
// Failed. When ctx ends first the job is canceled and ctx.Err() returned.
func (r *Renderer) Render(ctx context.Context, source Source, target Target, f Formatter) (*Outcome, error) {
	state := newStreamState()
	limiter := rate.NewLimiter(rate.Every(r.opts.Interval), 1)
	limiter.Allow() // spent by the placeholder

	editCtx, stopEditor := context.WithCancel(ctx)
	defer stopEditor()

	kick := make(chan struct{}, 1)
	editorDone := make(chan error, 1)
	go func() {
		err := r.editLoop(editCtx, limiter, state, target, f, kick)
		if err != nil {
			source.Cancel()
		}
		editorDone <- err
	}()

	var (
		final    jobs.Event
		editErr  error
		editorUp = true
		ctxErr   error
	)

loop:
	for {
		if editorUp {
			select {
			case err := <-editorDone:
				editorUp = false
				if err != nil {
					editErr = err
					r.logger.Warn("streaming edit failed, job canceled", zap.Error(err))
				}
			default:
			}
		}

		ev, err := source.Next(ctx)
		if err != nil {
			ctxErr = err
			source.Cancel()
			final = jobs.Event{Kind: jobs.EventCanceled}
			break
		}

		switch ev.Kind {
		case jobs.EventToken:
			state.append(ev.Token)
			select {
			case kick <- struct{}{}:
			default:
			}
		default:
			final = ev
			break loop
		}
	}

	stopEditor()
	if editorUp {
		if err := <-editorDone; err != nil {
			editErr = err
		}
	}

	outcome := &Outcome{Text: state.Text(), Tokens: state.Tokens()}
	switch final.Kind {
	case jobs.EventCompleted:
		outcome.State = Completed
	case jobs.EventCanceled:
		outcome.State = Canceled
	default:
		outcome.State = Failed
		outcome.Err = final.Err
	}
	if editErr != nil {
		outcome.State = Failed
		outcome.Err = editErr
	}
	state.setState(outcome.State)

	// The final edit always runs, even after a failed streaming edit: a
	// transient outage may have passed.
	finalCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		finalCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.opts.FinalTimeout)
		defer cancel()
	}
	content := f.Format(outcome.Text, outcome.State, outcome.Err)
	if err := r.edit(finalCtx, target, content); err != nil {
		r.logger.Warn("final edit failed", zap.Error(err))
		if outcome.Err == nil {
			outcome.Err = err
		}
		outcome.State = Failed
		state.setState(Failed)
		outcome.Edits = state.Edits()
		if ctxErr != nil {
			return outcome, ctxErr
		}
		return outcome, err
	}
	state.markRendered(outcome.Text, time.Now())
	outcome.Edits = state.Edits()

	if ctxErr != nil {
		return outcome, ctxErr
	}
	if editErr != nil {
		return outcome, editErr
	}
	return outcome, nil
}

// editLoop is the single goroutine that performs streaming edits, in order.
// Bursts of tokens between edits coalesce: the text is read at send time.
func (r *Renderer) editLoop(ctx context.Context, limiter *rate.Limiter, state *StreamState, target Target, f Formatter, kick <-chan struct{}) error {
	for {
		select {
		case <-kick:
		case <-ctx.Done():
			return nil
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		text, changed := state.take()
		if !changed {
			continue
		}
		if err := r.edit(ctx, target, f.Format(text, Streaming, nil)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		state.markRendered(text, time.Now())
	}
}

// edit delivers content, retrying transient failures with backoff.
func (r *Renderer) edit(ctx context.Context, target Target, content string) error {
	attempts, err := r.backoff.Do(ctx, func(ctx context.Context) error {
		return target.Edit(ctx, content)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &EditError{Attempts: attempts, Err: err}
}
