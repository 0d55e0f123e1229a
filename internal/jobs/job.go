// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs serializes text generation against a single model runtime.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigrun-bot/internal/chat"
)

// ErrStreamClosed is returned by Next after the terminal event was read.
var ErrStreamClosed = errors.New("job event stream closed")

// =============================================================================
// JOB STATUS
// =============================================================================

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusQueued indicates the job is waiting for the worker
	StatusQueued Status = "Queued"

	// StatusRunning indicates the worker is generating for the job
	StatusRunning Status = "Running"

	// StatusCompleted indicates generation finished normally
	StatusCompleted Status = "Completed"

	// StatusCanceled indicates the job was stopped or superseded
	StatusCanceled Status = "Canceled"

	// StatusFailed indicates the runtime reported an error
	StatusFailed Status = "Failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind discriminates job events.
type EventKind int

const (
	EventToken EventKind = iota
	EventCompleted
	EventCanceled
	EventFailed
)

// IsTerminal reports whether the event ends the stream.
func (k EventKind) IsTerminal() bool {
	return k != EventToken
}

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventCompleted:
		return "completed"
	case EventCanceled:
		return "canceled"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one item of a job's output stream.
type Event struct {
	Kind  EventKind
	Token string
	// Err is set on EventFailed.
	Err error
}

// =============================================================================
// JOB STRUCTURE
// =============================================================================

// Job is one request to generate a completion for a fully resolved prompt.
type Job struct {
	// ID is a unique identifier for this job
	ID string

	// Key scopes the at-most-one-running-generation rule
	Key chat.ConversationKey

	// Prompt is the complete text handed to the runtime
	Prompt string

	// Params are the sampling parameters
	Params SamplingParams

	// Requester is the platform user who asked for the generation
	Requester string

	// CreatedAt is when the job was built
	CreatedAt time.Time

	cancel CancelFlag

	mu        sync.Mutex
	status    Status
	startTime time.Time
	endTime   time.Time
	tokens    int
	err       error

	// sink buffer; the worker never blocks on a slow reader
	events  []Event
	drained bool
	ready   chan struct{}
	done    chan struct{}
}

// New creates a queued job.
func New(key chat.ConversationKey, prompt string, params SamplingParams) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Key:       key,
		Prompt:    prompt,
		Params:    params,
		CreatedAt: time.Now(),
		status:    StatusQueued,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// =============================================================================
// STATE ACCESSORS
// =============================================================================

// Status returns the current status (thread-safe).
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Err returns the failure cause of a Failed job.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Tokens returns the number of tokens delivered so far.
func (j *Job) Tokens() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tokens
}

// Duration returns how long the job has been running or ran.
func (j *Job) Duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.startTime.IsZero() {
		return 0
	}
	if j.endTime.IsZero() {
		return time.Since(j.startTime)
	}
	return j.endTime.Sub(j.startTime)
}

// Done is closed once the job reached a terminal status and has released
// the runtime.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// CancelRequested reports whether the cancel flag is raised.
func (j *Job) CancelRequested() bool {
	return j.cancel.IsSet()
}

// =============================================================================
// CANCELLATION
// =============================================================================

// Cancel requests cancellation. A queued job becomes Canceled immediately; a
// running job stops at the runtime's next token boundary. Returns false if
// the job had already finished.
func (j *Job) Cancel() bool {
	j.cancel.Set()

	j.mu.Lock()
	switch j.status {
	case StatusQueued:
		j.terminateLocked(EventCanceled, nil)
		j.mu.Unlock()
		j.closeDone()
		return true
	case StatusRunning:
		j.mu.Unlock()
		return true
	default:
		j.mu.Unlock()
		return false
	}
}

// =============================================================================
// EVENT STREAM
// =============================================================================

// Next blocks until the next event is available. After the terminal event
// has been returned, Next returns ErrStreamClosed. A job has a single reader.
func (j *Job) Next(ctx context.Context) (Event, error) {
	for {
		j.mu.Lock()
		if len(j.events) > 0 {
			ev := j.events[0]
			j.events[0] = Event{}
			j.events = j.events[1:]
			if ev.Kind.IsTerminal() {
				j.drained = true
			}
			j.mu.Unlock()
			return ev, nil
		}
		if j.drained {
			j.mu.Unlock()
			return Event{}, ErrStreamClosed
		}
		j.mu.Unlock()

		select {
		case <-j.ready:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// =============================================================================
// WORKER-SIDE TRANSITIONS
// =============================================================================

// start moves Queued -> Running. Returns false if the job was canceled first.
func (j *Job) start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusQueued || j.cancel.IsSet() {
		return false
	}
	j.status = StatusRunning
	j.startTime = time.Now()
	return true
}

// emit appends a token to the sink.
func (j *Job) emit(token string) {
	j.mu.Lock()
	if j.status != StatusRunning {
		j.mu.Unlock()
		return
	}
	j.tokens++
	j.events = append(j.events, Event{Kind: EventToken, Token: token})
	j.mu.Unlock()
	j.signal()
}

// finish records the terminal status and event exactly once.
// Returns false if the job was already terminal.
func (j *Job) finish(kind EventKind, err error) bool {
	j.mu.Lock()
	ok := j.terminateLocked(kind, err)
	j.mu.Unlock()

	if ok {
		j.closeDone()
	}
	return ok
}

func (j *Job) terminateLocked(kind EventKind, err error) bool {
	if j.status.IsTerminal() {
		return false
	}

	switch kind {
	case EventCompleted:
		j.status = StatusCompleted
	case EventFailed:
		j.status = StatusFailed
		j.err = err
	default:
		kind = EventCanceled
		j.status = StatusCanceled
	}
	j.endTime = time.Now()
	j.events = append(j.events, Event{Kind: kind, Err: err})
	return true
}

func (j *Job) closeDone() {
	close(j.done)
	j.signal()
}

func (j *Job) signal() {
	select {
	case j.ready <- struct{}{}:
	default:
	}
}

// Summary returns a one-line summary of the job.
func (j *Job) Summary() string {
	status := j.Status()
	summary := fmt.Sprintf("[%s] %s - %s", j.ID[:8], j.Key, status)
	if d := j.Duration(); d > 0 {
		summary += fmt.Sprintf(" (%.1fs, %d tokens)", d.Seconds(), j.Tokens())
	}
	return summary
}
