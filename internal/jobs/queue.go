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

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-bot/internal/chat"
)

var (
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("job queue is closed")

	// ErrQueueFull is returned by Submit when max pending is reached.
	ErrQueueFull = errors.New("job queue is full")
)

// =============================================================================
// JOB QUEUE
// =============================================================================

// Queue is the FIFO of pending jobs plus the in-flight table that enforces
// at most one live job per conversation key.
type Queue struct {
	// pending holds queued jobs in submission order
	pending []*Job

	// inflight maps each conversation key to its newest non-terminal job
	inflight map[chat.ConversationKey]*Job

	// running is the job the worker is executing, if any
	running *Job

	// history keeps recently finished jobs for status reporting
	history    []*Job
	maxHistory int

	// maxPending is the maximum number of queued jobs (0 = unlimited)
	maxPending int

	closed bool
	stats  Stats

	mu     sync.Mutex
	notify chan struct{}
	logger *zap.Logger
}

// Stats are cumulative queue counters.
type Stats struct {
	Pending    int   `json:"pending"`
	Running    int   `json:"running"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Canceled   int64 `json:"canceled"`
	Failed     int64 `json:"failed"`
	Superseded int64 `json:"superseded"`
}

// JobInfo is a point-in-time view of a job for status endpoints.
type JobInfo struct {
	ID        string        `json:"id"`
	Key       string        `json:"key"`
	Requester string        `json:"requester,omitempty"`
	Status    Status        `json:"status"`
	Tokens    int           `json:"tokens"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
	Error     string        `json:"error,omitempty"`
}

// =============================================================================
// QUEUE CREATION
// =============================================================================

// NewQueue creates an empty queue. maxPending bounds the number of queued
// jobs (0 = unlimited).
func NewQueue(maxPending int, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		inflight:   make(map[chat.ConversationKey]*Job),
		maxPending: maxPending,
		maxHistory: 50,
		notify:     make(chan struct{}, 1),
		logger:     logger,
	}
}

// =============================================================================
// SUBMISSION AND CANCELLATION
// =============================================================================

// Submit enqueues a job. Any queued or running job for the same key is
// canceled first.
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.compactLocked()
	prev, hasPrev := q.inflight[job.Key]
	queued := len(q.pending)
	if hasPrev && prev.Status() == StatusQueued {
		queued--
	}
	if q.maxPending > 0 && queued >= q.maxPending {
		return fmt.Errorf("%w: %d queued jobs (max: %d)", ErrQueueFull, queued, q.maxPending)
	}

	if hasPrev && prev != job {
		if prev.Cancel() {
			q.stats.Superseded++
			q.logger.Debug("job superseded",
				zap.String("job", prev.ID),
				zap.String("by", job.ID),
				zap.Stringer("key", job.Key))
		}
		q.compactLocked()
	}

	q.pending = append(q.pending, job)
	q.inflight[job.Key] = job
	q.stats.Submitted++
	q.signal()

	q.logger.Debug("job queued",
		zap.String("job", job.ID),
		zap.Stringer("key", job.Key),
		zap.Int("pending", len(q.pending)))
	return nil
}

// Cancel cancels the live job for key. Returns true if one was found.
func (q *Queue) Cancel(key chat.ConversationKey) bool {
	q.mu.Lock()
	job, ok := q.inflight[key]
	q.mu.Unlock()

	if !ok {
		return false
	}
	return job.Cancel()
}

// CancelWhere cancels every live job matching pred and returns the count.
func (q *Queue) CancelWhere(pred func(*Job) bool) int {
	q.mu.Lock()
	var matched []*Job
	for _, job := range q.inflight {
		if pred(job) {
			matched = append(matched, job)
		}
	}
	q.mu.Unlock()

	n := 0
	for _, job := range matched {
		if job.Cancel() {
			n++
		}
	}
	return n
}

// Lookup returns the live job for key, or nil.
func (q *Queue) Lookup(key chat.ConversationKey) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.inflight[key]
	if job == nil || job.Status().IsTerminal() {
		return nil
	}
	return job
}

// Close stops accepting jobs and cancels everything still queued. The
// running job is left to the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := append([]*Job(nil), q.pending...)
	q.signal()
	q.mu.Unlock()

	for _, job := range pending {
		job.Cancel()
	}
}

// =============================================================================
// STATUS
// =============================================================================

// Stats returns a copy of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.compactLocked()
	s := q.stats
	s.Pending = len(q.pending)
	if q.running != nil {
		s.Running = 1
	}
	return s
}

// Snapshot lists the running job, the queued jobs and recent history, most
// recent activity first.
func (q *Queue) Snapshot() []JobInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.compactLocked()
	infos := make([]JobInfo, 0, len(q.pending)+len(q.history)+1)
	if q.running != nil {
		infos = append(infos, infoOf(q.running))
	}
	for _, job := range q.pending {
		infos = append(infos, infoOf(job))
	}
	for i := len(q.history) - 1; i >= 0; i-- {
		infos = append(infos, infoOf(q.history[i]))
	}
	return infos
}

func infoOf(job *Job) JobInfo {
	info := JobInfo{
		ID:        job.ID,
		Key:       job.Key.String(),
		Requester: job.Requester,
		Status:    job.Status(),
		Tokens:    job.Tokens(),
		Duration:  job.Duration(),
		CreatedAt: job.CreatedAt,
	}
	if err := job.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// =============================================================================
// WORKER SIDE
// =============================================================================

// next blocks until a runnable job is available. Jobs canceled while queued
// are retired without reaching the worker.
func (q *Queue) next(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		for len(q.pending) > 0 {
			job := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]

			if job.Status().IsTerminal() {
				q.retireLocked(job)
				continue
			}
			q.running = job
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// done is called by the worker once job is terminal.
func (q *Queue) done(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running == job {
		q.running = nil
	}
	q.retireLocked(job)
}

// compactLocked retires queued jobs that were canceled in place.
func (q *Queue) compactLocked() {
	kept := q.pending[:0]
	for _, job := range q.pending {
		if job.Status().IsTerminal() {
			q.retireLocked(job)
			continue
		}
		kept = append(kept, job)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
}

func (q *Queue) retireLocked(job *Job) {
	if q.inflight[job.Key] == job {
		delete(q.inflight, job.Key)
	}

	switch job.Status() {
	case StatusCompleted:
		q.stats.Completed++
	case StatusFailed:
		q.stats.Failed++
	case StatusCanceled:
		q.stats.Canceled++
	}

	q.history = append(q.history, job)
	if q.maxHistory > 0 && len(q.history) > q.maxHistory {
		q.history = q.history[len(q.history)-q.maxHistory:]
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
