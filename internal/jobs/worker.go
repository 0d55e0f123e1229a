// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs serializes text generation against a single model runtime.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrWorkerRunning is returned when Run is called on a worker that is
// already running.
var ErrWorkerRunning = errors.New("worker already running")

// =============================================================================
// WORKER
// =============================================================================

// Worker is the only caller of the Runtime. It executes one job at a time in
// queue order, so a superseded job has always finished before its successor
// starts.
type Worker struct {
	queue   *Queue
	runtime Runtime
	logger  *zap.Logger

	// timeout bounds each generation (0 = no timeout)
	timeout time.Duration

	running atomic.Bool
}

// NewWorker creates a worker for queue.
func NewWorker(queue *Queue, runtime Runtime, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		runtime: runtime,
		logger:  logger,
	}
}

// SetTimeout bounds each generation. A job that exceeds it fails.
func (w *Worker) SetTimeout(d time.Duration) {
	w.timeout = d
}

// Run processes jobs until the queue is closed and drained or ctx is done.
// A job failure never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer w.running.Store(false)

	w.logger.Info("inference worker started")
	defer w.logger.Info("inference worker stopped")

	for {
		job, err := w.queue.next(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return nil
			}
			return err
		}
		w.execute(ctx, job)
	}
}

// execute runs one job to its terminal state.
func (w *Worker) execute(ctx context.Context, job *Job) {
	defer w.queue.done(job)

	if !job.start() {
		// canceled between dequeue and start
		job.finish(EventCanceled, nil)
		return
	}

	log := w.logger.With(zap.String("job", job.ID), zap.Stringer("key", job.Key))
	log.Debug("generation started", zap.Int("prompt_bytes", len(job.Prompt)))

	runCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	result, err := w.generate(runCtx, job)

	switch {
	case job.cancel.IsSet() || errors.Is(err, ErrCanceled):
		job.finish(EventCanceled, nil)
		log.Debug("generation canceled", zap.Int("tokens", job.Tokens()))

	case err != nil && ctx.Err() != nil:
		// shutting down
		job.finish(EventCanceled, nil)

	case err != nil:
		rerr := &RuntimeError{JobID: job.ID, Err: err}
		job.finish(EventFailed, rerr)
		log.Warn("generation failed", zap.Error(err))

	default:
		job.finish(EventCompleted, nil)
		log.Debug("generation completed",
			zap.Int("tokens", job.Tokens()),
			zap.String("stop", result.StopReason),
			zap.Int("prompt_tokens", result.PromptTokens),
			zap.Float64("tokens_per_sec", result.TokensPerSecond),
			zap.Duration("took", job.Duration()))
	}
}

// generate calls the runtime, gating every token on the cancel flag and
// turning panics into errors.
func (w *Worker) generate(ctx context.Context, job *Job) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime panic: %v", r)
		}
	}()

	return w.runtime.Generate(ctx, job.Prompt, job.Params, &job.cancel, func(token string) error {
		if job.cancel.IsSet() {
			return ErrCanceled
		}
		job.emit(token)
		return nil
	})
}
