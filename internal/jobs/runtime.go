// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs serializes text generation against a single model runtime.
package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCanceled is returned by a Runtime that stopped because its cancel flag
// was set.
var ErrCanceled = errors.New("generation canceled")

// SamplingParams are the per-job inference parameters.
type SamplingParams struct {
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	// RepeatLastN is the size of the window considered by RepeatPenalty.
	RepeatLastN int
	BatchSize   int
	// MaxTokens bounds the output length; 0 leaves it to the runtime.
	MaxTokens int
	// Seed makes sampling reproducible when set.
	Seed *int64
}

// Result summarizes a finished generation.
type Result struct {
	Tokens     int
	StopReason string
	Duration   time.Duration

	// Reported by the runtime when it knows them
	PromptTokens    int
	TokensPerSecond float64
}

// Runtime is the model adapter. It is not reentrant: only the Worker calls
// it, one prompt at a time.
//
// Generate must call onToken zero or more times in generation order and
// check cancel between tokens, returning ErrCanceled once it is set. If
// onToken returns an error, generation stops and that error is returned.
type Runtime interface {
	Generate(ctx context.Context, prompt string, params SamplingParams, cancel *CancelFlag, onToken func(token string) error) (Result, error)
}

// CancelFlag is the cooperative cancellation signal shared between a job's
// owner and the runtime.
type CancelFlag struct {
	set atomic.Bool
}

// Set raises the flag. It never blocks.
func (f *CancelFlag) Set() {
	f.set.Store(true)
}

// IsSet reports whether cancellation was requested.
func (f *CancelFlag) IsSet() bool {
	return f.set.Load()
}

// RuntimeError reports a model fault (adapter error, out of memory, panic)
// that failed a single job.
type RuntimeError struct {
	JobID string
	Err   error
}

func (e *RuntimeError) Error() string {
	return "model runtime failure: " + e.Err.Error()
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
