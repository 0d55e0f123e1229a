// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package jobs serializes text generation against a single model runtime.
//
// The model runtime is stateful and not reentrant, so every generation
// request becomes a Job submitted to one ordered Queue, and exactly one
// Worker goroutine is allowed to call the Runtime. Event handlers never touch
// the model directly; they submit a job and read its events.
//
// # Key Types
//
//   - Job: one generation request with its cancel flag and output sink
//   - Queue: FIFO of pending jobs plus the in-flight table keyed by conversation
//   - Worker: the sole caller of the Runtime
//   - Runtime: the model adapter port (see package ollama)
//   - Event: Token, then exactly one of Completed, Canceled or Failed
//
// # Usage
//
//	queue := jobs.NewQueue(32, logger)
//	worker := jobs.NewWorker(queue, runtime, logger)
//	go worker.Run(ctx)
//
//	job := jobs.New(key, prompt, params)
//	if err := queue.Submit(job); err != nil {
//	    return err
//	}
//	for {
//	    ev, err := job.Next(ctx)
//	    if err != nil || ev.Kind.IsTerminal() {
//	        break
//	    }
//	    fmt.Print(ev.Token)
//	}
//
// # Supersession
//
// Submitting a job for a conversation key that already has a queued or
// running job cancels the older one. A queued job is canceled on the spot;
// a running one has its flag set and stops before its next token. Because the
// worker executes one job at a time, the old job has always reported its
// terminal event before the new one starts.
package jobs
