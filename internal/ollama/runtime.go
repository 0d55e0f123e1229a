// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-bot/internal/jobs"
)

// =============================================================================
// MODEL RUNTIME ADAPTER
// =============================================================================

// RuntimeConfig describes the model the runtime drives.
type RuntimeConfig struct {
	// Model is the Ollama model tag
	Model string

	// NumCtx is the context window passed as num_ctx (0 = model default)
	NumCtx int

	// NumThread is the CPU thread count (0 = runtime default)
	NumThread int

	// KeepAlive keeps the model resident between jobs
	KeepAlive string

	// PollInterval is how often the cancel flag is checked while no token
	// is arriving, such as during prompt evaluation (default: 50ms)
	PollInterval time.Duration
}

// Runtime adapts an Ollama server to jobs.Runtime. Prompts are sent raw:
// the bot assembles the complete prompt text itself.
type Runtime struct {
	client *Client
	config RuntimeConfig
}

var _ jobs.Runtime = (*Runtime)(nil)

// NewRuntime creates a runtime for config.Model served by client.
func NewRuntime(client *Client, config RuntimeConfig) *Runtime {
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	return &Runtime{client: client, config: config}
}

// Model returns the model tag.
func (r *Runtime) Model() string {
	return r.config.Model
}

// Check verifies that the server is up and the model is installed. A
// missing model is reported with the models that are installed.
func (r *Runtime) Check(ctx context.Context) error {
	if err := r.client.CheckRunning(ctx); err != nil {
		if IsNotRunning(err) {
			return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running at " + r.client.BaseURL(), Cause: errors.Unwrap(err)}
		}
		return err
	}
	if _, err := r.client.GetModel(ctx, r.config.Model); err != nil {
		if IsModelNotFound(err) {
			return &ClientError{
				Type:    ErrTypeModelNotFound,
				Message: fmt.Sprintf("model %q is not installed%s (run: ollama pull %s)", r.config.Model, r.installed(ctx), r.config.Model),
			}
		}
		return err
	}
	return nil
}

// installed lists the local models for an error message, or "" when there
// are none or the list is unavailable.
func (r *Runtime) installed(ctx context.Context) string {
	models, err := r.client.ListModels(ctx)
	if err != nil || len(models) == 0 {
		return ""
	}
	names := make([]string, 0, len(models))
	for i := range models {
		names = append(names, models[i].Name+" ("+models[i].FormatSize()+")")
	}
	return "; installed: " + strings.Join(names, ", ")
}

// Preload loads the model so the first job does not pay the load time.
func (r *Runtime) Preload(ctx context.Context) error {
	return r.client.Preload(ctx, r.config.Model, r.config.KeepAlive)
}

// Generate streams a completion for prompt, calling onToken per chunk.
// It returns jobs.ErrCanceled once cancel is set.
func (r *Runtime) Generate(ctx context.Context, prompt string, params jobs.SamplingParams, cancel *jobs.CancelFlag, onToken func(string) error) (jobs.Result, error) {
	if cancel.IsSet() {
		return jobs.Result{}, jobs.ErrCanceled
	}

	start := time.Now()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Abort the HTTP stream when the flag is raised between tokens.
	go func() {
		ticker := time.NewTicker(r.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if cancel.IsSet() {
					stop()
					return
				}
			}
		}
	}()

	request := GenerateRequest{
		Model:     r.config.Model,
		Prompt:    prompt,
		Raw:       true,
		KeepAlive: KeepAlive(r.config.KeepAlive),
		Options:   r.options(params),
	}

	var result jobs.Result
	err := r.client.GenerateStream(runCtx, request, func(chunk StreamChunk) error {
		if chunk.Content != "" {
			if cancel.IsSet() {
				return jobs.ErrCanceled
			}
			if err := onToken(chunk.Content); err != nil {
				return err
			}
			result.Tokens++
		}
		if chunk.Done {
			result.StopReason = chunk.DoneReason
			result.TokensPerSecond = chunk.TokensPerSecond()
			result.PromptTokens = chunk.PromptTokens
			if chunk.CompletionTokens > 0 {
				result.Tokens = chunk.CompletionTokens
			}
		}
		return nil
	})
	result.Duration = time.Since(start)

	if cancel.IsSet() {
		return result, jobs.ErrCanceled
	}
	if err != nil {
		return result, fmt.Errorf("ollama generate: %w", err)
	}
	return result, nil
}

// options maps sampling parameters to Ollama options.
func (r *Runtime) options(p jobs.SamplingParams) *Options {
	temperature := p.Temperature
	return &Options{
		Temperature:   &temperature,
		TopK:          p.TopK,
		TopP:          p.TopP,
		RepeatPenalty: p.RepeatPenalty,
		RepeatLastN:   p.RepeatLastN,
		NumCtx:        r.config.NumCtx,
		NumPredict:    p.MaxTokens,
		NumThread:     r.config.NumThread,
		NumBatch:      p.BatchSize,
		Seed:          p.Seed,
	}
}
