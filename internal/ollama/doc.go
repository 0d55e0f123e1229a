// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The bot drives a single local model through Ollama's /api/generate
// endpoint in raw mode, streaming NDJSON chunks back as tokens.
//
// # Key Types
//
//   - Client: HTTP client for health checks, model lookup and streaming generation
//   - StreamReader: line-by-line NDJSON reader for generate responses
//   - Runtime: the jobs.Runtime implementation, honoring the job cancel flag
//   - ClientError: typed errors (not running, timeout, model not found)
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Model.OllamaURL})
//	runtime := ollama.NewRuntime(client, ollama.RuntimeConfig{Model: cfg.Model.Name})
//	if err := runtime.Check(ctx); err != nil {
//	    return err
//	}
//	worker := jobs.NewWorker(queue, runtime, logger)
package ollama
