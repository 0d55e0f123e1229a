// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-bot/internal/jobs"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type fakeOllama struct {
	mu       sync.Mutex
	requests []GenerateRequest

	// tokens streamed by /api/generate
	tokens []string
	// release, when set, is awaited after the first token
	release chan struct{}
	models  []string
	// truncate closes the stream without a done chunk
	truncate bool
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var resp ListModelsResponse
		for _, name := range f.models {
			resp.Models = append(resp.Models, ModelInfo{Name: name, Size: 4 * 1024 * 1024 * 1024})
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		var req ShowModelRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, name := range f.models {
			if name == req.Name {
				json.NewEncoder(w).Encode(ShowModelResponse{Details: ModelDetails{Family: "llama"}})
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"model '%s' not found"}`, req.Name)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		if req.Model == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":"out of memory"}`)
			return
		}

		flusher := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for i, tok := range f.tokens {
			enc.Encode(GenerateResponse{Model: req.Model, Response: tok})
			flusher.Flush()
			if i == 0 && f.release != nil {
				select {
				case <-f.release:
				case <-r.Context().Done():
					return
				}
			}
		}
		if f.truncate {
			return
		}
		enc.Encode(GenerateResponse{Model: req.Model, Done: true, DoneReason: "stop", EvalCount: len(f.tokens), EvalDuration: int64(time.Second)})
	})
	return mux
}

func (f *fakeOllama) lastRequest() GenerateRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return GenerateRequest{}
	}
	return f.requests[len(f.requests)-1]
}

func newTestServer(t *testing.T, f *fakeOllama) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second})
}

// =============================================================================
// STREAM READER TESTS
// =============================================================================

func TestStreamReader_ParsesChunks(t *testing.T) {
	input := strings.Join([]string{
		`{"model":"m","response":"Hel"}`,
		``,
		`not json`,
		`{"model":"m","response":"lo"}`,
		`{"model":"m","response":"","done":true,"done_reason":"length","eval_count":2,"eval_duration":1000000000}`,
	}, "\n")

	reader := NewStreamReader(strings.NewReader(input))
	var chunks []StreamChunk
	err := reader.Process(context.Background(), func(c StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Content+chunks[1].Content != "Hello" {
		t.Errorf("content = %q, want 'Hello'", chunks[0].Content+chunks[1].Content)
	}
	if chunks[2].Model != "m" {
		t.Errorf("Model = %q, want 'm'", chunks[2].Model)
	}
	if reader.Malformed() != 1 {
		t.Errorf("Malformed() = %d, want 1", reader.Malformed())
	}

	last := chunks[2]
	if !last.Done || last.DoneReason != "length" || last.CompletionTokens != 2 {
		t.Errorf("final chunk = %+v", last)
	}
	if tps := last.TokensPerSecond(); tps != 2 {
		t.Errorf("TokensPerSecond() = %v, want 2", tps)
	}
}

func TestStreamReader_MidStreamError(t *testing.T) {
	input := `{"response":"a"}` + "\n" + `{"error":"CUDA out of memory"}` + "\n"
	reader := NewStreamReader(strings.NewReader(input))

	err := reader.Process(context.Background(), func(StreamChunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Errorf("Process() error = %v, want model error", err)
	}
}

func TestStreamReader_EndsWithoutDone(t *testing.T) {
	input := `{"response":"Hel","done":false}` + "\n" + `{"response":` + "\n"
	reader := NewStreamReader(strings.NewReader(input))

	var content string
	err := reader.Process(context.Background(), func(c StreamChunk) error {
		content += c.Content
		return nil
	})
	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrTypeInvalidResponse {
		t.Fatalf("Process() error = %v, want invalid response", err)
	}
	if !strings.Contains(err.Error(), "1 malformed") {
		t.Errorf("Process() error = %q, want malformed line count", err)
	}
	if content != "Hel" {
		t.Errorf("content = %q, want 'Hel'", content)
	}
}

func TestStreamReader_DoneWithoutTrailingNewline(t *testing.T) {
	input := `{"response":"a"}` + "\n" + `{"done":true,"done_reason":"stop"}`
	reader := NewStreamReader(strings.NewReader(input))

	if err := reader.Process(context.Background(), func(StreamChunk) error { return nil }); err != nil {
		t.Errorf("Process() error = %v", err)
	}
}

func TestStreamReader_CallbackErrorStops(t *testing.T) {
	input := `{"response":"a"}` + "\n" + `{"response":"b"}` + "\n"
	reader := NewStreamReader(strings.NewReader(input))
	stop := errors.New("stop")

	calls := 0
	err := reader.Process(context.Background(), func(StreamChunk) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Process() error = %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestClient_CheckRunning(t *testing.T) {
	client := newTestServer(t, &fakeOllama{})
	if err := client.CheckRunning(context.Background()); err != nil {
		t.Errorf("CheckRunning() error = %v", err)
	}
	if strings.HasSuffix(client.BaseURL(), "/") {
		t.Errorf("BaseURL() = %q, trailing slash not trimmed", client.BaseURL())
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	down := NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: time.Second})
	err := down.CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("CheckRunning() on closed server = %v, want not running", err)
	}
}

func TestClient_Models(t *testing.T) {
	client := newTestServer(t, &fakeOllama{models: []string{"llama3.2"}})
	ctx := context.Background()

	models, err := client.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0].Name != "llama3.2" {
		t.Errorf("ListModels() = %+v", models)
	}
	if got := models[0].FormatSize(); got != "4 GB" {
		t.Errorf("FormatSize() = %q, want '4 GB'", got)
	}

	if _, err := client.GetModel(ctx, "llama3.2"); err != nil {
		t.Errorf("GetModel(llama3.2) error = %v", err)
	}
	_, err = client.GetModel(ctx, "missing")
	if !IsModelNotFound(err) {
		t.Errorf("GetModel(missing) error = %v, want model not found", err)
	}
}

func TestClient_GenerateStreamServerError(t *testing.T) {
	client := newTestServer(t, &fakeOllama{})
	err := client.GenerateStream(context.Background(), GenerateRequest{Model: "broken"}, func(StreamChunk) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("GenerateStream() error = %v, want server error text", err)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5 MB"},
	}
	for _, tt := range tests {
		m := ModelInfo{Size: tt.size}
		if got := m.FormatSize(); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.size, got, tt.want)
		}
	}
}

// =============================================================================
// RUNTIME TESTS
// =============================================================================

func TestRuntime_GenerateStreamsTokens(t *testing.T) {
	fake := &fakeOllama{tokens: []string{"A", " sunset", " glows"}}
	rt := NewRuntime(newTestServer(t, fake), RuntimeConfig{Model: "llama3.2", NumCtx: 2048, NumThread: 8, KeepAlive: "30m"})

	seed := int64(7)
	params := jobs.SamplingParams{Temperature: 0, TopK: 40, TopP: 0.95, RepeatPenalty: 1.3, RepeatLastN: 64, BatchSize: 8, MaxTokens: 100, Seed: &seed}

	var got []string
	result, err := rt.Generate(context.Background(), "Describe a sunset", params, &jobs.CancelFlag{}, func(tok string) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if strings.Join(got, "") != "A sunset glows" {
		t.Errorf("tokens = %q", got)
	}
	if result.Tokens != 3 || result.StopReason != "stop" || result.TokensPerSecond != 3 {
		t.Errorf("result = %+v", result)
	}

	req := fake.lastRequest()
	if !req.Raw || !req.Stream || req.Prompt != "Describe a sunset" || req.KeepAlive != "30m" {
		t.Errorf("request = %+v", req)
	}
	opts := req.Options
	if opts == nil || opts.Temperature == nil || *opts.Temperature != 0 {
		t.Fatalf("temperature 0 must be sent explicitly, options = %+v", opts)
	}
	if opts.NumCtx != 2048 || opts.NumThread != 8 || opts.NumPredict != 100 || opts.RepeatLastN != 64 || opts.NumBatch != 8 {
		t.Errorf("options = %+v", opts)
	}
	if opts.Seed == nil || *opts.Seed != 7 {
		t.Errorf("seed = %v, want 7", opts.Seed)
	}
}

func TestRuntime_TruncatedStreamFails(t *testing.T) {
	fake := &fakeOllama{tokens: []string{"Hel"}, truncate: true}
	rt := NewRuntime(newTestServer(t, fake), RuntimeConfig{Model: "llama3.2"})

	var got string
	_, err := rt.Generate(context.Background(), "p", jobs.SamplingParams{}, &jobs.CancelFlag{}, func(tok string) error {
		got += tok
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "stream ended before completion") {
		t.Fatalf("Generate() error = %v, want truncated stream error", err)
	}
	if got != "Hel" {
		t.Errorf("tokens = %q, want 'Hel'", got)
	}
}

func TestRuntime_CancelStopsStream(t *testing.T) {
	fake := &fakeOllama{tokens: []string{"one", "two", "three"}, release: make(chan struct{})}
	rt := NewRuntime(newTestServer(t, fake), RuntimeConfig{Model: "llama3.2", PollInterval: 5 * time.Millisecond})

	cancel := &jobs.CancelFlag{}
	var got []string
	done := make(chan error, 1)
	go func() {
		_, err := rt.Generate(context.Background(), "p", jobs.SamplingParams{}, cancel, func(tok string) error {
			got = append(got, tok)
			cancel.Set()
			return nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, jobs.ErrCanceled) {
			t.Errorf("Generate() error = %v, want ErrCanceled", err)
		}
	case <-time.After(5 * time.Second):
		close(fake.release)
		t.Fatal("Generate() did not stop after cancel")
	}
	if len(got) != 1 {
		t.Errorf("got %d tokens after cancel, want 1", len(got))
	}
}

func TestRuntime_AlreadyCanceled(t *testing.T) {
	fake := &fakeOllama{tokens: []string{"x"}}
	rt := NewRuntime(newTestServer(t, fake), RuntimeConfig{Model: "m"})

	cancel := &jobs.CancelFlag{}
	cancel.Set()
	_, err := rt.Generate(context.Background(), "p", jobs.SamplingParams{}, cancel, func(string) error { return nil })
	if !errors.Is(err, jobs.ErrCanceled) {
		t.Errorf("Generate() error = %v, want ErrCanceled", err)
	}
	if len(fake.requests) != 0 {
		t.Error("no request should be sent for a canceled job")
	}
}

func TestRuntime_Check(t *testing.T) {
	rt := NewRuntime(newTestServer(t, &fakeOllama{models: []string{"llama3.2"}}), RuntimeConfig{Model: "llama3.2"})
	if err := rt.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v", err)
	}

	missing := NewRuntime(newTestServer(t, &fakeOllama{models: []string{"llama3.2"}}), RuntimeConfig{Model: "mistral"})
	err := missing.Check(context.Background())
	if !IsModelNotFound(err) || !strings.Contains(err.Error(), "ollama pull mistral") {
		t.Errorf("Check() error = %v, want pull hint", err)
	}
	if !strings.Contains(err.Error(), "installed: llama3.2 (4 GB)") {
		t.Errorf("Check() error = %v, want installed models", err)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	down := NewRuntime(NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: time.Second}), RuntimeConfig{Model: "mistral"})
	err = down.Check(context.Background())
	if !IsNotRunning(err) || !strings.Contains(err.Error(), url) {
		t.Errorf("Check() on closed server = %v, want not running at %s", err, url)
	}
}

func TestKeepAliveEncoding(t *testing.T) {
	tests := []struct {
		in   KeepAlive
		want string
	}{
		{"30m", `{"model":"m","prompt":"","stream":false,"keep_alive":"30m"}`},
		{"-1", `{"model":"m","prompt":"","stream":false,"keep_alive":-1}`},
		{"0", `{"model":"m","prompt":"","stream":false,"keep_alive":0}`},
		{"", `{"model":"m","prompt":"","stream":false}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(GenerateRequest{Model: "m", KeepAlive: tt.in})
		if err != nil {
			t.Fatalf("Marshal(%q) error = %v", tt.in, err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%q) = %s, want %s", tt.in, data, tt.want)
		}

		var back GenerateRequest
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if back.KeepAlive != tt.in {
			t.Errorf("round trip of %q = %q", tt.in, back.KeepAlive)
		}
	}
}

func TestRuntime_Preload(t *testing.T) {
	fake := &fakeOllama{}
	rt := NewRuntime(newTestServer(t, fake), RuntimeConfig{Model: "llama3.2", KeepAlive: "1h"})
	if err := rt.Preload(context.Background()); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	req := fake.lastRequest()
	if req.Prompt != "" || req.Model != "llama3.2" || req.KeepAlive != "1h" {
		t.Errorf("preload request = %+v", req)
	}
}
