// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/jobs"
)

type fakeChecker struct {
	err error
}

func (f fakeChecker) Check(context.Context) error { return f.err }
func (f fakeChecker) Model() string               { return "llama3.2" }

func get(t *testing.T, s *Server, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if v != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
			t.Fatalf("decoding %s: %v (body %q)", path, err, rec.Body.String())
		}
	}
	return rec
}

// =============================================================================
// HEALTH TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	tests := []struct {
		name          string
		checker       Checker
		wantStatus    string
		wantRuntime   string
		wantErrorText bool
	}{
		{"no runtime", nil, "ok", "not_configured", false},
		{"runtime up", fakeChecker{}, "ok", "ok", false},
		{"runtime down", fakeChecker{err: errors.New("connection refused")}, "degraded", "unavailable", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New("", "test", jobs.NewQueue(0, nil), tc.checker, nil)

			var health HealthResponse
			rec := get(t, s, "/health", &health)
			if rec.Code != http.StatusOK {
				t.Errorf("status code = %d, want 200", rec.Code)
			}
			if health.Status != tc.wantStatus {
				t.Errorf("Status = %q, want %q", health.Status, tc.wantStatus)
			}
			if health.RuntimeStatus != tc.wantRuntime {
				t.Errorf("RuntimeStatus = %q, want %q", health.RuntimeStatus, tc.wantRuntime)
			}
			if (health.RuntimeError != "") != tc.wantErrorText {
				t.Errorf("RuntimeError = %q", health.RuntimeError)
			}
			if health.Version != "test" {
				t.Errorf("Version = %q, want test", health.Version)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := New("", "test", jobs.NewQueue(0, nil), nil, nil)
	rec := get(t, s, "/health", nil)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

// =============================================================================
// STATS & JOBS TESTS
// =============================================================================

func TestStatsAndJobs(t *testing.T) {
	q := jobs.NewQueue(0, nil)
	key := chat.ConversationKey{ChannelID: "c", RootID: "r"}

	first := jobs.New(key, "one", jobs.SamplingParams{})
	first.Requester = "u1"
	if err := q.Submit(first); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second := jobs.New(key, "two", jobs.SamplingParams{})
	if err := q.Submit(second); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s := New("", "test", q, nil, nil)

	var stats StatsResponse
	get(t, s, "/stats", &stats)
	if stats.Submitted != 2 {
		t.Errorf("Submitted = %d, want 2", stats.Submitted)
	}
	if stats.Superseded != 1 {
		t.Errorf("Superseded = %d, want 1", stats.Superseded)
	}

	var list JobsResponse
	get(t, s, "/jobs", &list)
	found := false
	for _, info := range list.Jobs {
		if info.ID == second.ID {
			found = true
			if info.Status != jobs.StatusQueued {
				t.Errorf("second job status = %q, want queued", info.Status)
			}
		}
	}
	if !found {
		t.Errorf("job %s missing from /jobs: %+v", second.ID, list.Jobs)
	}
}

func TestJobsEmptyList(t *testing.T) {
	s := New("", "test", jobs.NewQueue(0, nil), nil, nil)
	rec := get(t, s, "/jobs", nil)

	if body := rec.Body.String(); body != "{\"jobs\":[]}\n" {
		t.Errorf("body = %q", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := New("", "test", jobs.NewQueue(0, nil), nil, nil)
	if rec := get(t, s, "/v1/chat/completions", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", rec.Code)
	}
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestRunStopsOnContextCancel(t *testing.T) {
	s := New("127.0.0.1:0", "test", jobs.NewQueue(0, nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
