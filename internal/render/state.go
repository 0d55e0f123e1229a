// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle of one rendered response.
type State int

const (
	// Pending means only the placeholder is visible
	Pending State = iota
	// Streaming means at least one token has arrived
	Streaming
	// Completed means the full output is visible
	Completed
	// Canceled means generation stopped early by request
	Canceled
	// Failed means generation or the platform failed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s >= Completed
}

// =============================================================================
// STREAM STATE
// =============================================================================

// StreamState is the shared state between the event loop, which appends
// tokens, and the editor goroutine, which renders them.
type StreamState struct {
	mu       sync.Mutex
	text     strings.Builder
	tokens   int
	rendered string
	lastEdit time.Time
	pending  bool
	state    State
	edits    int
}

func newStreamState() *StreamState {
	return &StreamState{state: Pending}
}

// append adds a token and marks an edit as pending.
func (s *StreamState) append(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text.WriteString(token)
	s.tokens++
	s.pending = true
	if s.state == Pending {
		s.state = Streaming
	}
}

// take returns the text to render if it differs from what is on screen.
func (s *StreamState) take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	text := s.text.String()
	return text, text != s.rendered
}

// markRendered records a successful edit of text.
func (s *StreamState) markRendered(text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = text
	s.lastEdit = at
	s.edits++
}

func (s *StreamState) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Text returns everything received so far.
func (s *StreamState) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// State returns the current lifecycle state.
func (s *StreamState) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tokens returns the number of tokens received.
func (s *StreamState) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Edits returns the number of successful edits.
func (s *StreamState) Edits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edits
}

// Pending reports whether tokens arrived since the last edit was taken.
func (s *StreamState) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// LastEdit returns the time of the last successful edit.
func (s *StreamState) LastEdit() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEdit
}
