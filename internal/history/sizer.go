// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jeranaias/rigrun-bot/internal/util"
)

// Sizer measures text against the context budget.
type Sizer interface {
	// Name identifies the metric in logs and config ("chars" or "tokens").
	Name() string
	// Size returns the cost of text.
	Size(text string) int
	// Truncate returns the longest prefix of text whose size is at most budget.
	Truncate(text string, budget int) string
}

// NewSizer returns the sizer for a configured metric.
func NewSizer(metric string) (Sizer, error) {
	switch metric {
	case "", "chars":
		return RuneSizer{}, nil
	case "tokens":
		return NewTokenSizer(), nil
	default:
		return nil, fmt.Errorf("unknown budget metric %q", metric)
	}
}

// =============================================================================
// CHARACTER METRIC
// =============================================================================

// RuneSizer counts Unicode code points.
type RuneSizer struct{}

func (RuneSizer) Name() string { return "chars" }

func (RuneSizer) Size(text string) int {
	return util.RuneLen(text)
}

func (RuneSizer) Truncate(text string, budget int) string {
	return util.TruncateRunesNoEllipsis(text, budget)
}

// =============================================================================
// TOKEN METRIC
// =============================================================================

// TokenSizer counts cl100k_base tokens. Local models use their own
// vocabularies, so this is an estimate; it is still far closer than
// characters for code and non-Latin text.
type TokenSizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenSizer loads the cl100k_base encoding. If it cannot be loaded the
// sizer falls back to four bytes per token.
func NewTokenSizer() *TokenSizer {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenSizer{}
	}
	return &TokenSizer{enc: enc}
}

func (s *TokenSizer) Name() string { return "tokens" }

// Exact reports whether the real encoding is loaded.
func (s *TokenSizer) Exact() bool {
	return s.enc != nil
}

func (s *TokenSizer) Size(text string) int {
	if s.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(s.enc.Encode(text, nil, nil))
}

func (s *TokenSizer) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if s.enc == nil {
		return truncateBytes(text, budget*4)
	}
	tokens := s.enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	out := s.enc.Decode(tokens[:budget])
	// a token boundary can split a multi-byte rune
	for len(out) > 0 && !utf8.ValidString(out) {
		out = out[:len(out)-1]
	}
	return out
}

// truncateBytes cuts text to at most n bytes on a rune boundary.
func truncateBytes(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
