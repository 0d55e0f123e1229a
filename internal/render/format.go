// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"

	"github.com/jeranaias/rigrun-bot/internal/util"
)

// Markers appended to the final text of a response that did not complete.
const (
	CanceledMarker = "*[stopped]*"
	FailedMarker   = "*[generation failed]*"
	EmptyMarker    = "*[no output]*"
	ThinkingText   = "*thinking...*"
)

// DiscordMaxLength is the message length limit of Discord.
const DiscordMaxLength = 2000

// Formatter turns the accumulated text into message content for a state.
type Formatter interface {
	Format(text string, state State, err error) string
}

// =============================================================================
// CONVERSATION FORMATTER
// =============================================================================

// PlainFormatter shows the generated text as-is. Used for conversation
// replies.
type PlainFormatter struct {
	// MaxLength caps the content in runes; zero means unlimited
	MaxLength int
}

// Format implements Formatter.
func (f PlainFormatter) Format(text string, state State, err error) string {
	if state == Pending {
		return ThinkingText
	}
	return finish(text, state, f.MaxLength)
}

// =============================================================================
// COMMAND FORMATTER
// =============================================================================

// CommandFormatter shows the prompt in bold ahead of the generated text.
// The placeholder shows the prompt struck through until output arrives.
// With a MaxLength, the bold prompt takes at most half of it.
type CommandFormatter struct {
	// Prompt is the text displayed ahead of the output
	Prompt    string
	MaxLength int
}

// Format implements Formatter.
func (f CommandFormatter) Format(text string, state State, err error) string {
	prompt := strings.TrimSpace(f.Prompt)
	if state == Pending {
		if placeholder := emphasize(prompt, "~~", f.MaxLength); placeholder != "" {
			return placeholder
		}
		return ThinkingText
	}

	limit := f.MaxLength
	head := emphasize(prompt, "**", 0)
	if limit > 0 {
		head = emphasize(prompt, "**", max(limit/2, 1))
		limit -= util.RuneLen(head)
	}

	body := text
	if state == Completed && strings.TrimSpace(text) == "" && head != "" {
		// The bold prompt alone is a valid response.
		return head
	}
	return head + finish(body, state, limit)
}

// =============================================================================
// HELPERS
// =============================================================================

// finish appends the state marker and caps the length, keeping the marker
// visible when the text has to be cut.
func finish(text string, state State, maxLength int) string {
	marker := ""
	switch state {
	case Canceled:
		marker = CanceledMarker
	case Failed:
		marker = FailedMarker
	case Completed:
		if strings.TrimSpace(text) == "" {
			return EmptyMarker
		}
	}

	if marker != "" {
		if strings.TrimSpace(text) == "" {
			text = marker
			marker = ""
		} else {
			marker = "\n" + marker
		}
	}

	if maxLength <= 0 {
		return text + marker
	}
	room := maxLength - util.RuneLen(marker)
	if room < 1 {
		return util.TruncateRunesNoEllipsis(text+marker, maxLength)
	}
	return util.TruncateRunes(text, room) + marker
}

// emphasize wraps the escaped prompt in marks, cutting the prompt so the
// result fits in limit runes (0 = unlimited). It returns "" when nothing fits.
func emphasize(prompt, marks string, limit int) string {
	if prompt == "" {
		return ""
	}
	inner := escapeMarkdown(prompt)
	if limit > 0 {
		inner = util.TruncateRunes(inner, limit-2*util.RuneLen(marks))
		if inner == "" {
			return ""
		}
	}
	return marks + inner + marks
}

// escapeMarkdown keeps user text from closing the surrounding emphasis.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("*", `\*`, "~", `\~`, "_", `\_`, "`", "\\`")
	return r.Replace(s)
}
