// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-bot/internal/chat"
)

// Role is the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role      Role
	Author    string
	Text      string
	MessageID string
	Size      int
}

// Window is an assembled conversation, oldest turn first.
type Window struct {
	Turns []Turn

	// Size is the total size of all turns; never above Budget.
	Size   int
	Budget int

	// Truncated is set when older turns were dropped or the newest turn
	// was cut to fit.
	Truncated bool

	// HistoryErr is set when a predecessor could not be fetched; the
	// window holds everything newer than it.
	HistoryErr error
}

// UnavailableError reports a reply-chain lookup that failed.
type UnavailableError struct {
	MessageID string
	Err       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("history unavailable at message %s: %v", e.MessageID, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Fetcher resolves a message by ID. chat.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, channelID, messageID string) (*chat.Message, error)
}

// Options configure an Assembler.
type Options struct {
	// Sizer is the budget metric (default: RuneSizer)
	Sizer Sizer

	// MaxHops is the maximum number of predecessors followed (0 = none)
	MaxHops int

	// SelfID marks turns authored by the bot as assistant turns
	SelfID string

	// Clean extracts the prompt-worthy text of a message (default: Content
	// with mentions of SelfID removed)
	Clean func(m *chat.Message) string
}

// Assembler builds bounded conversation windows by walking reply chains.
// It keeps no state between calls.
type Assembler struct {
	fetcher Fetcher
	opts    Options
}

// NewAssembler creates an assembler that resolves predecessors via fetcher.
func NewAssembler(fetcher Fetcher, opts Options) *Assembler {
	if opts.Sizer == nil {
		opts.Sizer = RuneSizer{}
	}
	if opts.Clean == nil {
		selfID := opts.SelfID
		opts.Clean = func(m *chat.Message) string {
			return StripMention(m.Content, selfID)
		}
	}
	return &Assembler{fetcher: fetcher, opts: opts}
}

// Build walks from trigger to older messages and returns the largest
// newest-first run of turns whose total size fits in budget.
//
// A failed lookup ends the walk and is reported in Window.HistoryErr. Only
// cancellation of ctx fails the build.
func (a *Assembler) Build(ctx context.Context, trigger *chat.Message, budget int) (*Window, error) {
	w := &Window{Budget: budget}

	var newestFirst []Turn
	msg := trigger
	resolved := 0
	for {
		turn := a.turnOf(msg)

		if len(newestFirst) == 0 && turn.Size > budget {
			// the newest turn alone is too large; cut it and stop
			turn.Text = a.opts.Sizer.Truncate(turn.Text, budget)
			turn.Size = a.opts.Sizer.Size(turn.Text)
			newestFirst = append(newestFirst, turn)
			w.Size = turn.Size
			w.Truncated = true
			break
		}
		if w.Size+turn.Size > budget {
			w.Truncated = true
			break
		}
		newestFirst = append(newestFirst, turn)
		w.Size += turn.Size

		if msg.ReplyToID == "" || resolved >= a.opts.MaxHops {
			break
		}

		prev, err := a.fetcher.Fetch(ctx, msg.ChannelID, msg.ReplyToID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			w.HistoryErr = &UnavailableError{MessageID: msg.ReplyToID, Err: err}
			break
		}
		resolved++
		msg = prev
	}

	w.Turns = make([]Turn, len(newestFirst))
	for i, turn := range newestFirst {
		w.Turns[len(newestFirst)-1-i] = turn
	}
	return w, nil
}

func (a *Assembler) turnOf(m *chat.Message) Turn {
	role := RoleUser
	if a.opts.SelfID != "" && m.AuthorID == a.opts.SelfID {
		role = RoleAssistant
	}
	text := a.opts.Clean(m)
	return Turn{
		Role:      role,
		Author:    m.AuthorName,
		Text:      text,
		MessageID: m.ID,
		Size:      a.opts.Sizer.Size(text),
	}
}

// =============================================================================
// PROMPT RENDERING
// =============================================================================

// Labels name the speakers in a rendered prompt.
type Labels struct {
	User      string
	Assistant string
	// System, when set, is placed before the conversation
	System string
}

// Render formats the window as a completion prompt ending with the
// assistant label, so the model continues as the assistant.
func (w *Window) Render(labels Labels) string {
	var b strings.Builder
	if labels.System != "" {
		b.WriteString(strings.TrimSpace(labels.System))
		b.WriteString("\n\n")
	}
	for _, turn := range w.Turns {
		label := labels.User
		if turn.Role == RoleAssistant {
			label = labels.Assistant
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
	b.WriteString(labels.Assistant)
	b.WriteString(":")
	return b.String()
}

// StripMention removes Discord-style mentions of userID and trims space.
func StripMention(content, userID string) string {
	if userID != "" {
		content = strings.ReplaceAll(content, "<@"+userID+">", "")
		content = strings.ReplaceAll(content, "<@!"+userID+">", "")
	}
	return strings.TrimSpace(content)
}
