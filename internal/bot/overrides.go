// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-bot/internal/commands"
	"github.com/jeranaias/rigrun-bot/internal/jobs"
)

// Overrides are per-invocation sampling parameters. Nil fields keep the
// configured value.
type Overrides struct {
	Temperature   *float64
	TopK          *int
	TopP          *float64
	RepeatPenalty *float64
	RepeatLastN   *int
	MaxTokens     *int
	Seed          *int64
}

func (o *Overrides) apply(p *jobs.SamplingParams) {
	if o == nil {
		return
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	if o.TopK != nil {
		p.TopK = *o.TopK
	}
	if o.TopP != nil {
		p.TopP = *o.TopP
	}
	if o.RepeatPenalty != nil {
		p.RepeatPenalty = *o.RepeatPenalty
	}
	if o.RepeatLastN != nil {
		p.RepeatLastN = *o.RepeatLastN
	}
	if o.MaxTokens != nil {
		p.MaxTokens = *o.MaxTokens
	}
	if o.Seed != nil {
		p.Seed = o.Seed
	}
}

// userMessage turns a command rejection into text for the invoking user.
func userMessage(err error) string {
	var missing *commands.MissingPlaceholderError
	var attach *AttachmentError

	switch {
	case errors.Is(err, commands.ErrNotFound):
		return "Unknown command."
	case errors.Is(err, commands.ErrDisabled):
		return "That command is disabled."
	case errors.As(err, &missing):
		if missing.Placeholder == commands.PlaceholderAttachment {
			return "This command needs a text file attached."
		}
		if missing.Placeholder == commands.PlaceholderPrompt {
			return "This command needs a prompt."
		}
		return fmt.Sprintf("This command needs a value for %s.", missing.Placeholder)
	case errors.As(err, &attach):
		return fmt.Sprintf("Could not use %s: %s.", attach.Filename, attach.Reason)
	default:
		return "Something went wrong."
	}
}
