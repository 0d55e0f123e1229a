// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/jeranaias/rigrun-bot/internal/bot"
	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/commands"
	"github.com/jeranaias/rigrun-bot/internal/util"
)

// Slash command option names.
const (
	optPrompt        = "prompt"
	optAttachment    = "attachment"
	optTemperature   = "temperature"
	optTopK          = "top_k"
	optTopP          = "top_p"
	optRepeatPenalty = "repeat_penalty"
	optRepeatLastN   = "repeat_penalty_token_count"
	optMaxTokens     = "max_tokens"
	optSeed          = "seed"
)

// maxDescription is Discord's limit for command and option descriptions.
const maxDescription = 100

// =============================================================================
// REGISTRATION
// =============================================================================

// SlashCommands builds the application commands for every enabled command
// plus /stop.
func SlashCommands(reg *commands.Registry) []*discordgo.ApplicationCommand {
	var out []*discordgo.ApplicationCommand
	for _, cmd := range reg.Enabled() {
		out = append(out, slashCommand(cmd))
	}
	out = append(out, &discordgo.ApplicationCommand{
		Name:        bot.StopCommand,
		Description: "Stop your generations in this channel",
	})
	return out
}

func slashCommand(cmd *commands.Command) *discordgo.ApplicationCommand {
	desc := cmd.Description
	if desc == "" {
		desc = "Run the " + cmd.Name + " prompt"
	}

	var opts []*discordgo.ApplicationCommandOption
	for _, p := range cmd.Template.Placeholders() {
		switch p.Name {
		case commands.PlaceholderPrompt:
			opts = append(opts, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optPrompt,
				Description: "The prompt",
				Required:    p.Kind == commands.Required,
			})
		case commands.PlaceholderAttachment:
			opts = append(opts, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        optAttachment,
				Description: "A text file",
				Required:    p.Kind == commands.Required,
			})
		}
	}
	// Discord requires required options first.
	sortRequiredFirst(opts)

	minZero := 0.0
	opts = append(opts,
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionNumber, Name: optTemperature,
			Description: "Sampling temperature", MinValue: &minZero, MaxValue: 2,
		},
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionInteger, Name: optTopK,
			Description: "Sample from the k most likely tokens", MinValue: &minZero,
		},
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionNumber, Name: optTopP,
			Description: "Nucleus sampling threshold", MinValue: &minZero, MaxValue: 1,
		},
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionNumber, Name: optRepeatPenalty,
			Description: "Penalty for repeated tokens", MinValue: &minZero,
		},
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionInteger, Name: optRepeatLastN,
			Description: "How many recent tokens the repeat penalty covers", MinValue: &minZero,
		},
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionInteger, Name: optMaxTokens,
			Description: "Maximum tokens to generate", MinValue: &minZero,
		},
		&discordgo.ApplicationCommandOption{
			Type: discordgo.ApplicationCommandOptionInteger, Name: optSeed,
			Description: "Random seed for reproducible output",
		},
	)

	return &discordgo.ApplicationCommand{
		Name:        cmd.Name,
		Description: util.TruncateRunes(desc, maxDescription),
		Options:     opts,
	}
}

func sortRequiredFirst(opts []*discordgo.ApplicationCommandOption) {
	for i := 1; i < len(opts); i++ {
		for j := i; j > 0 && opts[j].Required && !opts[j-1].Required; j-- {
			opts[j], opts[j-1] = opts[j-1], opts[j]
		}
	}
}

// =============================================================================
// INVOCATION PARSING
// =============================================================================

// invocationFrom converts slash command data into a bot invocation. The
// responder, channel and user are filled by the caller.
func invocationFrom(data discordgo.ApplicationCommandInteractionData) bot.Invocation {
	inv := bot.Invocation{Command: data.Name}
	var o bot.Overrides
	set := false

	for _, opt := range data.Options {
		switch opt.Name {
		case optPrompt:
			inv.Prompt = opt.StringValue()
		case optAttachment:
			id, _ := opt.Value.(string)
			if data.Resolved != nil {
				if a, ok := data.Resolved.Attachments[id]; ok && a != nil {
					inv.Attachment = &chat.Attachment{
						ID:          a.ID,
						Filename:    a.Filename,
						URL:         a.URL,
						ContentType: a.ContentType,
						Size:        a.Size,
					}
				}
			}
		case optTemperature:
			v := opt.FloatValue()
			o.Temperature, set = &v, true
		case optTopK:
			v := int(opt.IntValue())
			o.TopK, set = &v, true
		case optTopP:
			v := opt.FloatValue()
			o.TopP, set = &v, true
		case optRepeatPenalty:
			v := opt.FloatValue()
			o.RepeatPenalty, set = &v, true
		case optRepeatLastN:
			v := int(opt.IntValue())
			o.RepeatLastN, set = &v, true
		case optMaxTokens:
			v := int(opt.IntValue())
			o.MaxTokens, set = &v, true
		case optSeed:
			v := opt.IntValue()
			o.Seed, set = &v, true
		}
	}
	if set {
		inv.Overrides = &o
	}
	return inv
}
