// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/jeranaias/rigrun-bot/internal/bot"
	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/render"
)

// interactionResponder answers a slash command through its interaction.
// Notify is ephemeral; Reply is the visible response that gets streamed.
type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	selfID      string
}

var _ bot.TargetResponder = (*interactionResponder)(nil)

func (r *interactionResponder) Reply(ctx context.Context, content string) (*chat.Message, error) {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("respond", err)
	}

	msg, err := r.session.InteractionResponse(r.interaction, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("respond", err)
	}
	out := convertMessage(msg, r.selfID)
	if out.ChannelID == "" {
		out.ChannelID = r.interaction.ChannelID
	}
	return out, nil
}

func (r *interactionResponder) Notify(ctx context.Context, content string) error {
	err := r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	return mapError("notify", err)
}

func (r *interactionResponder) Target(*chat.Message) render.Target {
	return interactionTarget{session: r.session, interaction: r.interaction}
}

// interactionTarget edits the original interaction response.
type interactionTarget struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

var _ render.CancelControl = interactionTarget{}

func (t interactionTarget) Edit(ctx context.Context, content string) error {
	_, err := t.session.InteractionResponseEdit(t.interaction, &discordgo.WebhookEdit{
		Content:         &content,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	return mapError("edit", err)
}

func (t interactionTarget) ShowCancel(ctx context.Context, show bool) error {
	_, err := t.session.InteractionResponseEdit(t.interaction, &discordgo.WebhookEdit{
		Components: cancelComponents(show),
	}, discordgo.WithContext(ctx))
	return mapError("edit components", err)
}

// =============================================================================
// CANCEL BUTTON
// =============================================================================

// CancelButtonID is the custom ID of the cancel button.
const CancelButtonID = "cancel"

// cancelComponents returns the message components with or without the
// cancel button. An empty list clears existing components.
func cancelComponents(show bool) *[]discordgo.MessageComponent {
	if !show {
		return &[]discordgo.MessageComponent{}
	}
	return &[]discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label:    "Cancel",
				Style:    discordgo.DangerButton,
				CustomID: CancelButtonID,
			},
		}},
	}
}

// cancelPressResponse acknowledges a cancel button press. A press that
// canceled nothing gets an ephemeral explanation.
func cancelPressResponse(canceled bool) *discordgo.InteractionResponse {
	if canceled {
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Only the person who asked can cancel this, and only while it is running.",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}
