// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/commands"
	"github.com/jeranaias/rigrun-bot/internal/config"
)

func restError(status int, header http.Header) error {
	if header == nil {
		header = http.Header{}
	}
	return &discordgo.RESTError{
		Response: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     header,
		},
	}
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestMapError(t *testing.T) {
	require.NoError(t, mapError("edit", nil))
	require.ErrorIs(t, mapError("edit", restError(404, nil)), chat.ErrNotFound)
	require.ErrorIs(t, mapError("edit", restError(403, nil)), chat.ErrForbidden)
	require.ErrorIs(t, mapError("edit", context.Canceled), context.Canceled)

	err := mapError("edit", restError(429, http.Header{"Retry-After": []string{"1.5"}}))
	require.True(t, chat.IsTransient(err))
	require.Equal(t, 1500*time.Millisecond, chat.RetryAfter(err))

	require.True(t, chat.IsTransient(mapError("edit", restError(502, nil))))
	require.False(t, chat.IsTransient(mapError("edit", restError(400, nil))))
	require.False(t, chat.IsTransient(mapError("edit", errors.New("bad"))))
}

func TestMapRateLimitError(t *testing.T) {
	err := mapError("send", &discordgo.RateLimitError{RateLimit: &discordgo.RateLimit{
		TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 3 * time.Second},
	}})
	require.True(t, chat.IsTransient(err))
	require.Equal(t, 3*time.Second, chat.RetryAfter(err))
}

func TestRetryAfterHeader(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 0},
		{"2", 2 * time.Second},
		{"0.25", 250 * time.Millisecond},
		{"soon", 0},
		{"-1", 0},
	}
	for _, tc := range tests {
		h := http.Header{}
		if tc.value != "" {
			h.Set("Retry-After", tc.value)
		}
		if got := retryAfter(h); got != tc.want {
			t.Errorf("retryAfter(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

// =============================================================================
// CONVERSION TESTS
// =============================================================================

func TestConvertMessage(t *testing.T) {
	msg := &discordgo.Message{
		ID:        "m2",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "<@self> hi",
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
		Mentions:  []*discordgo.User{{ID: "someone"}, {ID: "self"}},
		MessageReference: &discordgo.MessageReference{
			MessageID: "m1",
		},
		ReferencedMessage: &discordgo.Message{ID: "m1", Author: &discordgo.User{ID: "self", Bot: true}},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "a1", Filename: "notes.txt", URL: "https://cdn/notes.txt", ContentType: "text/plain", Size: 12},
		},
	}

	got := convertMessage(msg, "self")
	require.Equal(t, "m2", got.ID)
	require.Equal(t, "alice", got.AuthorName)
	require.True(t, got.MentionsSelf)
	require.Equal(t, "m1", got.ReplyToID)
	require.Equal(t, "self", got.ReplyToAuthorID)
	require.False(t, got.IsDirect())
	require.Len(t, got.Attachments, 1)
	require.True(t, got.Attachments[0].IsText())
}

// =============================================================================
// SLASH COMMAND TESTS
// =============================================================================

func TestSlashCommands(t *testing.T) {
	reg, err := commands.NewRegistry(map[string]config.CommandConfig{
		"makecaption": {Enabled: true, Description: "Caption a scene", Prompt: "Describe {{PROMPT}}"},
		"summarize":   {Enabled: true, Prompt: "{{ATTACHMENT}} {{PROMPT}}", Defaults: map[string]string{"PROMPT": "briefly"}},
		"hallucinate": {Enabled: false, Prompt: "{{PROMPT}}"},
	}, commands.Options{})
	require.NoError(t, err)

	cmds := SlashCommands(reg)
	var names []string
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"makecaption", "summarize", "stop"}, names)

	caption := cmds[0]
	require.Equal(t, "Caption a scene", caption.Description)
	require.Equal(t, optPrompt, caption.Options[0].Name)
	require.True(t, caption.Options[0].Required)

	summarize := cmds[1]
	require.Equal(t, optAttachment, summarize.Options[0].Name)
	require.True(t, summarize.Options[0].Required)
	require.Equal(t, optPrompt, summarize.Options[1].Name)
	require.False(t, summarize.Options[1].Required)
}

func TestInvocationFrom(t *testing.T) {
	data := discordgo.ApplicationCommandInteractionData{
		Name: "summarize",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: optPrompt, Type: discordgo.ApplicationCommandOptionString, Value: "dates only"},
			{Name: optAttachment, Type: discordgo.ApplicationCommandOptionAttachment, Value: "a1"},
			{Name: optTemperature, Type: discordgo.ApplicationCommandOptionNumber, Value: 0.2},
			{Name: optTopK, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(10)},
			{Name: optSeed, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(42)},
		},
		Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
			Attachments: map[string]*discordgo.MessageAttachment{
				"a1": {ID: "a1", Filename: "notes.txt", URL: "https://cdn/notes.txt", Size: 5},
			},
		},
	}

	inv := invocationFrom(data)
	require.Equal(t, "summarize", inv.Command)
	require.Equal(t, "dates only", inv.Prompt)
	require.NotNil(t, inv.Attachment)
	require.Equal(t, "notes.txt", inv.Attachment.Filename)
	require.NotNil(t, inv.Overrides)
	require.Equal(t, 0.2, *inv.Overrides.Temperature)
	require.Equal(t, 10, *inv.Overrides.TopK)
	require.Equal(t, int64(42), *inv.Overrides.Seed)
	require.Nil(t, inv.Overrides.TopP)
}

func TestInvocationWithoutOverrides(t *testing.T) {
	inv := invocationFrom(discordgo.ApplicationCommandInteractionData{Name: "stop"})
	require.Equal(t, "stop", inv.Command)
	require.Nil(t, inv.Overrides)
	require.Nil(t, inv.Attachment)
}

func TestInteractionUser(t *testing.T) {
	require.Equal(t, "m", interactionUser(&discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "m"}}}))
	require.Equal(t, "u", interactionUser(&discordgo.Interaction{User: &discordgo.User{ID: "u"}}))
	require.Equal(t, "", interactionUser(&discordgo.Interaction{}))
}

func TestCancelComponents(t *testing.T) {
	shown := *cancelComponents(true)
	require.Len(t, shown, 1)
	row, ok := shown[0].(discordgo.ActionsRow)
	require.True(t, ok)
	require.Len(t, row.Components, 1)
	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	require.Equal(t, CancelButtonID, button.CustomID)
	require.Equal(t, discordgo.DangerButton, button.Style)

	hidden := cancelComponents(false)
	require.NotNil(t, hidden, "nil would leave the button in place")
	require.Empty(t, *hidden)
}

func TestCancelPressResponse(t *testing.T) {
	require.Equal(t, discordgo.InteractionResponseDeferredMessageUpdate, cancelPressResponse(true).Type)

	refused := cancelPressResponse(false)
	require.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, refused.Type)
	require.Equal(t, discordgo.MessageFlagsEphemeral, refused.Data.Flags)
}
