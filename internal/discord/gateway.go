// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-bot/internal/bot"
	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/commands"
)

// Intents needed for messages, reactions and message content.
const Intents = discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

// =============================================================================
// GATEWAY
// =============================================================================

// Gateway owns the Discord session: it connects, registers slash commands
// and dispatches events to the bot.
type Gateway struct {
	session *discordgo.Session
	logger  *zap.Logger
	selfID  string
	// GuildID limits slash command registration to one guild, which
	// propagates instantly; empty registers globally
	GuildID string
}

// NewGateway creates a session for token without connecting.
func NewGateway(token string, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = Intents
	session.StateEnabled = true
	return &Gateway{session: session, logger: logger}, nil
}

// Open connects to the gateway and returns the bot's user ID.
func (g *Gateway) Open() (string, error) {
	if err := g.session.Open(); err != nil {
		return "", fmt.Errorf("connecting to discord: %w", err)
	}
	if g.session.State == nil || g.session.State.User == nil {
		_ = g.session.Close()
		return "", errors.New("discord: ready event carried no user")
	}
	g.selfID = g.session.State.User.ID
	g.logger.Info("connected to discord",
		zap.String("user", g.session.State.User.Username),
		zap.String("user_id", g.selfID))
	return g.selfID, nil
}

// Client returns the REST client for an open gateway.
func (g *Gateway) Client() *Client {
	return NewClient(g.session, g.selfID)
}

// RegisterCommands overwrites the application's slash commands with the
// enabled commands of reg.
func (g *Gateway) RegisterCommands(ctx context.Context, reg *commands.Registry) error {
	cmds := SlashCommands(reg)
	appID := g.session.State.User.ID
	if _, err := g.session.ApplicationCommandBulkOverwrite(appID, g.GuildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	g.logger.Info("slash commands registered", zap.Int("count", len(cmds)), zap.String("guild", g.GuildID))
	return nil
}

// Run dispatches events to b until ctx is done, then disconnects.
func (g *Gateway) Run(ctx context.Context, b *bot.Bot) error {
	removers := []func(){
		g.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if m.Message == nil {
				return
			}
			if err := b.HandleMessage(ctx, convertMessage(m.Message, g.selfID)); err != nil {
				g.logHandlerError("message", err)
			}
		}),
		g.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
			if r.MessageReaction == nil {
				return
			}
			b.HandleReaction(ctx, chat.Reaction{
				ChannelID: r.ChannelID,
				MessageID: r.MessageID,
				UserID:    r.UserID,
				Emoji:     r.Emoji.Name,
			})
		}),
		g.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			if i.Type == discordgo.InteractionMessageComponent {
				g.handleComponent(ctx, s, i, b)
				return
			}
			if i.Type != discordgo.InteractionApplicationCommand {
				return
			}
			inv := invocationFrom(i.ApplicationCommandData())
			inv.ChannelID = i.ChannelID
			inv.UserID = interactionUser(i.Interaction)
			inv.Responder = &interactionResponder{session: s, interaction: i.Interaction, selfID: g.selfID}
			if err := b.HandleCommand(ctx, inv); err != nil {
				g.logHandlerError("command", err)
			}
		}),
	}

	<-ctx.Done()
	for _, remove := range removers {
		remove()
	}
	b.Wait()
	if err := g.session.Close(); err != nil {
		return fmt.Errorf("closing discord session: %w", err)
	}
	g.logger.Info("disconnected from discord")
	return nil
}

// handleComponent answers a cancel button press.
func (g *Gateway) handleComponent(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, b *bot.Bot) {
	if i.Message == nil || i.MessageComponentData().CustomID != CancelButtonID {
		return
	}
	canceled := b.CancelResponse(ctx, i.Message.ID, interactionUser(i.Interaction))
	if err := s.InteractionRespond(i.Interaction, cancelPressResponse(canceled), discordgo.WithContext(ctx)); err != nil {
		g.logHandlerError("component", mapError("respond", err))
	}
}

func (g *Gateway) logHandlerError(kind string, err error) {
	var missing *commands.MissingPlaceholderError
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, commands.ErrNotFound), errors.Is(err, commands.ErrDisabled), errors.As(err, &missing):
		g.logger.Debug("command rejected", zap.String("kind", kind), zap.Error(err))
	default:
		g.logger.Warn("handler failed", zap.String("kind", kind), zap.Error(err))
	}
}

// interactionUser returns the invoking user in guilds and DMs alike.
func interactionUser(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
