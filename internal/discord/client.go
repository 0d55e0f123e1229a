// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jeranaias/rigrun-bot/internal/chat"
)

// MaxMessageLength is Discord's content limit in characters.
const MaxMessageLength = 2000

// maxDownloadBytes bounds attachment downloads.
const maxDownloadBytes = 1 << 20

// =============================================================================
// CLIENT
// =============================================================================

// Client implements chat.Client over the Discord REST API.
type Client struct {
	session *discordgo.Session
	selfID  string
}

var (
	_ chat.Client         = (*Client)(nil)
	_ chat.CancelControls = (*Client)(nil)
)

// NewClient wraps an open session. selfID is the bot's user ID.
func NewClient(session *discordgo.Session, selfID string) *Client {
	return &Client{session: session, selfID: selfID}
}

// Send implements chat.Client.
func (c *Client) Send(ctx context.Context, channelID, content, replyTo string) (*chat.Message, error) {
	send := &discordgo.MessageSend{
		Content: content,
		// Generated text must never ping anyone.
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if replyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
	}

	msg, err := c.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("send", err)
	}
	return convertMessage(msg, c.selfID), nil
}

// Edit implements chat.Client.
func (c *Client) Edit(ctx context.Context, channelID, messageID, content string) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	edit.AllowedMentions = &discordgo.MessageAllowedMentions{}
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return mapError("edit", err)
	}
	return nil
}

// ShowCancel implements chat.CancelControls.
func (c *Client) ShowCancel(ctx context.Context, channelID, messageID string, show bool) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Components = cancelComponents(show)
	if _, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return mapError("edit components", err)
	}
	return nil
}

// Fetch implements chat.Client.
func (c *Client) Fetch(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	msg, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError("fetch", err)
	}
	return convertMessage(msg, c.selfID), nil
}

// FetchAttachment implements chat.Client.
func (c *Client) FetchAttachment(ctx context.Context, a chat.Attachment) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.session.Client.Do(req)
	if err != nil {
		return nil, &chat.TransientError{Op: "download", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, chat.ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return nil, chat.ErrForbidden
	case resp.StatusCode != http.StatusOK:
		return nil, &chat.TransientError{Op: "download", Err: fmt.Errorf("status %s", resp.Status)}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

// =============================================================================
// CONVERSION
// =============================================================================

// convertMessage maps a discordgo message to the platform-neutral model.
func convertMessage(m *discordgo.Message, selfID string) *chat.Message {
	out := &chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorName = m.Author.Username
		out.AuthorIsBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		out.ReplyToID = m.MessageReference.MessageID
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		out.ReplyToAuthorID = m.ReferencedMessage.Author.ID
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == selfID {
			out.MentionsSelf = true
			break
		}
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		out.Attachments = append(out.Attachments, chat.Attachment{
			ID:          a.ID,
			Filename:    a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return out
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// mapError classifies a discordgo error into the chat error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *discordgo.RateLimitError
	if errors.As(err, &rateErr) {
		te := &chat.TransientError{Op: op, Err: err}
		if rateErr.RateLimit != nil && rateErr.TooManyRequests != nil {
			te.RetryAfter = rateErr.TooManyRequests.RetryAfter
		}
		return te
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		status := restErr.Response.StatusCode
		switch {
		case status == http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
		case status == http.StatusForbidden || status == http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, chat.ErrForbidden)
		case status == http.StatusTooManyRequests || status >= 500:
			return &chat.TransientError{Op: op, RetryAfter: retryAfter(restErr.Response.Header), Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &chat.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryAfter parses a Retry-After header given in (possibly fractional)
// seconds.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
