// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat defines the platform-neutral view of a chat service.
package chat

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// MESSAGE MODEL
// =============================================================================

// Attachment is a file attached to a message.
type Attachment struct {
	ID          string
	Filename    string
	URL         string
	ContentType string
	Size        int
}

// IsText reports whether the attachment looks like plain text.
func (a Attachment) IsText() bool {
	if strings.HasPrefix(a.ContentType, "text/") {
		return true
	}
	for _, ext := range []string{".txt", ".md", ".csv", ".json", ".log"} {
		if strings.HasSuffix(strings.ToLower(a.Filename), ext) {
			return true
		}
	}
	return false
}

// Message is a chat message as seen by the bot.
type Message struct {
	ID        string
	ChannelID string
	// GuildID is empty for direct messages.
	GuildID string

	AuthorID    string
	AuthorName  string
	AuthorIsBot bool

	Content string

	// ReplyToID is the message this one replies to, empty if none.
	ReplyToID string
	// ReplyToAuthorID is filled when the platform delivers the referenced
	// message along with the reply.
	ReplyToAuthorID string

	// MentionsSelf is set by the adapter when the bot user is mentioned.
	MentionsSelf bool

	Attachments []Attachment
	Timestamp   time.Time
}

// IsDirect reports whether the message was sent in a direct message channel.
func (m *Message) IsDirect() bool {
	return m.GuildID == ""
}

// IsReply reports whether the message references a predecessor.
func (m *Message) IsReply() bool {
	return m.ReplyToID != ""
}

// =============================================================================
// CONVERSATION KEY
// =============================================================================

// ConversationKey identifies a logical thread. At most one generation runs
// per key at any time.
type ConversationKey struct {
	ChannelID string
	RootID    string
}

// KeyFor returns the conversation key of a message: the message it replies
// to, or the message itself when it starts a thread.
func KeyFor(m *Message) ConversationKey {
	root := m.ID
	if m.ReplyToID != "" {
		root = m.ReplyToID
	}
	return ConversationKey{ChannelID: m.ChannelID, RootID: root}
}

// String returns "channel/root".
func (k ConversationKey) String() string {
	return k.ChannelID + "/" + k.RootID
}

// IsZero reports whether the key is unset.
func (k ConversationKey) IsZero() bool {
	return k.ChannelID == "" && k.RootID == ""
}

// =============================================================================
// CLIENT PORT
// =============================================================================

// Client is the subset of a chat platform's REST surface the bot relies on.
// Implementations must be safe for concurrent use.
type Client interface {
	// Send posts a new message. replyTo may be empty.
	Send(ctx context.Context, channelID, content, replyTo string) (*Message, error)

	// Edit replaces the content of a message previously sent by the bot.
	Edit(ctx context.Context, channelID, messageID, content string) error

	// Fetch retrieves a message by ID, for reply-chain traversal.
	Fetch(ctx context.Context, channelID, messageID string) (*Message, error)

	// FetchAttachment downloads the content of an attachment.
	FetchAttachment(ctx context.Context, a Attachment) ([]byte, error)
}

// Responder creates the outbound message for one invocation. Platforms
// with interactions (slash commands) answer through the interaction; text
// platforms reply to the invoking message.
type Responder interface {
	// Reply posts the visible response message that will be streamed into.
	Reply(ctx context.Context, content string) (*Message, error)

	// Notify sends feedback only the invoking user needs to see, where the
	// platform supports it.
	Notify(ctx context.Context, content string) error
}

// CancelControls is implemented by clients that can show a cancel button
// on a message the bot sent. Pressing it is delivered to the bot like a
// cancel reaction.
type CancelControls interface {
	ShowCancel(ctx context.Context, channelID, messageID string, show bool) error
}

// MessageResponder answers by replying to a message through a Client.
type MessageResponder struct {
	Client  Client
	Trigger *Message
}

// Reply sends content as a reply to the trigger message.
func (r MessageResponder) Reply(ctx context.Context, content string) (*Message, error) {
	return r.Client.Send(ctx, r.Trigger.ChannelID, content, r.Trigger.ID)
}

// Notify replies to the trigger message; text channels have no private
// feedback.
func (r MessageResponder) Notify(ctx context.Context, content string) error {
	_, err := r.Client.Send(ctx, r.Trigger.ChannelID, content, r.Trigger.ID)
	return err
}

// Reaction is an emoji reaction added to a message.
type Reaction struct {
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
}
