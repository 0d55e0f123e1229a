// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat defines the platform-neutral view of a chat service.
package chat

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// IN-MEMORY CLIENT
// =============================================================================

// Memory is a Client that keeps every message in process memory. The
// console platform uses it as its message store and tests use it as a fake
// platform.
type Memory struct {
	selfID   string
	selfName string

	mu          sync.Mutex
	nextID      int
	messages    map[string]*Message
	edits       map[string][]string
	attachments map[string][]byte
	editDelay   time.Duration
	failEdits   []error
	failSends   []error
	cancelable  map[string]bool

	// OnSend and OnEdit are called after the store is updated, outside the
	// lock. Set them before the client is shared.
	OnSend func(m Message)
	OnEdit func(m Message)
}

// NewMemory creates an empty in-memory client whose own messages are
// authored by selfID.
func NewMemory(selfID, selfName string) *Memory {
	return &Memory{
		selfID:      selfID,
		selfName:    selfName,
		messages:    make(map[string]*Message),
		edits:       make(map[string][]string),
		attachments: make(map[string][]byte),
		cancelable:  make(map[string]bool),
	}
}

// SelfID returns the user ID the client sends as.
func (c *Memory) SelfID() string {
	return c.selfID
}

// Put stores an inbound message, assigning an ID when it has none, and
// returns the stored copy.
func (c *Memory) Put(m Message) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m.ID == "" {
		m.ID = c.newIDLocked()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.ReplyToID != "" && m.ReplyToAuthorID == "" {
		if ref, ok := c.messages[m.ReplyToID]; ok {
			m.ReplyToAuthorID = ref.AuthorID
		}
	}
	stored := m
	c.messages[m.ID] = &stored
	return stored
}

// Delete removes a message, simulating a deleted or expired message.
func (c *Memory) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, id)
}

// AddAttachment registers downloadable content for an attachment URL.
func (c *Memory) AddAttachment(url string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments[url] = data
}

// SetEditDelay makes every Edit block for d, simulating a slow platform.
func (c *Memory) SetEditDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editDelay = d
}

// FailEdits makes the next len(errs) edits fail with the given errors.
func (c *Memory) FailEdits(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failEdits = append(c.failEdits, errs...)
}

// FailSends makes the next len(errs) sends fail with the given errors.
func (c *Memory) FailSends(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSends = append(c.failSends, errs...)
}

// HasCancel reports whether message id currently shows a cancel button.
func (c *Memory) HasCancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelable[id]
}

// ShowCancel implements CancelControls.
func (c *Memory) ShowCancel(ctx context.Context, channelID, messageID string, show bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return ErrNotFound
	}
	if m.AuthorID != c.selfID {
		return ErrForbidden
	}
	if show {
		c.cancelable[messageID] = true
	} else {
		delete(c.cancelable, messageID)
	}
	return nil
}

// Message returns a copy of a stored message.
func (c *Memory) Message(id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[id]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Edits returns the successive contents a message was edited to.
func (c *Memory) Edits(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.edits[id]...)
}

// Sent returns every message authored by the client, oldest first.
func (c *Memory) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Message
	for i := 1; i <= c.nextID; i++ {
		if m, ok := c.messages[strconv.Itoa(i)]; ok && m.AuthorID == c.selfID {
			out = append(out, *m)
		}
	}
	return out
}

// Send implements Client.
func (c *Memory) Send(ctx context.Context, channelID, content, replyTo string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.failSends) > 0 {
		err := c.failSends[0]
		c.failSends = c.failSends[1:]
		c.mu.Unlock()
		return nil, err
	}
	m := &Message{
		ID:          c.newIDLocked(),
		ChannelID:   channelID,
		AuthorID:    c.selfID,
		AuthorName:  c.selfName,
		AuthorIsBot: true,
		Content:     content,
		ReplyToID:   replyTo,
		Timestamp:   time.Now(),
	}
	if ref, ok := c.messages[replyTo]; ok {
		m.ReplyToAuthorID = ref.AuthorID
		m.GuildID = ref.GuildID
	}
	c.messages[m.ID] = m
	out := *m
	hook := c.OnSend
	c.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return &out, nil
}

// Edit implements Client.
func (c *Memory) Edit(ctx context.Context, channelID, messageID, content string) error {
	c.mu.Lock()
	delay := c.editDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	if len(c.failEdits) > 0 {
		err := c.failEdits[0]
		c.failEdits = c.failEdits[1:]
		c.mu.Unlock()
		return err
	}
	m, ok := c.messages[messageID]
	if !ok || m.ChannelID != channelID {
		c.mu.Unlock()
		return ErrNotFound
	}
	if m.AuthorID != c.selfID {
		c.mu.Unlock()
		return ErrForbidden
	}
	m.Content = content
	c.edits[messageID] = append(c.edits[messageID], content)
	out := *m
	hook := c.OnEdit
	c.mu.Unlock()

	if hook != nil {
		hook(out)
	}
	return nil
}

// Fetch implements Client.
func (c *Memory) Fetch(ctx context.Context, channelID, messageID string) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

// FetchAttachment implements Client.
func (c *Memory) FetchAttachment(ctx context.Context, a Attachment) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.attachments[a.URL]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// newIDLocked returns the next sequential message ID (must be called with lock held).
func (c *Memory) newIDLocked() string {
	for {
		c.nextID++
		id := strconv.Itoa(c.nextID)
		if _, taken := c.messages[id]; !taken {
			return id
		}
	}
}
