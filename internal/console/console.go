// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-bot/internal/bot"
	"github.com/jeranaias/rigrun-bot/internal/chat"
)

// Identities used on the console platform.
const (
	ChannelID = "console"
	SelfID    = "rigrun-bot"
	UserID    = "operator"
)

// =============================================================================
// CONSOLE
// =============================================================================

// Console is a local chat platform: operator lines become messages in a
// chat.Memory and bot messages are printed as they stream.
type Console struct {
	mem    *chat.Memory
	out    io.Writer
	styles styles
	logger *zap.Logger

	mu      sync.Mutex
	printed map[string]string
	lastBot string // last response message, continued by plain lines
}

// New creates a console writing to out. The returned Memory is the chat
// client to build the bot with.
func New(out io.Writer, logger *zap.Logger) (*Console, *chat.Memory) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mem := chat.NewMemory(SelfID, "rigrun-bot")
	c := &Console{mem: mem, out: out, styles: newStyles(out), logger: logger, printed: make(map[string]string)}
	mem.OnSend = c.onSend
	mem.OnEdit = c.onEdit
	return c, mem
}

// Run reads lines until EOF, "/quit" or ctx is done. Lines starting with "/"
// are commands; anything else continues the conversation with the last
// response. Generation runs in the background so "/stop" works while a
// response streams.
func (c *Console) Run(ctx context.Context, b *bot.Bot, in LineReader) error {
	defer in.Close()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := in.ReadLine("you> ")
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.dispatch(ctx, b, line); err != nil {
					c.logger.Debug("console input failed", zap.Error(err))
				}
			}()
		}
	}
}

// dispatch stores the line as an operator message and hands it to the bot.
func (c *Console) dispatch(ctx context.Context, b *bot.Bot, line string) error {
	if strings.HasPrefix(line, "/") {
		trigger := c.mem.Put(chat.Message{ChannelID: ChannelID, AuthorID: UserID, AuthorName: UserID, Content: line})
		name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
		return b.HandleCommand(ctx, bot.Invocation{
			Command:   name,
			Prompt:    strings.TrimSpace(args),
			ChannelID: ChannelID,
			UserID:    UserID,
			Responder: chat.MessageResponder{Client: c.mem, Trigger: &trigger},
		})
	}

	c.mu.Lock()
	replyTo := c.lastBot
	c.mu.Unlock()

	// No guild: every console line is a direct message.
	msg := c.mem.Put(chat.Message{
		ChannelID:  ChannelID,
		AuthorID:   UserID,
		AuthorName: UserID,
		Content:    line,
		ReplyToID:  replyTo,
	})
	return b.HandleMessage(ctx, &msg)
}

// =============================================================================
// OUTPUT
// =============================================================================

func (c *Console) onSend(m chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printed[m.ID] = ""
	if ref, ok := c.mem.Message(m.ReplyToID); ok && !strings.HasPrefix(ref.Content, "/") {
		c.lastBot = m.ID
	}
	fmt.Fprintf(c.out, "%s %s\n", c.styles.bot.Render("bot>"), m.Content)
}

// onEdit prints what an edit appended, or the whole text when an edit
// rewrote earlier output.
func (c *Console) onEdit(m chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.printed[m.ID]
	if strings.HasPrefix(m.Content, prev) {
		fmt.Fprint(c.out, m.Content[len(prev):])
	} else {
		fmt.Fprintf(c.out, "\n%s", m.Content)
	}
	c.printed[m.ID] = m.Content
}
