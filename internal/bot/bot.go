// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/commands"
	"github.com/jeranaias/rigrun-bot/internal/config"
	"github.com/jeranaias/rigrun-bot/internal/history"
	"github.com/jeranaias/rigrun-bot/internal/jobs"
	"github.com/jeranaias/rigrun-bot/internal/logging"
	"github.com/jeranaias/rigrun-bot/internal/render"
)

// StopCommand is the reserved command that cancels the caller's generations.
const StopCommand = "stop"

// cancelButtonTimeout bounds adding or removing the cancel button.
const cancelButtonTimeout = 5 * time.Second

// maxAttachmentBytes bounds the attachment text substituted into a prompt.
const maxAttachmentBytes = 64 * 1024

// =============================================================================
// BOT
// =============================================================================

// Options wire a Bot to its collaborators.
type Options struct {
	Config *config.Config
	Client chat.Client
	Queue  *jobs.Queue
	// SelfID is the platform user ID of the bot
	SelfID string
	// MaxLength caps rendered messages in runes (0 = unlimited)
	MaxLength int
	Logger    *zap.Logger
}

// Bot routes platform events to the command registry, the context
// assembler, the job queue and the renderer. Handlers are safe to call
// concurrently; each blocks until its response is fully rendered.
type Bot struct {
	cfg       *config.Config
	client    chat.Client
	queue     *jobs.Queue
	selfID    string
	maxLength int
	logger    *zap.Logger

	registry  *commands.Registry
	assembler *history.Assembler
	renderer  *render.Renderer
	// backoff retries placeholder sends and notices
	backoff chat.Backoff

	mu       sync.Mutex
	outbound map[string]*jobs.Job // response message ID to job
	wg       sync.WaitGroup
}

// New builds a Bot, parsing command templates and the budget metric from
// configuration.
func New(opts Options) (*Bot, error) {
	if opts.Config == nil || opts.Client == nil || opts.Queue == nil {
		return nil, errors.New("bot: config, client and queue are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config

	registry, err := commands.NewRegistry(cfg.Commands, commands.Options{
		ReplaceNewlines: cfg.Inference.ReplaceNewlines,
	})
	if err != nil {
		return nil, fmt.Errorf("loading commands: %w", err)
	}

	sizer, err := history.NewSizer(cfg.Conversation.BudgetMetric)
	if err != nil {
		return nil, err
	}
	if ts, ok := sizer.(*history.TokenSizer); ok && !ts.Exact() {
		logger.Warn("tokenizer unavailable, estimating tokens from length")
	}

	b := &Bot{
		cfg:       cfg,
		client:    opts.Client,
		queue:     opts.Queue,
		selfID:    opts.SelfID,
		maxLength: opts.MaxLength,
		logger:    logger,
		registry:  registry,
		renderer: render.New(render.Options{
			Interval:    cfg.Inference.UpdateInterval(),
			MaxAttempts: cfg.Inference.EditMaxAttempts,
			RetryDelay:  cfg.Inference.EditRetryDelay(),
		}, logger),
		backoff: chat.Backoff{
			MaxAttempts: cfg.Inference.EditMaxAttempts,
			Delay:       cfg.Inference.EditRetryDelay(),
			OnRetry: func(attempt int, wait time.Duration, err error) {
				logger.Debug("retrying send",
					zap.Int("attempt", attempt),
					zap.Duration("wait", wait),
					zap.Error(err))
			},
		},
		outbound: make(map[string]*jobs.Job),
	}
	b.assembler = history.NewAssembler(opts.Client, history.Options{
		Sizer:   sizer,
		MaxHops: cfg.Conversation.MaxHops,
		SelfID:  opts.SelfID,
		Clean:   b.cleanTurn,
	})
	return b, nil
}

// Registry returns the command registry, for platform registration.
func (b *Bot) Registry() *commands.Registry {
	return b.registry
}

// Wait blocks until every in-flight handler has returned.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// =============================================================================
// MESSAGES
// =============================================================================

// HandleMessage handles an inbound chat message: the stop command, prefix
// commands, and conversation turns addressed to the bot. Everything else,
// including messages from bots, is ignored.
func (b *Bot) HandleMessage(ctx context.Context, msg *chat.Message) error {
	if msg.AuthorIsBot || msg.AuthorID == b.selfID {
		return nil
	}
	b.wg.Add(1)
	defer b.wg.Done()

	ctx = logging.WithFields(ctx,
		zap.String("channel", msg.ChannelID),
		zap.String("message", msg.ID),
		zap.String("user", msg.AuthorID))
	responder := chat.MessageResponder{Client: b.client, Trigger: msg}

	if parsed, ok := commands.ParseInvocation(msg.Content, b.cfg.Inference.CommandPrefix); ok {
		if parsed.Name == StopCommand {
			return b.HandleStop(ctx, msg.ChannelID, msg.AuthorID, responder)
		}
		inv := Invocation{
			Command:   parsed.Name,
			Prompt:    parsed.Args,
			ChannelID: msg.ChannelID,
			UserID:    msg.AuthorID,
			Responder: responder,
		}
		for i := range msg.Attachments {
			if msg.Attachments[i].IsText() {
				inv.Attachment = &msg.Attachments[i]
				break
			}
		}
		return b.handleCommand(ctx, inv)
	}

	if !b.cfg.Conversation.Enabled || !b.addressed(msg) {
		return nil
	}
	return b.converse(ctx, msg)
}

// addressed reports whether a message is meant for the bot.
func (b *Bot) addressed(msg *chat.Message) bool {
	return msg.MentionsSelf || msg.IsDirect() || (b.selfID != "" && msg.ReplyToAuthorID == b.selfID)
}

// converse continues the reply chain ending at msg.
func (b *Bot) converse(ctx context.Context, msg *chat.Message) error {
	logger := logging.WithCtx(ctx, b.logger)

	window, err := b.assembler.Build(ctx, msg, b.cfg.Conversation.ContextBudget)
	if err != nil {
		return err
	}
	if window.HistoryErr != nil {
		logger.Warn("conversation history cut short", zap.Error(window.HistoryErr))
	}
	if len(window.Turns) == 0 || strings.TrimSpace(window.Turns[len(window.Turns)-1].Text) == "" {
		return nil
	}
	logger.Debug("context assembled",
		zap.Int("turns", len(window.Turns)),
		zap.Int("size", window.Size),
		zap.Bool("truncated", window.Truncated))

	prompt := window.Render(history.Labels{
		User:      b.cfg.Conversation.UserLabel,
		Assistant: b.cfg.Conversation.AssistantLabel,
		System:    b.cfg.Conversation.SystemPrompt,
	})

	formatter := render.PlainFormatter{MaxLength: b.maxLength}
	reply, err := b.backoff.Send(ctx, b.client, msg.ChannelID, formatter.Format("", render.Pending, nil), msg.ID)
	if err != nil {
		return fmt.Errorf("sending placeholder: %w", err)
	}

	job := jobs.New(chat.KeyFor(msg), prompt, b.params(nil))
	job.Requester = msg.AuthorID
	target := render.MessageTarget{Client: b.client, ChannelID: reply.ChannelID, MessageID: reply.ID}
	return b.run(ctx, job, reply.ID, target, formatter)
}

// =============================================================================
// COMMANDS
// =============================================================================

// Invocation is one command call from any platform surface.
type Invocation struct {
	Command   string
	Prompt    string
	ChannelID string
	UserID    string

	// Attachment is an optional file whose text fills {{ATTACHMENT}}
	Attachment *chat.Attachment

	// Overrides replace configured sampling parameters for this call
	Overrides *Overrides

	Responder chat.Responder
}

// TargetResponder is a Responder whose reply must be edited through the
// responder itself, as with slash command interactions.
type TargetResponder interface {
	chat.Responder
	Target(reply *chat.Message) render.Target
}

// HandleCommand resolves and runs a command. User errors (unknown or
// disabled command, missing input) are answered through Responder.Notify
// and no job is created; the error is returned as well.
func (b *Bot) HandleCommand(ctx context.Context, inv Invocation) error {
	b.wg.Add(1)
	defer b.wg.Done()

	ctx = logging.WithFields(ctx,
		zap.String("channel", inv.ChannelID),
		zap.String("user", inv.UserID),
		zap.String("command", inv.Command))
	if commands.NormalizeName(inv.Command) == StopCommand {
		return b.HandleStop(ctx, inv.ChannelID, inv.UserID, inv.Responder)
	}
	return b.handleCommand(ctx, inv)
}

func (b *Bot) handleCommand(ctx context.Context, inv Invocation) error {
	logger := logging.WithCtx(ctx, b.logger)
	responder := chat.RetryResponder{Responder: inv.Responder, Backoff: b.backoff}

	res, err := b.resolve(ctx, inv)
	if err != nil {
		logger.Debug("command rejected", zap.Error(err))
		if notifyErr := responder.Notify(ctx, userMessage(err)); notifyErr != nil {
			logger.Warn("could not deliver command error", zap.Error(notifyErr))
		}
		return err
	}

	display := res.UserPrompt
	if b.cfg.Inference.ShowPromptTemplate {
		display = res.Prompt
	}
	formatter := render.CommandFormatter{Prompt: display, MaxLength: b.maxLength}

	reply, err := responder.Reply(ctx, formatter.Format("", render.Pending, nil))
	if err != nil {
		return fmt.Errorf("sending placeholder: %w", err)
	}

	var target render.Target = render.MessageTarget{Client: b.client, ChannelID: reply.ChannelID, MessageID: reply.ID}
	if tr, ok := inv.Responder.(TargetResponder); ok {
		target = tr.Target(reply)
	}

	// Commands never share a conversation: each response is its own root.
	key := chat.ConversationKey{ChannelID: reply.ChannelID, RootID: reply.ID}
	job := jobs.New(key, res.Prompt, b.params(inv.Overrides))
	job.Requester = inv.UserID
	return b.run(ctx, job, reply.ID, target, formatter)
}

// resolve fetches attachment text when the template wants it, then
// materializes the prompt.
func (b *Bot) resolve(ctx context.Context, inv Invocation) (*commands.Resolution, error) {
	call := commands.Invocation{Prompt: inv.Prompt}

	cmd := b.registry.Get(inv.Command)
	if cmd != nil && cmd.Enabled && inv.Attachment != nil && cmd.Template.Uses(commands.PlaceholderAttachment) {
		text, err := b.attachmentText(ctx, *inv.Attachment)
		if err != nil {
			return nil, err
		}
		call.Attachment = text
		call.HasAttachment = true
	}
	return b.registry.Resolve(inv.Command, call)
}

// AttachmentError reports an attachment that cannot be used as prompt text.
type AttachmentError struct {
	Filename string
	Reason   string
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment %s: %s", e.Filename, e.Reason)
}

func (b *Bot) attachmentText(ctx context.Context, a chat.Attachment) (string, error) {
	if !a.IsText() {
		return "", &AttachmentError{Filename: a.Filename, Reason: "not a text file"}
	}
	if a.Size > maxAttachmentBytes {
		return "", &AttachmentError{Filename: a.Filename, Reason: "too large"}
	}
	data, err := b.client.FetchAttachment(ctx, a)
	if err != nil {
		return "", &AttachmentError{Filename: a.Filename, Reason: "download failed: " + err.Error()}
	}
	if len(data) > maxAttachmentBytes {
		return "", &AttachmentError{Filename: a.Filename, Reason: "too large"}
	}
	return string(data), nil
}

// =============================================================================
// STOP & REACTIONS
// =============================================================================

// HandleStop cancels every queued or running generation userID requested in
// channelID.
func (b *Bot) HandleStop(ctx context.Context, channelID, userID string, responder chat.Responder) error {
	n := b.queue.CancelWhere(func(j *jobs.Job) bool {
		return j.Key.ChannelID == channelID && j.Requester == userID
	})
	logging.WithCtx(ctx, b.logger).Info("stop requested", zap.Int("canceled", n))

	if responder == nil {
		return nil
	}
	text := "Nothing to stop."
	if n == 1 {
		text = "Stopped 1 generation."
	} else if n > 1 {
		text = fmt.Sprintf("Stopped %d generations.", n)
	}
	return chat.RetryResponder{Responder: responder, Backoff: b.backoff}.Notify(ctx, text)
}

// HandleReaction cancels the generation behind a response message when its
// requester reacts with the cancel emoji.
func (b *Bot) HandleReaction(ctx context.Context, r chat.Reaction) bool {
	if r.UserID == b.selfID || r.Emoji != b.cfg.Inference.CancelEmoji {
		return false
	}
	return b.CancelResponse(ctx, r.MessageID, r.UserID)
}

// CancelResponse cancels the generation streaming into messageID if userID
// requested it. It backs the cancel reaction and the cancel button.
func (b *Bot) CancelResponse(ctx context.Context, messageID, userID string) bool {
	b.mu.Lock()
	job := b.outbound[messageID]
	b.mu.Unlock()

	if job == nil || job.Requester != userID {
		return false
	}
	canceled := job.Cancel()
	if canceled {
		logging.WithCtx(ctx, b.logger).Info("generation canceled by requester",
			zap.String("job_id", job.ID),
			zap.String("user", userID))
	}
	return canceled
}

// =============================================================================
// EXECUTION
// =============================================================================

// run submits job and renders it into the response message.
func (b *Bot) run(ctx context.Context, job *jobs.Job, replyID string, target render.Target, f render.Formatter) error {
	logger := logging.WithCtx(ctx, b.logger).With(
		zap.String("job_id", job.ID),
		zap.Stringer("key", job.Key))

	b.mu.Lock()
	b.outbound[replyID] = job
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.outbound, replyID)
		b.mu.Unlock()
	}()

	if err := b.queue.Submit(job); err != nil {
		logger.Warn("job rejected", zap.Error(err))
		msg := "The bot is shutting down."
		if errors.Is(err, jobs.ErrQueueFull) {
			msg = "Too many requests are waiting, try again shortly."
		}
		if editErr := target.Edit(ctx, msg); editErr != nil {
			logger.Warn("could not report rejection", zap.Error(editErr))
		}
		return err
	}

	if cc, ok := target.(render.CancelControl); ok {
		b.showCancel(ctx, cc, true)
		// removal must run even after ctx is canceled
		defer b.showCancel(context.WithoutCancel(ctx), cc, false)
	}

	start := time.Now()
	outcome, err := b.renderer.Render(ctx, job, target, f)
	logger.Info("response rendered",
		zap.Stringer("state", outcome.State),
		zap.Int("tokens", outcome.Tokens),
		zap.Int("edits", outcome.Edits),
		zap.Duration("elapsed", time.Since(start)),
		zap.NamedError("job_error", outcome.Err))
	return err
}

// showCancel adds or removes the cancel button. Failures only cost the
// button; the reaction and the stop command still work.
func (b *Bot) showCancel(ctx context.Context, cc render.CancelControl, show bool) {
	ctx, cancel := context.WithTimeout(ctx, cancelButtonTimeout)
	defer cancel()
	if err := cc.ShowCancel(ctx, show); err != nil {
		logging.WithCtx(ctx, b.logger).Debug("cancel button not updated", zap.Bool("show", show), zap.Error(err))
	}
}

// params merges per-call overrides into the configured sampling defaults.
func (b *Bot) params(o *Overrides) jobs.SamplingParams {
	s := b.cfg.Sampling
	p := jobs.SamplingParams{
		Temperature:   s.Temperature,
		TopK:          s.TopK,
		TopP:          s.TopP,
		RepeatPenalty: s.RepeatPenalty,
		RepeatLastN:   s.RepeatPenaltyTokenCount,
		BatchSize:     s.BatchSize,
		MaxTokens:     b.cfg.Model.MaxOutputTokens,
		Seed:          s.Seed,
	}
	o.apply(&p)
	return p
}

// cleanTurn strips the bot's mention and the display decoration the
// renderer adds to its own messages.
func (b *Bot) cleanTurn(m *chat.Message) string {
	text := history.StripMention(m.Content, b.selfID)
	if m.AuthorID != b.selfID {
		return text
	}
	for _, marker := range []string{render.CanceledMarker, render.FailedMarker, render.EmptyMarker, render.ThinkingText} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return strings.TrimSpace(text)
}
