// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-bot/internal/chat"
	"github.com/jeranaias/rigrun-bot/internal/commands"
	"github.com/jeranaias/rigrun-bot/internal/config"
	"github.com/jeranaias/rigrun-bot/internal/jobs"
	"github.com/jeranaias/rigrun-bot/internal/render"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// slowRuntime emits tokens "t " with a delay, honoring the cancel flag.
type slowRuntime struct {
	tokens int
	delay  time.Duration

	mu      sync.Mutex
	prompts []string
	params  []jobs.SamplingParams
}

func (r *slowRuntime) Generate(ctx context.Context, prompt string, params jobs.SamplingParams, cancel *jobs.CancelFlag, onToken func(string) error) (jobs.Result, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.params = append(r.params, params)
	r.mu.Unlock()

	for i := 0; i < r.tokens; i++ {
		if cancel.IsSet() {
			return jobs.Result{Tokens: i}, jobs.ErrCanceled
		}
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return jobs.Result{Tokens: i}, ctx.Err()
		}
		if err := onToken("t "); err != nil {
			return jobs.Result{Tokens: i}, err
		}
	}
	return jobs.Result{Tokens: r.tokens, StopReason: "stop"}, nil
}

func (r *slowRuntime) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Inference.MessageUpdateIntervalMs = 5
	cfg.Inference.EditRetryDelayMs = 1
	cfg.Commands = map[string]config.CommandConfig{
		"makecaption": {Enabled: true, Prompt: "Describe {{PROMPT}}"},
		"hallucinate": {Enabled: false, Prompt: "{{PROMPT}}"},
		"summarize":   {Enabled: true, Prompt: "Summarize: {{ATTACHMENT}}"},
	}
	return cfg
}

type harness struct {
	bot   *Bot
	mem   *chat.Memory
	queue *jobs.Queue
	rt    *slowRuntime
}

func newHarness(t *testing.T, cfg *config.Config, rt *slowRuntime) *harness {
	t.Helper()
	mem := chat.NewMemory("bot", "Bot")
	q := jobs.NewQueue(0, nil)
	w := jobs.NewWorker(q, rt, nil)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	t.Cleanup(func() {
		q.Close()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop")
		}
	})

	b, err := New(Options{Config: cfg, Client: mem, Queue: q, SelfID: "bot"})
	require.NoError(t, err)
	return &harness{bot: b, mem: mem, queue: q, rt: rt}
}

func (h *harness) userMessage(content, replyTo string) *chat.Message {
	m := h.mem.Put(chat.Message{
		ChannelID:  "ch",
		GuildID:    "guild",
		AuthorID:   "u1",
		AuthorName: "alice",
		Content:    content,
		ReplyToID:  replyTo,
	})
	return &m
}

// replyTo returns the bot's reply to message id, if any.
func (h *harness) replyTo(id string) (chat.Message, bool) {
	for _, m := range h.mem.Sent() {
		if m.ReplyToID == id {
			return m, true
		}
	}
	return chat.Message{}, false
}

func (h *harness) finalText(t *testing.T, id string) string {
	t.Helper()
	edits := h.mem.Edits(id)
	require.NotEmpty(t, edits, "message %s never edited", id)
	return edits[len(edits)-1]
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func TestPrefixCommandRunsTemplate(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 3, delay: time.Millisecond})
	trigger := h.userMessage("!makecaption a sunset", "")

	require.NoError(t, h.bot.HandleMessage(context.Background(), trigger))

	require.Equal(t, []string{"Describe a sunset"}, h.rt.Prompts())
	reply, ok := h.replyTo(trigger.ID)
	require.True(t, ok)
	require.Equal(t, "**a sunset**t t t ", h.finalText(t, reply.ID))
}

func TestPlaceholderSendRetriesTransientFailure(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 2, delay: time.Millisecond})
	trigger := h.userMessage("!makecaption a sunset", "")
	h.mem.FailSends(&chat.TransientError{Op: "send"})

	require.NoError(t, h.bot.HandleMessage(context.Background(), trigger))

	reply, ok := h.replyTo(trigger.ID)
	require.True(t, ok, "no reply after a transient send failure")
	require.Equal(t, "**a sunset**t t ", h.finalText(t, reply.ID))
}

func TestConversationPlaceholderRetries(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 1, delay: time.Millisecond})
	m := h.mem.Put(chat.Message{
		ChannelID:    "ch",
		GuildID:      "guild",
		AuthorID:     "u1",
		Content:      "<@bot> hello",
		MentionsSelf: true,
	})
	h.mem.FailSends(&chat.TransientError{Op: "send"}, &chat.TransientError{Op: "send"})

	require.NoError(t, h.bot.HandleMessage(context.Background(), &m))
	reply, ok := h.replyTo(m.ID)
	require.True(t, ok)
	require.Equal(t, "t ", h.finalText(t, reply.ID))
}

func TestShowPromptTemplate(t *testing.T) {
	cfg := testConfig()
	cfg.Inference.ShowPromptTemplate = true
	h := newHarness(t, cfg, &slowRuntime{tokens: 1, delay: time.Millisecond})
	trigger := h.userMessage("!makecaption a sunset", "")

	require.NoError(t, h.bot.HandleMessage(context.Background(), trigger))
	reply, _ := h.replyTo(trigger.ID)
	require.Equal(t, "**Describe a sunset**t ", h.finalText(t, reply.ID))
}

func TestRejectedCommandsCreateNoJob(t *testing.T) {
	tests := []struct {
		name    string
		command string
		prompt  string
		want    string
	}{
		{"disabled", "hallucinate", "x", "That command is disabled."},
		{"unknown", "nosuchthing", "x", "Unknown command."},
		{"missing prompt", "makecaption", "", "This command needs a prompt."},
		{"missing attachment", "summarize", "", "This command needs a text file attached."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), &slowRuntime{})
			trigger := h.userMessage("/"+tc.command, "")

			err := h.bot.HandleCommand(context.Background(), Invocation{
				Command:   tc.command,
				Prompt:    tc.prompt,
				ChannelID: "ch",
				UserID:    "u1",
				Responder: chat.MessageResponder{Client: h.mem, Trigger: trigger},
			})
			require.Error(t, err)

			require.Zero(t, h.queue.Stats().Submitted)
			notice, ok := h.replyTo(trigger.ID)
			require.True(t, ok)
			require.Equal(t, tc.want, notice.Content)
		})
	}
}

func TestDisabledCommandError(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{})
	trigger := h.userMessage("!hallucinate dragons", "")

	err := h.bot.HandleMessage(context.Background(), trigger)
	require.ErrorIs(t, err, commands.ErrDisabled)
	require.Empty(t, h.rt.Prompts())
}

func TestAttachmentFillsTemplate(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 1, delay: time.Millisecond})
	h.mem.AddAttachment("mem://notes.txt", []byte("meeting at noon"))

	m := h.mem.Put(chat.Message{
		ChannelID: "ch",
		GuildID:   "guild",
		AuthorID:  "u1",
		Content:   "!summarize",
		Attachments: []chat.Attachment{
			{Filename: "photo.png", URL: "mem://photo.png", ContentType: "image/png"},
			{Filename: "notes.txt", URL: "mem://notes.txt", Size: 15},
		},
	})

	require.NoError(t, h.bot.HandleMessage(context.Background(), &m))
	require.Equal(t, []string{"Summarize: meeting at noon"}, h.rt.Prompts())
}

func TestOverridesApply(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 1, delay: time.Millisecond})
	trigger := h.userMessage("/makecaption", "")
	temp, seed := 0.1, int64(7)

	err := h.bot.HandleCommand(context.Background(), Invocation{
		Command:   "makecaption",
		Prompt:    "a cat",
		ChannelID: "ch",
		UserID:    "u1",
		Overrides: &Overrides{Temperature: &temp, Seed: &seed},
		Responder: chat.MessageResponder{Client: h.mem, Trigger: trigger},
	})
	require.NoError(t, err)

	h.rt.mu.Lock()
	defer h.rt.mu.Unlock()
	require.Len(t, h.rt.params, 1)
	require.Equal(t, 0.1, h.rt.params[0].Temperature)
	require.Equal(t, int64(7), *h.rt.params[0].Seed)
	require.Equal(t, 40, h.rt.params[0].TopK)
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestIgnoresBotsAndUnaddressedMessages(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 1, delay: time.Millisecond})

	other := h.mem.Put(chat.Message{ChannelID: "ch", GuildID: "guild", AuthorID: "b2", AuthorIsBot: true, Content: "!makecaption x"})
	require.NoError(t, h.bot.HandleMessage(context.Background(), &other))

	plain := h.userMessage("just chatting", "")
	require.NoError(t, h.bot.HandleMessage(context.Background(), plain))

	require.Empty(t, h.mem.Sent())
	require.Empty(t, h.rt.Prompts())
}

func TestMentionStartsConversation(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 2, delay: time.Millisecond})
	m := h.mem.Put(chat.Message{
		ChannelID:    "ch",
		GuildID:      "guild",
		AuthorID:     "u1",
		Content:      "<@bot> what is a haiku?",
		MentionsSelf: true,
	})

	require.NoError(t, h.bot.HandleMessage(context.Background(), &m))

	require.Equal(t, []string{"User: what is a haiku?\nAssistant:"}, h.rt.Prompts())
	reply, ok := h.replyTo(m.ID)
	require.True(t, ok)
	require.Equal(t, "t t ", h.finalText(t, reply.ID))
}

func TestSecondMessageSupersedesFirst(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 40, delay: 5 * time.Millisecond})
	ctx := context.Background()

	prior, err := h.mem.Send(ctx, "ch", "hello there", "")
	require.NoError(t, err)
	first := h.userMessage("first", prior.ID)
	second := h.userMessage("second", prior.ID)
	key := chat.ConversationKey{ChannelID: "ch", RootID: prior.ID}

	firstDone := make(chan error, 1)
	go func() { firstDone <- h.bot.HandleMessage(ctx, first) }()

	require.Eventually(t, func() bool {
		job := h.queue.Lookup(key)
		return job != nil && job.Status() == jobs.StatusRunning
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, h.bot.HandleMessage(ctx, second))
	select {
	case err := <-firstDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first handler did not return")
	}

	firstReply, ok := h.replyTo(first.ID)
	require.True(t, ok)
	secondReply, ok := h.replyTo(second.ID)
	require.True(t, ok)

	require.True(t, strings.HasSuffix(h.finalText(t, firstReply.ID), render.CanceledMarker))
	require.Equal(t, strings.Repeat("t ", 40), h.finalText(t, secondReply.ID))

	prompts := h.rt.Prompts()
	require.Len(t, prompts, 2)
	require.Equal(t, "Assistant: hello there\nUser: second\nAssistant:", prompts[1])

	stats := h.queue.Stats()
	require.Equal(t, int64(1), stats.Superseded)
}

// =============================================================================
// STOP & REACTION TESTS
// =============================================================================

func startSlowCommand(t *testing.T, h *harness) (*chat.Message, chat.Message, chan error) {
	t.Helper()
	trigger := h.userMessage("!makecaption a long story", "")
	done := make(chan error, 1)
	go func() { done <- h.bot.HandleMessage(context.Background(), trigger) }()

	var reply chat.Message
	require.Eventually(t, func() bool {
		var ok bool
		reply, ok = h.replyTo(trigger.ID)
		if !ok {
			return false
		}
		job := h.queue.Lookup(chat.ConversationKey{ChannelID: "ch", RootID: reply.ID})
		return job != nil && job.Status() == jobs.StatusRunning
	}, 2*time.Second, time.Millisecond)
	return trigger, reply, done
}

func waitHandler(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not return")
	}
}

func TestStopCommandCancelsOwnJobs(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 500, delay: 5 * time.Millisecond})
	_, reply, done := startSlowCommand(t, h)

	stop := h.userMessage("!stop", "")
	require.NoError(t, h.bot.HandleMessage(context.Background(), stop))
	waitHandler(t, done)

	notice, ok := h.replyTo(stop.ID)
	require.True(t, ok)
	require.Equal(t, "Stopped 1 generation.", notice.Content)
	require.True(t, strings.HasSuffix(h.finalText(t, reply.ID), render.CanceledMarker))
}

func TestCancelReaction(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 500, delay: 5 * time.Millisecond})
	_, reply, done := startSlowCommand(t, h)
	ctx := context.Background()

	require.False(t, h.bot.HandleReaction(ctx, chat.Reaction{ChannelID: "ch", MessageID: reply.ID, UserID: "u1", Emoji: "👍"}))
	require.False(t, h.bot.HandleReaction(ctx, chat.Reaction{ChannelID: "ch", MessageID: reply.ID, UserID: "u2", Emoji: "❌"}))
	require.True(t, h.bot.HandleReaction(ctx, chat.Reaction{ChannelID: "ch", MessageID: reply.ID, UserID: "u1", Emoji: "❌"}))
	waitHandler(t, done)

	require.True(t, strings.HasSuffix(h.finalText(t, reply.ID), render.CanceledMarker))
	require.False(t, h.bot.HandleReaction(ctx, chat.Reaction{ChannelID: "ch", MessageID: reply.ID, UserID: "u1", Emoji: "❌"}))
}

func TestCancelButton(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 500, delay: 5 * time.Millisecond})
	_, reply, done := startSlowCommand(t, h)
	ctx := context.Background()

	require.Eventually(t, func() bool { return h.mem.HasCancel(reply.ID) }, 2*time.Second, time.Millisecond)
	require.False(t, h.bot.CancelResponse(ctx, reply.ID, "u2"))
	require.True(t, h.bot.CancelResponse(ctx, reply.ID, "u1"))
	waitHandler(t, done)

	require.False(t, h.mem.HasCancel(reply.ID), "button must be removed once the response is final")
	require.True(t, strings.HasSuffix(h.finalText(t, reply.ID), render.CanceledMarker))
}

func TestCancelButtonRemovedAfterCompletion(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{tokens: 2, delay: time.Millisecond})
	trigger := h.userMessage("!makecaption a sunset", "")

	require.NoError(t, h.bot.HandleMessage(context.Background(), trigger))
	reply, ok := h.replyTo(trigger.ID)
	require.True(t, ok)
	require.False(t, h.mem.HasCancel(reply.ID))
	require.False(t, h.bot.CancelResponse(context.Background(), reply.ID, "u1"))
}

func TestStopWithNothingRunning(t *testing.T) {
	h := newHarness(t, testConfig(), &slowRuntime{})
	stop := h.userMessage("!stop", "")

	require.NoError(t, h.bot.HandleMessage(context.Background(), stop))
	notice, ok := h.replyTo(stop.ID)
	require.True(t, ok)
	require.Equal(t, "Nothing to stop.", notice.Content)
}
