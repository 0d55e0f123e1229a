// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigrun-bot.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/subosito/gotenv"

	"github.com/jeranaias/rigrun-bot/internal/util"
)

// ErrConfigMissing is returned by Load when the configuration file does not
// exist. Callers write a template with WriteTemplate and exit.
var ErrConfigMissing = errors.New("configuration file not found")

// DefaultPath is used when neither --config nor RIGRUN_BOT_CONFIG is set.
const DefaultPath = "config.toml"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete, read-only process configuration. It is loaded once
// at startup and handed to each component at construction.
type Config struct {
	Authentication AuthenticationConfig     `toml:"authentication"`
	Model          ModelConfig              `toml:"model"`
	Inference      InferenceConfig          `toml:"inference"`
	Sampling       SamplingConfig           `toml:"sampling"`
	Conversation   ConversationConfig       `toml:"conversation"`
	Commands       map[string]CommandConfig `toml:"commands"`
	Server         ServerConfig             `toml:"server"`
	Logging        LoggingConfig            `toml:"logging"`

	// Undecoded lists keys present in the file that no field consumed.
	Undecoded []string `toml:"-"`
}

// AuthenticationConfig holds platform credentials.
type AuthenticationConfig struct {
	// DiscordToken is the bot token from the Discord developer portal
	DiscordToken string `toml:"discord_token"`
}

// ModelConfig describes the model served by the local Ollama instance.
type ModelConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url"`
	// Name is the Ollama model tag
	Name string `toml:"name"`
	// ContextTokenLength is the model's context window (num_ctx)
	ContextTokenLength int `toml:"context_token_length"`
	// ThreadCount is the number of CPU threads used for inference (0 = runtime default)
	ThreadCount int `toml:"thread_count"`
	// MaxOutputTokens bounds each generation (0 = until the model stops)
	MaxOutputTokens int `toml:"max_output_tokens"`
	// KeepAlive is how long Ollama keeps the model loaded after a request:
	// a duration such as "30m", or whole seconds where -1 means forever
	KeepAlive string `toml:"keep_alive"`
}

// InferenceConfig controls queueing and response rendering.
type InferenceConfig struct {
	// MessageUpdateIntervalMs is the minimum time between edits of a streamed reply
	MessageUpdateIntervalMs int `toml:"message_update_interval_ms"`
	// ReplaceNewlines turns a literal "\n" typed by users into a newline
	ReplaceNewlines bool `toml:"replace_newlines"`
	// ShowPromptTemplate shows the materialized template instead of the user's text
	ShowPromptTemplate bool `toml:"show_prompt_template"`
	// QueueSize is the maximum number of waiting jobs (0 = unlimited)
	QueueSize int `toml:"queue_size"`
	// EditMaxAttempts bounds retries of a failed edit or send
	EditMaxAttempts int `toml:"edit_max_attempts"`
	// EditRetryDelayMs is the first edit or send retry backoff; it doubles per attempt
	EditRetryDelayMs int `toml:"edit_retry_delay_ms"`
	// GenerationTimeoutSecs bounds a single generation (0 = no timeout)
	GenerationTimeoutSecs int `toml:"generation_timeout_secs"`
	// CancelEmoji is the reaction that stops a generation
	CancelEmoji string `toml:"cancel_emoji"`
	// CommandPrefix introduces text commands such as "!stop"
	CommandPrefix string `toml:"command_prefix"`
}

// SamplingConfig holds the default sampling parameters.
type SamplingConfig struct {
	Temperature             float64 `toml:"temperature"`
	TopK                    int     `toml:"top_k"`
	TopP                    float64 `toml:"top_p"`
	RepeatPenalty           float64 `toml:"repeat_penalty"`
	RepeatPenaltyTokenCount int     `toml:"repeat_penalty_token_count"`
	BatchSize               int     `toml:"batch_size"`
	// Seed makes generations reproducible when set
	Seed *int64 `toml:"seed,omitempty"`
}

// ConversationConfig controls the reply-chain conversation mode.
type ConversationConfig struct {
	// Enabled turns on replies to mentions, replies and direct messages
	Enabled bool `toml:"enabled"`
	// ContextBudget bounds the assembled history, measured in BudgetMetric units
	ContextBudget int `toml:"context_budget"`
	// BudgetMetric is "chars" or "tokens"
	BudgetMetric string `toml:"budget_metric"`
	// MaxHops is the maximum number of predecessors followed
	MaxHops        int    `toml:"max_hops"`
	UserLabel      string `toml:"user_label"`
	AssistantLabel string `toml:"assistant_label"`
	SystemPrompt   string `toml:"system_prompt"`
}

// CommandConfig defines one user-invocable prompt template.
type CommandConfig struct {
	Enabled     bool   `toml:"enabled"`
	Description string `toml:"description"`
	// Prompt is the template; {{PROMPT}} and {{ATTACHMENT}} are substituted
	Prompt string `toml:"prompt"`
	// Defaults makes the named placeholders optional
	Defaults map[string]string `toml:"defaults,omitempty"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level"`
	// Development switches to the console encoder
	Development bool `toml:"development"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a configuration with every default applied. It has no
// commands and no token.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			OllamaURL:          "http://localhost:11434",
			Name:               "llama3.2",
			ContextTokenLength: 2048,
			ThreadCount:        8,
			KeepAlive:          "30m",
		},
		Inference: InferenceConfig{
			MessageUpdateIntervalMs: 250,
			QueueSize:               32,
			EditMaxAttempts:         4,
			EditRetryDelayMs:        500,
			CancelEmoji:             "❌",
			CommandPrefix:           "!",
		},
		Sampling: SamplingConfig{
			Temperature:             0.8,
			TopK:                    40,
			TopP:                    0.95,
			RepeatPenalty:           1.3,
			RepeatPenaltyTokenCount: 64,
			BatchSize:               8,
		},
		Conversation: ConversationConfig{
			Enabled:        true,
			ContextBudget:  6000,
			BudgetMetric:   "chars",
			MaxHops:        16,
			UserLabel:      "User",
			AssistantLabel: "Assistant",
		},
		Commands: map[string]CommandConfig{},
		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Template returns the configuration written for a first run: defaults
// plus two example commands, both disabled.
func Template() *Config {
	cfg := Default()
	cfg.Authentication.DiscordToken = "YOUR_TOKEN_HERE"
	cfg.Commands = map[string]CommandConfig{
		"hallucinate": {
			Enabled:     false,
			Description: "Hallucinates some text.",
			Prompt:      "{{PROMPT}}",
		},
		"alpaca": {
			Enabled:     false,
			Description: "Responds to the provided instruction.",
			Prompt: "Below is an instruction that describes a task. " +
				"Write a response that appropriately completes the request.\n\n" +
				"### Instruction:\n\n{{PROMPT}}\n\n### Response:\n\n",
		},
	}
	return cfg
}

// fillDefaults repairs zero values a partial file may leave behind.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Model.OllamaURL == "" {
		cfg.Model.OllamaURL = defaults.Model.OllamaURL
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = defaults.Model.Name
	}
	if cfg.Model.ContextTokenLength == 0 {
		cfg.Model.ContextTokenLength = defaults.Model.ContextTokenLength
	}

	if cfg.Inference.MessageUpdateIntervalMs == 0 {
		cfg.Inference.MessageUpdateIntervalMs = defaults.Inference.MessageUpdateIntervalMs
	}
	if cfg.Inference.EditMaxAttempts == 0 {
		cfg.Inference.EditMaxAttempts = defaults.Inference.EditMaxAttempts
	}
	if cfg.Inference.CancelEmoji == "" {
		cfg.Inference.CancelEmoji = defaults.Inference.CancelEmoji
	}
	if cfg.Inference.CommandPrefix == "" {
		cfg.Inference.CommandPrefix = defaults.Inference.CommandPrefix
	}

	if cfg.Conversation.BudgetMetric == "" {
		cfg.Conversation.BudgetMetric = defaults.Conversation.BudgetMetric
	}
	if cfg.Conversation.UserLabel == "" {
		cfg.Conversation.UserLabel = defaults.Conversation.UserLabel
	}
	if cfg.Conversation.AssistantLabel == "" {
		cfg.Conversation.AssistantLabel = defaults.Conversation.AssistantLabel
	}

	if cfg.Commands == nil {
		cfg.Commands = map[string]CommandConfig{}
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// UpdateInterval returns the minimum time between edits.
func (c InferenceConfig) UpdateInterval() time.Duration {
	return time.Duration(c.MessageUpdateIntervalMs) * time.Millisecond
}

// EditRetryDelay returns the first edit retry backoff.
func (c InferenceConfig) EditRetryDelay() time.Duration {
	return time.Duration(c.EditRetryDelayMs) * time.Millisecond
}

// GenerationTimeout returns the per-generation bound (0 = none).
func (c InferenceConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSecs) * time.Second
}

// EnabledCommands returns the names of enabled commands, sorted.
func (c *Config) EnabledCommands() []string {
	var names []string
	for name, cmd := range c.Commands {
		if cmd.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// ResolvePath picks the config path: the flag value, then RIGRUN_BOT_CONFIG,
// then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("RIGRUN_BOT_CONFIG"); env != "" {
		return env
	}
	return DefaultPath
}

// LoadDotEnv loads environment variables from a .env file next to the
// config, if one exists. Variables already set are left alone.
func LoadDotEnv(configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads, defaults, overrides and validates the configuration at path.
// It returns an error wrapping ErrConfigMissing if the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	cfg := Default()
	cfg.Commands = nil
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		cfg.Undecoded = append(cfg.Undecoded, key.String())
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a configuration from TOML text without touching the
// environment. Used by tests and the check subcommand.
func Parse(data string) (*Config, error) {
	cfg := Default()
	cfg.Commands = nil
	if _, err := toml.Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML: %w", err)
	}
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// WriteTemplate writes a commented first-run configuration to path.
// SECURITY: the file holds a token, so it is written 0600.
func WriteTemplate(path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# rigrun-bot configuration file")
	fmt.Fprintln(&buf, "# Fill in authentication.discord_token and enable at least one command,")
	fmt.Fprintln(&buf, "# then start the bot again.")
	fmt.Fprintln(&buf, "#")
	fmt.Fprintln(&buf, "# Command prompts substitute {{PROMPT}} with the user's text and")
	fmt.Fprintln(&buf, "# {{ATTACHMENT}} with an attached text file. Give a placeholder a value")
	fmt.Fprintln(&buf, "# under [commands.<name>.defaults] to make it optional.")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(Template()); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// commandNamePattern is Discord's rule for slash command names.
var commandNamePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Model
	// ==========================================================================

	if u, err := url.Parse(c.Model.OllamaURL); err != nil {
		add("model.ollama_url", "invalid URL: %v", err)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("model.ollama_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		add("model.name", "must not be empty")
	}
	if c.Model.ContextTokenLength < 0 {
		add("model.context_token_length", "cannot be negative")
	}
	if c.Model.ThreadCount < 0 {
		add("model.thread_count", "cannot be negative")
	}
	if c.Model.MaxOutputTokens < 0 {
		add("model.max_output_tokens", "cannot be negative")
	}
	if c.Model.KeepAlive != "" && !validKeepAlive(c.Model.KeepAlive) {
		add("model.keep_alive", "invalid duration %q (use e.g. \"30m\" or \"-1\")", c.Model.KeepAlive)
	}

	// ==========================================================================
	// Inference
	// ==========================================================================

	if c.Inference.MessageUpdateIntervalMs < 0 {
		add("inference.message_update_interval_ms", "cannot be negative")
	}
	if c.Inference.QueueSize < 0 {
		add("inference.queue_size", "cannot be negative")
	}
	if c.Inference.EditMaxAttempts < 1 {
		add("inference.edit_max_attempts", "must be at least 1, got %d", c.Inference.EditMaxAttempts)
	}
	if c.Inference.EditRetryDelayMs < 0 {
		add("inference.edit_retry_delay_ms", "cannot be negative")
	}
	if c.Inference.GenerationTimeoutSecs < 0 {
		add("inference.generation_timeout_secs", "cannot be negative")
	}
	if strings.ContainsAny(c.Inference.CommandPrefix, " \t\n") {
		add("inference.command_prefix", "must not contain whitespace")
	}

	// ==========================================================================
	// Sampling
	// ==========================================================================

	if c.Sampling.Temperature < 0 {
		add("sampling.temperature", "cannot be negative")
	}
	if c.Sampling.TopK < 0 {
		add("sampling.top_k", "cannot be negative")
	}
	if c.Sampling.TopP <= 0 || c.Sampling.TopP > 1 {
		add("sampling.top_p", "must be in (0, 1], got %v", c.Sampling.TopP)
	}
	if c.Sampling.RepeatPenalty <= 0 {
		add("sampling.repeat_penalty", "must be positive")
	}
	if c.Sampling.RepeatPenaltyTokenCount < 0 {
		add("sampling.repeat_penalty_token_count", "cannot be negative")
	}
	if c.Sampling.BatchSize < 0 {
		add("sampling.batch_size", "cannot be negative")
	}

	// ==========================================================================
	// Conversation
	// ==========================================================================

	switch c.Conversation.BudgetMetric {
	case "chars", "tokens":
	default:
		add("conversation.budget_metric", "invalid metric '%s', must be one of: chars, tokens", c.Conversation.BudgetMetric)
	}
	if c.Conversation.ContextBudget <= 0 {
		add("conversation.context_budget", "must be positive")
	}
	if c.Conversation.MaxHops < 0 {
		add("conversation.max_hops", "cannot be negative")
	}

	// ==========================================================================
	// Commands
	// ==========================================================================

	for _, name := range sortedKeys(c.Commands) {
		cmd := c.Commands[name]
		field := "commands." + name
		if !commandNamePattern.MatchString(name) {
			add(field, "name must be 1-32 lowercase letters, digits, '-' or '_'")
		}
		if name == "stop" {
			add(field, "name is reserved")
		}
		if strings.TrimSpace(cmd.Prompt) == "" {
			add(field+".prompt", "must not be empty")
		}
		if len(cmd.Description) > 100 {
			add(field+".description", "must be at most 100 characters")
		}
	}

	// ==========================================================================
	// Server and logging
	// ==========================================================================

	if c.Server.Enabled && c.Server.Listen == "" {
		add("server.listen", "required when the server is enabled")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateDiscord checks the settings the Discord platform needs on top of
// Validate.
func (c *Config) ValidateDiscord() error {
	token := strings.TrimSpace(c.Authentication.DiscordToken)
	if token == "" || token == Template().Authentication.DiscordToken {
		return ValidateErrors{{Field: "authentication.discord_token", Message: "must be set to a bot token"}}
	}
	return nil
}

func sortedKeys(m map[string]CommandConfig) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RIGRUN_BOT_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	// RIGRUN_BOT_DISCORD_TOKEN
	if token := os.Getenv("RIGRUN_BOT_DISCORD_TOKEN"); token != "" {
		c.Authentication.DiscordToken = token
	}

	// RIGRUN_BOT_OLLAMA_URL
	if u := os.Getenv("RIGRUN_BOT_OLLAMA_URL"); u != "" {
		c.Model.OllamaURL = u
	}

	// RIGRUN_BOT_MODEL
	if model := os.Getenv("RIGRUN_BOT_MODEL"); model != "" {
		c.Model.Name = model
	}

	// RIGRUN_BOT_LOG_LEVEL
	if level := os.Getenv("RIGRUN_BOT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	// RIGRUN_BOT_LISTEN enables the status server
	if listen := os.Getenv("RIGRUN_BOT_LISTEN"); listen != "" {
		c.Server.Enabled = true
		c.Server.Listen = listen
	}

	// RIGRUN_BOT_UPDATE_INTERVAL_MS
	if ms := os.Getenv("RIGRUN_BOT_UPDATE_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			c.Inference.MessageUpdateIntervalMs = v
		}
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// String renders the configuration as TOML with secrets redacted.
func (c *Config) String() string {
	safe := *c
	if safe.Authentication.DiscordToken != "" {
		safe.Authentication.DiscordToken = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<unencodable config: %v>", err)
	}
	return buf.String()
}

// validKeepAlive accepts a duration or a whole number of seconds.
func validKeepAlive(s string) bool {
	if _, err := strconv.Atoi(s); err == nil {
		return true
	}
	_, err := time.ParseDuration(s)
	return err == nil
}
