// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// run.go - The run and console subcommands: wiring and process lifecycle.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-bot/internal/bot"
	"github.com/jeranaias/rigrun-bot/internal/config"
	"github.com/jeranaias/rigrun-bot/internal/console"
	"github.com/jeranaias/rigrun-bot/internal/discord"
	"github.com/jeranaias/rigrun-bot/internal/jobs"
	"github.com/jeranaias/rigrun-bot/internal/logging"
	"github.com/jeranaias/rigrun-bot/internal/ollama"
	"github.com/jeranaias/rigrun-bot/internal/render"
	"github.com/jeranaias/rigrun-bot/internal/server"
)

// =============================================================================
// SHARED SETUP
// =============================================================================

// LoadConfig resolves the config path, loads a sibling .env file and the
// configuration. A missing file gets a template written in its place and an
// error wrapping config.ErrConfigMissing.
func LoadConfig(args Args) (*config.Config, string, error) {
	path := config.ResolvePath(args.ConfigPath)
	if err := config.LoadDotEnv(path); err != nil {
		return nil, path, err
	}

	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrConfigMissing) {
		if werr := config.WriteTemplate(path); werr != nil {
			return nil, path, fmt.Errorf("%w (and writing a template failed: %v)", err, werr)
		}
	}
	return cfg, path, err
}

// NewLogger builds the process logger from cfg, honoring --debug.
func NewLogger(cfg *config.Config, args Args) (*zap.Logger, error) {
	opts := logging.Options{Level: "info"}
	if cfg != nil {
		opts.Level = cfg.Logging.Level
		opts.Development = cfg.Logging.Development
	}
	if args.Debug {
		opts.Level = "debug"
		opts.Development = true
	}
	return logging.New(opts)
}

// newRuntime builds the Ollama runtime for cfg.
func newRuntime(cfg *config.Config) *ollama.Runtime {
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Model.OllamaURL})
	return ollama.NewRuntime(client, ollama.RuntimeConfig{
		Model:     cfg.Model.Name,
		NumCtx:    cfg.Model.ContextTokenLength,
		NumThread: cfg.Model.ThreadCount,
		KeepAlive: cfg.Model.KeepAlive,
	})
}

// startRuntime checks the model server and loads the model. A failed
// preload only warns; the first job loads the model instead.
func startRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ollama.Runtime, error) {
	runtime := newRuntime(cfg)
	if err := runtime.Check(ctx); err != nil {
		return nil, err
	}
	logger.Info("loading model", zap.String("model", runtime.Model()))
	if err := runtime.Preload(ctx); err != nil {
		logger.Warn("model preload failed", zap.Error(err))
	}
	return runtime, nil
}

func newWorker(cfg *config.Config, queue *jobs.Queue, runtime jobs.Runtime, logger *zap.Logger) *jobs.Worker {
	worker := jobs.NewWorker(queue, runtime, logger.Named("worker"))
	worker.SetTimeout(cfg.Inference.GenerationTimeout())
	return worker
}

// =============================================================================
// RUN
// =============================================================================

// HandleRun connects to Discord and serves until ctx is done. The worker,
// the gateway and the optional status server share one errgroup; the first
// to fail stops the others.
func HandleRun(ctx context.Context, cfg *config.Config, args Args, logger *zap.Logger) error {
	if err := cfg.ValidateDiscord(); err != nil {
		return wrap("run", "validate config", err)
	}
	for _, key := range cfg.Undecoded {
		logger.Warn("unknown config key ignored", zap.String("key", key))
	}

	runtime, err := startRuntime(ctx, cfg, logger)
	if err != nil {
		return wrap("run", "reach model", err)
	}

	queue := jobs.NewQueue(cfg.Inference.QueueSize, logger.Named("queue"))
	defer queue.Close()
	worker := newWorker(cfg, queue, runtime, logger)

	gateway, err := discord.NewGateway(cfg.Authentication.DiscordToken, logger.Named("discord"))
	if err != nil {
		return wrap("run", "create session", err)
	}
	gateway.GuildID = args.GuildID
	selfID, err := gateway.Open()
	if err != nil {
		return wrap("run", "connect", err)
	}

	b, err := bot.New(bot.Options{
		Config:    cfg,
		Client:    gateway.Client(),
		Queue:     queue,
		SelfID:    selfID,
		MaxLength: render.DiscordMaxLength,
		Logger:    logger.Named("bot"),
	})
	if err != nil {
		return wrap("run", "build bot", err)
	}
	if err := gateway.RegisterCommands(ctx, b.Registry()); err != nil {
		logger.Warn("slash commands not registered; prefix commands still work", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		return gateway.Run(gctx, b)
	})
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Listen, Version, queue, runtime, logger.Named("server"))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	logger.Info("rigrun-bot running",
		zap.String("model", runtime.Model()),
		zap.Strings("commands", cfg.EnabledCommands()),
		zap.Bool("conversation", cfg.Conversation.Enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return wrap("run", "serve", err)
	}
	logger.Info("rigrun-bot stopped", zap.Any("stats", queue.Stats()))
	return nil
}

// =============================================================================
// CONSOLE
// =============================================================================

// HandleConsole runs the bot against the terminal instead of Discord.
// It returns when the operator quits or ctx is done.
func HandleConsole(ctx context.Context, cfg *config.Config, args Args, in console.LineReader, out io.Writer, logger *zap.Logger) error {
	runtime, err := startRuntime(ctx, cfg, logger)
	if err != nil {
		return wrap("console", "reach model", err)
	}
	return runConsole(ctx, cfg, runtime, in, out, logger)
}

// runConsole wires the console platform to runtime.
func runConsole(ctx context.Context, cfg *config.Config, runtime jobs.Runtime, in console.LineReader, out io.Writer, logger *zap.Logger) error {
	con, mem := console.New(out, logger.Named("console"))

	queue := jobs.NewQueue(cfg.Inference.QueueSize, logger.Named("queue"))
	defer queue.Close()

	b, err := bot.New(bot.Options{
		Config: cfg,
		Client: mem,
		Queue:  queue,
		SelfID: console.SelfID,
		Logger: logger.Named("bot"),
	})
	if err != nil {
		return wrap("console", "build bot", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return newWorker(cfg, queue, runtime, logger).Run(gctx)
	})
	g.Go(func() error {
		// Quitting the console ends the session
		defer cancel()
		return con.Run(gctx, b, in)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return wrap("console", "run", err)
	}
	return nil
}
