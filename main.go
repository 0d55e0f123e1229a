// rigrun-bot - A chat bot that streams local LLM completions into Discord.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-bot/internal/cli"
	"github.com/jeranaias/rigrun-bot/internal/console"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	cmd, args, err := cli.Parse(os.Args[1:])
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdVersion:
		cli.PrintVersion(os.Stdout)
		return cli.ExitSuccess
	case cli.CmdInit:
		return exit(cli.HandleInit(args, os.Stdout), args)
	}

	cfg, path, err := cli.LoadConfig(args)
	if err != nil {
		return exit(err, args)
	}

	logger, err := cli.NewLogger(cfg, args)
	if err != nil {
		return exit(err, args)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case cli.CmdCheck:
		err = cli.HandleCheck(ctx, cfg, path, args, os.Stdout)
	case cli.CmdConsole:
		err = cli.HandleConsole(ctx, cfg, args, console.NewStdinReader(args.HistoryFile), os.Stdout, logger)
	default:
		logger.Info("starting rigrun-bot", zap.String("version", Version), zap.String("config", path))
		err = cli.HandleRun(ctx, cfg, args, logger)
	}
	if err != nil {
		logger.Error("exiting", zap.Error(err))
	}
	return exit(err, args)
}

// exit displays err, if any, and returns the process exit code.
func exit(err error, args cli.Args) int {
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
	}
	return cli.GetExitCode(err)
}
