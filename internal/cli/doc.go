// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the subcommands of rigrun-bot.
//
// # Key Types
//
//   - Command: the subcommand to execute (run, console, init, check, version, help)
//   - Args: parsed global and subcommand flags
//   - ArgParser: flag and positional splitting shared by all subcommands
//   - ValidationError, CommandError: structured errors mapped to exit codes
//   - CheckReport: the result of the check subcommand
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err != nil {
//	    cli.DisplayError(os.Stderr, err, false)
//	    os.Exit(cli.GetExitCode(err))
//	}
//	switch cmd {
//	case cli.CmdRun:
//	    cfg, _, err := cli.LoadConfig(args)
//	    // ...
//	    err = cli.HandleRun(ctx, cfg, args, logger)
//	}
//
// # Exit Codes
//
// A missing config file writes a template and exits 2, as does bad usage.
// An invalid config exits 3, an unreachable model server 5, a model that
// is not installed 7.
package cli
