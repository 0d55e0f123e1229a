// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Argument parsing and subcommand selection for rigrun-bot.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdRun Command = iota
	CmdConsole
	CmdInit
	CmdCheck
	CmdVersion
	CmdHelp
)

// String returns the subcommand name.
func (c Command) String() string {
	switch c {
	case CmdRun:
		return "run"
	case CmdConsole:
		return "console"
	case CmdInit:
		return "init"
	case CmdCheck:
		return "check"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// ConfigPath is the --config value; empty means RIGRUN_BOT_CONFIG or
	// config.toml
	ConfigPath string

	// Debug forces debug level and the console log encoder
	Debug bool

	// GuildID registers slash commands in one guild instead of globally (run)
	GuildID string

	// HistoryFile keeps console line history between sessions (console)
	HistoryFile string

	// Force overwrites an existing config file (init)
	Force bool

	// JSON prints the check report as JSON (check)
	JSON bool
}

// boolFlags never consume the next argument.
var boolFlags = []string{"debug", "d", "force", "json", "help", "h", "version"}

// knownFlags are the flags any subcommand accepts.
var knownFlags = map[string]bool{
	"config": true, "c": true,
	"debug": true, "d": true,
	"guild": true, "history": true,
	"force": true, "json": true,
	"help": true, "h": true, "version": true,
}

const usageText = `rigrun-bot - local LLM chat bot

Streams completions from a local Ollama model into Discord, one generation
at a time, editing each reply as tokens arrive.

Usage:
  rigrun-bot [flags] [command]

Commands:
  run        Connect to Discord and serve (default)
  console    Chat with the bot in this terminal
  init       Write a commented config template
  check      Validate the config and reach the model
  version    Show version information
  help       Show this help

Flags:
  -c, --config PATH   Config file (default: $RIGRUN_BOT_CONFIG or config.toml)
  -d, --debug         Debug logging with the console encoder
      --guild ID      Register slash commands in one guild only (run)
      --history PATH  Console line history file (console)
      --force         Overwrite an existing config (init)
      --json          Print the check report as JSON (check)

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigrun-bot version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses argv (without the program name). With no subcommand it
// selects CmdRun. Unknown subcommands and flags return a *ValidationError.
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath:  p.FlagOrDefault("config", p.Flag("c")),
		Debug:       p.BoolFlag("debug") || p.BoolFlag("d"),
		GuildID:     p.Flag("guild"),
		HistoryFile: p.Flag("history"),
		Force:       p.BoolFlag("force"),
		JSON:        p.BoolFlag("json"),
	}

	for _, name := range p.FlagNames() {
		if !knownFlags[name] {
			return CmdHelp, args, &ValidationError{
				Field:   "flag",
				Value:   "--" + name,
				Reason:  "unknown flag",
				Example: "rigrun-bot --help",
			}
		}
	}

	if p.BoolFlag("help") || p.BoolFlag("h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}

	if len(p.PositionalFrom(1)) > 0 {
		return CmdHelp, args, &ValidationError{
			Field:  "arguments",
			Value:  strings.Join(p.PositionalFrom(1), " "),
			Reason: "unexpected arguments after " + p.Subcommand(),
		}
	}

	switch cmd := strings.ToLower(p.Subcommand()); cmd {
	case "", "run", "serve":
		return CmdRun, args, nil
	case "console", "repl":
		return CmdConsole, args, nil
	case "init":
		return CmdInit, args, nil
	case "check":
		return CmdCheck, args, nil
	case "version":
		return CmdVersion, args, nil
	case "help":
		return CmdHelp, args, nil
	default:
		err := &ValidationError{Field: "command", Value: cmd, Reason: "unknown command"}
		if suggestion := SuggestCommand(cmd); suggestion != "" {
			err.Example = "rigrun-bot " + suggestion
		}
		return CmdHelp, args, err
	}
}
