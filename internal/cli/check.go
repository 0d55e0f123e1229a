// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// check.go - The init and check subcommands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/jeranaias/rigrun-bot/internal/commands"
	"github.com/jeranaias/rigrun-bot/internal/config"
)

// checkTimeout bounds the model server check.
const checkTimeout = 10 * time.Second

// =============================================================================
// INIT
// =============================================================================

// HandleInit writes a config template. An existing file is kept unless
// --force is given.
func HandleInit(args Args, out io.Writer) error {
	path := config.ResolvePath(args.ConfigPath)
	if _, err := os.Stat(path); err == nil && !args.Force {
		return &ValidationError{
			Field:   "config",
			Value:   path,
			Reason:  "file exists",
			Example: "rigrun-bot init --force",
		}
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("init", "stat config", err)
	}

	if err := config.WriteTemplate(path); err != nil {
		return wrap("init", "write template", err)
	}
	fmt.Fprintf(out, "Wrote %s. Set authentication.discord_token and enable a command.\n", path)
	return nil
}

// =============================================================================
// CHECK
// =============================================================================

// CheckReport is the result of the check subcommand.
type CheckReport struct {
	ConfigPath   string   `json:"config_path"`
	Model        string   `json:"model"`
	OllamaURL    string   `json:"ollama_url"`
	Commands     []string `json:"commands"`
	Conversation bool     `json:"conversation"`
	DiscordReady bool     `json:"discord_ready"`
	ModelReady   bool     `json:"model_ready"`
	Problems     []string `json:"problems,omitempty"`
}

// OK reports whether the bot could start with this configuration.
func (r *CheckReport) OK() bool {
	return len(r.Problems) == 0
}

// modelChecker is the part of the runtime the check needs.
type modelChecker interface {
	Check(ctx context.Context) error
}

// HandleCheck validates cfg, parses every command template and checks the
// model server, then prints a report. It fails if anything would stop the
// bot from starting.
func HandleCheck(ctx context.Context, cfg *config.Config, path string, args Args, out io.Writer) error {
	report := buildReport(ctx, cfg, path, newRuntime(cfg))
	if err := writeReport(out, report, args.JSON); err != nil {
		return err
	}
	if !report.OK() {
		return wrap("check", "verify", fmt.Errorf("%d problem(s) found", len(report.Problems)))
	}
	return nil
}

func buildReport(ctx context.Context, cfg *config.Config, path string, runtime modelChecker) *CheckReport {
	report := &CheckReport{
		ConfigPath:   path,
		Model:        cfg.Model.Name,
		OllamaURL:    cfg.Model.OllamaURL,
		Commands:     cfg.EnabledCommands(),
		Conversation: cfg.Conversation.Enabled,
		DiscordReady: true,
	}
	if report.Commands == nil {
		report.Commands = []string{}
	}

	if err := cfg.ValidateDiscord(); err != nil {
		report.DiscordReady = false
		report.Problems = append(report.Problems, err.Error())
	}
	for _, key := range cfg.Undecoded {
		report.Problems = append(report.Problems, "unknown key: "+key)
	}
	if _, err := commands.NewRegistry(cfg.Commands, commands.Options{}); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	if len(report.Commands) == 0 && !cfg.Conversation.Enabled {
		report.Problems = append(report.Problems, "no command is enabled and conversation is off; the bot would never answer")
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := runtime.Check(checkCtx); err != nil {
		report.Problems = append(report.Problems, err.Error())
	} else {
		report.ModelReady = true
	}
	return report
}

func writeReport(out io.Writer, report *CheckReport, jsonMode bool) error {
	if jsonMode {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAIL"
	}
	fmt.Fprintf(out, "config:        %s\n", report.ConfigPath)
	fmt.Fprintf(out, "model:         %s at %s [%s]\n", report.Model, report.OllamaURL, mark(report.ModelReady))
	fmt.Fprintf(out, "discord token: [%s]\n", mark(report.DiscordReady))
	fmt.Fprintf(out, "conversation:  %v\n", report.Conversation)
	fmt.Fprintf(out, "commands:      %d enabled %v\n", len(report.Commands), report.Commands)
	for _, p := range report.Problems {
		fmt.Fprintf(out, "  - %s\n", p)
	}
	return nil
}
