// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands maps user-invoked command names to prompt templates.
//
// Commands come from the [commands.<name>] tables of the configuration and
// are parsed once at startup. A template substitutes {{PROMPT}} with the
// user's text and {{ATTACHMENT}} with an attached text file; any other
// placeholder needs a default. Resolution is pure: it never touches the job
// queue, so a disabled or unknown command cannot start a generation.
//
// # Key Types
//
//   - Registry: name to Command mapping, read-only after NewRegistry
//   - Template: parsed literals and placeholders (Required or Optional)
//   - Resolution: the materialized prompt plus the user's own text
//
// # Errors
//
//   - ErrNotFound: no command with that name
//   - ErrDisabled: the command exists but enabled = false
//   - MissingPlaceholderError: a required placeholder has no value
//   - TemplateError: a template in configuration is malformed
//
// # Usage
//
//	reg, err := commands.NewRegistry(cfg.Commands, commands.Options{})
//	res, err := reg.Resolve("makecaption", commands.Invocation{Prompt: "a sunset"})
//	// res.Prompt == "Describe a sunset"
package commands
