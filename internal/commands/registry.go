// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands maps user-invoked command names to prompt templates.
package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-bot/internal/config"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned for a command name that is not configured.
	ErrNotFound = errors.New("unknown command")

	// ErrDisabled is returned for a configured command with enabled = false.
	ErrDisabled = errors.New("command is disabled")
)

// MissingPlaceholderError reports a required placeholder with no value.
type MissingPlaceholderError struct {
	Command     string
	Placeholder string
}

func (e *MissingPlaceholderError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("no value for {{%s}}", e.Placeholder)
	}
	return fmt.Sprintf("%s: no value for {{%s}}", e.Command, e.Placeholder)
}

// TemplateError reports a malformed template in configuration.
type TemplateError struct {
	Command  string
	Template string
	Message  string
}

func (e *TemplateError) Error() string {
	if e.Command == "" {
		return "template: " + e.Message
	}
	return fmt.Sprintf("command %s: template: %s", e.Command, e.Message)
}

// =============================================================================
// COMMANDS
// =============================================================================

// Command is one configured command. Commands are read-only after NewRegistry.
type Command struct {
	// Name is the normalized command name (e.g., "makecaption")
	Name string

	// Enabled commands may be invoked and are registered with platforms
	Enabled bool

	// Description is shown in platform command pickers
	Description string

	// Template is the parsed prompt template
	Template *Template
}

// Invocation carries the user-supplied values for one resolution.
type Invocation struct {
	// Prompt is the user's argument text
	Prompt string

	// Attachment is the text of an attached file, if HasAttachment
	Attachment    string
	HasAttachment bool
}

// Resolution is a fully materialized prompt.
type Resolution struct {
	Command *Command

	// Prompt is the text handed to the model
	Prompt string

	// UserPrompt is the user's own text after newline replacement
	UserPrompt string
}

// =============================================================================
// REGISTRY
// =============================================================================

// Options control resolution behavior.
type Options struct {
	// ReplaceNewlines turns a literal backslash-n typed by the user into a
	// newline
	ReplaceNewlines bool
}

// Registry maps command names to commands. It is built once at startup and is
// safe for concurrent readers without locking.
type Registry struct {
	cmds map[string]*Command
	opts Options
}

// NewRegistry builds a registry from configuration, parsing every template.
func NewRegistry(cfgs map[string]config.CommandConfig, opts Options) (*Registry, error) {
	r := &Registry{cmds: make(map[string]*Command, len(cfgs)), opts: opts}

	for rawName, cfg := range cfgs {
		name := NormalizeName(rawName)
		if _, dup := r.cmds[name]; dup {
			return nil, fmt.Errorf("command %q defined twice", name)
		}

		tmpl, err := ParseTemplate(cfg.Prompt, cfg.Defaults)
		if err != nil {
			var terr *TemplateError
			if errors.As(err, &terr) {
				terr.Command = name
			}
			return nil, err
		}

		r.cmds[name] = &Command{
			Name:        name,
			Enabled:     cfg.Enabled,
			Description: cfg.Description,
			Template:    tmpl,
		}
	}
	return r, nil
}

// Get returns the command for name, or nil.
func (r *Registry) Get(name string) *Command {
	return r.cmds[NormalizeName(name)]
}

// All returns every command sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.cmds))
	for _, cmd := range r.cmds {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Enabled returns the enabled commands sorted by name.
func (r *Registry) Enabled() []*Command {
	var cmds []*Command
	for _, cmd := range r.All() {
		if cmd.Enabled {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Resolve materializes the prompt for an invocation of name. It has no side
// effects; resolving the same input twice yields the same prompt.
func (r *Registry) Resolve(name string, inv Invocation) (*Resolution, error) {
	cmd := r.Get(name)
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, NormalizeName(name))
	}
	if !cmd.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, cmd.Name)
	}

	userPrompt := inv.Prompt
	if r.opts.ReplaceNewlines {
		userPrompt = strings.ReplaceAll(userPrompt, `\n`, "\n")
	}

	values := map[string]string{PlaceholderPrompt: userPrompt}
	if inv.HasAttachment {
		values[PlaceholderAttachment] = inv.Attachment
	}

	prompt, err := cmd.Template.Execute(values)
	if err != nil {
		var missing *MissingPlaceholderError
		if errors.As(err, &missing) {
			missing.Command = cmd.Name
		}
		return nil, err
	}

	return &Resolution{Command: cmd, Prompt: prompt, UserPrompt: userPrompt}, nil
}
