// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands maps user-invoked command names to prompt templates.
package commands

import (
	"fmt"
	"strings"
)

// Well-known placeholder names.
const (
	// PlaceholderPrompt receives the user's argument text
	PlaceholderPrompt = "PROMPT"

	// PlaceholderAttachment receives the text of an attached file
	PlaceholderAttachment = "ATTACHMENT"
)

// =============================================================================
// PLACEHOLDERS
// =============================================================================

// PlaceholderKind tags a placeholder as required or optional.
type PlaceholderKind int

const (
	// Required placeholders must be supplied at resolution time
	Required PlaceholderKind = iota

	// Optional placeholders fall back to their Default
	Optional
)

func (k PlaceholderKind) String() string {
	if k == Optional {
		return "optional"
	}
	return "required"
}

// Placeholder is a named substitution point.
type Placeholder struct {
	Name    string
	Kind    PlaceholderKind
	Default string
}

// Segment is either literal text or a reference to a placeholder.
type Segment struct {
	Literal string
	// Placeholder is the placeholder name; empty for literal segments
	Placeholder string
}

// =============================================================================
// TEMPLATE
// =============================================================================

// Template is a parsed prompt template. It is immutable once parsed.
type Template struct {
	raw          string
	segments     []Segment
	placeholders []Placeholder
	index        map[string]int
}

// ParseTemplate parses {{NAME}} placeholders in raw. Names are
// case-insensitive and stored upper-case. A placeholder with an entry in
// defaults is Optional, all others are Required.
func ParseTemplate(raw string, defaults map[string]string) (*Template, error) {
	t := &Template{raw: raw, index: make(map[string]int)}

	normalizedDefaults := make(map[string]string, len(defaults))
	for name, value := range defaults {
		normalizedDefaults[strings.ToUpper(strings.TrimSpace(name))] = value
	}

	rest := raw
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			t.addLiteral(rest)
			break
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			return nil, &TemplateError{Template: raw, Message: "unterminated placeholder"}
		}

		t.addLiteral(rest[:open])
		name := strings.ToUpper(strings.TrimSpace(rest[open+2 : open+2+end]))
		if !validPlaceholderName(name) {
			return nil, &TemplateError{Template: raw, Message: fmt.Sprintf("invalid placeholder name %q", name)}
		}
		t.addPlaceholder(name, normalizedDefaults)
		rest = rest[open+2+end+2:]
	}

	for name := range normalizedDefaults {
		if _, ok := t.index[name]; !ok {
			return nil, &TemplateError{Template: raw, Message: fmt.Sprintf("default given for unused placeholder %q", name)}
		}
	}
	return t, nil
}

func (t *Template) addLiteral(s string) {
	if s == "" {
		return
	}
	t.segments = append(t.segments, Segment{Literal: s})
}

func (t *Template) addPlaceholder(name string, defaults map[string]string) {
	t.segments = append(t.segments, Segment{Placeholder: name})
	if _, seen := t.index[name]; seen {
		return
	}
	p := Placeholder{Name: name, Kind: Required}
	if value, ok := defaults[name]; ok {
		p.Kind = Optional
		p.Default = value
	}
	t.index[name] = len(t.placeholders)
	t.placeholders = append(t.placeholders, p)
}

func validPlaceholderName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// Raw returns the template source.
func (t *Template) Raw() string {
	return t.raw
}

// Segments returns the parsed segments in order.
func (t *Template) Segments() []Segment {
	return append([]Segment(nil), t.segments...)
}

// Placeholders returns each distinct placeholder in order of first use.
func (t *Template) Placeholders() []Placeholder {
	return append([]Placeholder(nil), t.placeholders...)
}

// Uses reports whether the template references name.
func (t *Template) Uses(name string) bool {
	_, ok := t.index[strings.ToUpper(name)]
	return ok
}

// Execute substitutes values into the template. A blank value counts as
// absent. Returns *MissingPlaceholderError for a required placeholder with
// no value.
func (t *Template) Execute(values map[string]string) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.Placeholder == "" {
			b.WriteString(seg.Literal)
			continue
		}

		value, ok := values[seg.Placeholder]
		if !ok || strings.TrimSpace(value) == "" {
			p := t.placeholders[t.index[seg.Placeholder]]
			if p.Kind == Required {
				return "", &MissingPlaceholderError{Placeholder: p.Name}
			}
			value = p.Default
		}
		b.WriteString(value)
	}
	return b.String(), nil
}
