// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands maps user-invoked command names to prompt templates.
package commands

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// TEXT COMMAND PARSING
// =============================================================================

// ParsedInvocation is a text command split into name and argument text.
type ParsedInvocation struct {
	// Name is the normalized command name
	Name string

	// Args is the raw text after the name, trimmed; it is free-form prompt
	// text and is not tokenized
	Args string
}

// ParseInvocation parses "<prefix><name> <args>" (e.g., "!makecaption a
// sunset"). Returns false if content does not start with prefix followed by
// a name.
func ParseInvocation(content, prefix string) (ParsedInvocation, bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return ParsedInvocation{}, false
	}
	rest := content[len(prefix):]

	// Find end of command name (first space or end of string)
	end := strings.IndexFunc(rest, unicode.IsSpace)
	name, args := rest, ""
	if end >= 0 {
		name, args = rest[:end], strings.TrimSpace(rest[end:])
	}

	name = NormalizeName(name)
	if name == "" {
		return ParsedInvocation{}, false
	}
	return ParsedInvocation{Name: name, Args: args}, true
}

// NormalizeName folds compatibility characters (full-width letters and the
// like) and case, so "!ＭａｋｅCaption" finds "makecaption".
func NormalizeName(name string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(name)))
}
