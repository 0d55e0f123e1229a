// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package console

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// styles colors console output. The renderer detects the color profile of
// the output itself, so piped or captured output stays plain.
type styles struct {
	bot lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	// https://no-color.org/
	if os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		bot: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")), // Cyan
	}
}
