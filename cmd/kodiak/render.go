// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/kodiak/internal/lsp"
)

// Kodiak color palette - deep ocean teals and arctic waters
var (
	colorTealBright = lipgloss.Color("#2CD7C7")
	colorSlate      = lipgloss.Color("#2C4A54")
	colorWarning    = lipgloss.Color("#F4D03F")
	colorError      = lipgloss.Color("#E74C3C")
)

var styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTealBright),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Success: lipgloss.NewStyle().Foreground(colorTealBright),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError),
}

// plainOutput reports whether styling should be suppressed (piped
// output or a dumb terminal).
func plainOutput() bool {
	return !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// severityStyle picks the style for a diagnostic severity.
func severityStyle(s lsp.DiagnosticSeverity) lipgloss.Style {
	switch s {
	case lsp.SeverityError:
		return styles.Error
	case lsp.SeverityWarning:
		return styles.Warning
	default:
		return styles.Muted
	}
}

// renderDiagnostic prints one diagnostic as "path:line:col severity message".
func renderDiagnostic(path string, d lsp.Diagnostic) {
	location := fmt.Sprintf("%s:%d:%d", path, d.Range.Start.Line+1, d.Range.Start.Character+1)
	label := d.Severity.String()

	if plainOutput() {
		fmt.Printf("%s %s %s\n", location, label, d.Message)
		return
	}
	fmt.Printf("%s %s %s\n",
		styles.Muted.Render(location),
		severityStyle(d.Severity).Render(label),
		d.Message,
	)
}

// renderHeading prints a section heading.
func renderHeading(text string) {
	if plainOutput() {
		fmt.Println(text)
		return
	}
	fmt.Println(styles.Title.Render(text))
}

// renderStatus prints a name/status pair for the servers listing.
func renderStatus(name string, installed bool, languages []string) {
	status := "not installed"
	style := styles.Error
	if installed {
		status = "installed"
		style = styles.Success
	}

	if plainOutput() {
		fmt.Printf("%-28s %-14s %v\n", name, status, languages)
		return
	}
	fmt.Printf("%-28s %-14s %s\n", name, style.Render(status), styles.Muted.Render(fmt.Sprint(languages)))
}
