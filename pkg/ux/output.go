// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the resgraph CLI.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette: deep ocean teals and arctic waters.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Printer writes styled lines. Styling is dropped when Color is false.
type Printer struct {
	W     io.Writer
	Color bool
}

// NewPrinter returns a Printer on w with colour enabled when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{W: w, Color: ColorEnabled(w)}
}

// ColorEnabled reports whether w is a terminal that should get colour.
func ColorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Style renders text with s when colour is on.
func (p *Printer) Style(s lipgloss.Style, text string) string {
	if !p.Color {
		return text
	}
	return s.Render(text)
}

// Icon renders i in its status colour.
func (p *Printer) Icon(i Icon) string {
	switch i {
	case IconSuccess:
		return p.Style(Styles.Success, string(i))
	case IconWarning:
		return p.Style(Styles.Warning, string(i))
	case IconError:
		return p.Style(Styles.Error, string(i))
	}
	return string(i)
}

// Title prints a styled heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.W, p.Style(Styles.Title, text))
}

// Success prints a line with a success mark.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.W, "%s %s\n", p.Icon(IconSuccess), fmt.Sprintf(format, args...))
}

// Warning prints a line with a warning mark.
func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintf(p.W, "%s %s\n", p.Icon(IconWarning), fmt.Sprintf(format, args...))
}

// Error prints a line with an error mark.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintf(p.W, "%s %s\n", p.Icon(IconError), p.Style(Styles.Error, fmt.Sprintf(format, args...)))
}

// Row prints a bullet line of a label and a muted detail.
func (p *Printer) Row(label, detail string) {
	if detail == "" {
		fmt.Fprintf(p.W, "  %s %s\n", IconBullet, p.Style(Styles.Bold, label))
		return
	}
	fmt.Fprintf(p.W, "  %s %s  %s\n", IconBullet, p.Style(Styles.Bold, label), p.Style(Styles.Muted, detail))
}
