// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux styles command-line output for the qualitycontrol CLI.
//
// A Printer renders either styled output (colors, icons, boxes) for an
// interactive terminal or plain tab-separated lines for pipes and scripts.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorPrimary = lipgloss.Color("#20B9B4")
	ColorBright  = lipgloss.Color("#2CD7C7")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#6B8A94")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Factor  lipgloss.Style
	Defect  lipgloss.Style
	Box     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorBright),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Factor:  lipgloss.NewStyle().Foreground(ColorPrimary),
	Defect:  lipgloss.NewStyle().Bold(true).Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconInfo    Icon = "•"
	IconArrow   Icon = "→"
)

// Render returns the icon with its style applied.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconArrow:
		return Styles.Muted.Render(string(i))
	default:
		return Styles.Factor.Render(string(i))
	}
}

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeStyled renders colors, icons and boxes.
	ModeStyled Mode = iota

	// ModePlain renders tab-separated lines suitable for scripting.
	ModePlain
)

// ParseMode converts "styled", "plain" or "auto". Auto and unknown values
// fall back to terminal detection on f.
func ParseMode(s string, f *os.File) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "styled":
		return ModeStyled
	case "plain":
		return ModePlain
	default:
		return DetectMode(f)
	}
}

// DetectMode returns ModeStyled when f is an interactive terminal and
// NO_COLOR is unset.
func DetectMode(f *os.File) Mode {
	if f == nil || os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	fd := f.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes formatted CLI output.
type Printer struct {
	out  io.Writer
	mode Mode
}

// NewPrinter returns a Printer writing to out.
func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{out: out, mode: mode}
}

// Mode returns the rendering mode.
func (p *Printer) Mode() Mode { return p.mode }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) status(icon Icon, label, msg string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "%s\t%s\n", label, msg)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", icon.Render(), msg)
}

// Success prints a success line.
func (p *Printer) Success(msg string) { p.status(IconSuccess, "OK", msg) }

// Warning prints a warning line.
func (p *Printer) Warning(msg string) { p.status(IconWarning, "WARN", msg) }

// Error prints an error line.
func (p *Printer) Error(msg string) { p.status(IconError, "ERROR", msg) }

// Info prints an informational line.
func (p *Printer) Info(msg string) { p.status(IconInfo, "INFO", msg) }

// Title prints a heading. Plain mode prints nothing.
func (p *Printer) Title(title string) {
	if p.mode == ModePlain {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(title))
}

// Box prints content under a title inside a rounded border.
func (p *Printer) Box(title, content string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "%s:\n%s\n", title, content)
		return
	}
	body := Styles.Title.Render(title) + "\n" + content
	fmt.Fprintln(p.out, Styles.Box.Width(72).Render(body))
}

// Chain prints one root-cause chain ending in the defect. Plain mode joins
// the names with " -> " after the chain number.
func (p *Printer) Chain(n int, factors []string, defect string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "%d\t%s -> %s\n", n, strings.Join(factors, " -> "), defect)
		return
	}
	parts := make([]string, 0, len(factors)+1)
	for _, f := range factors {
		parts = append(parts, Styles.Factor.Render(f))
	}
	parts = append(parts, Styles.Defect.Render(defect))
	sep := " " + IconArrow.Render() + " "
	fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render(fmt.Sprintf("%2d.", n)), strings.Join(parts, sep))
}

// KeyValue prints an aligned label and value.
func (p *Printer) KeyValue(key string, value any) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "%s\t%v\n", key, value)
		return
	}
	fmt.Fprintf(p.out, "%s %v\n", Styles.Muted.Render(fmt.Sprintf("%-10s", key+":")), value)
}

// Text writes s unchanged. Used for streamed tokens.
func (p *Printer) Text(s string) {
	fmt.Fprint(p.out, s)
}
