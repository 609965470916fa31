// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders command output as styled text, plain text or
// tab-separated machine lines.
package ux

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette
var (
	ColorAccent  = lipgloss.Color("#C678DD")
	ColorPrimary = lipgloss.Color("#61AFEF")
	ColorSlate   = lipgloss.Color("#5C6370")

	ColorSuccess = lipgloss.Color("#98C379")
	ColorWarning = lipgloss.Color("#E5C07B")
	ColorError   = lipgloss.Color("#E06C75")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Border  lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).Padding(0, 1),
	Cell:    lipgloss.NewStyle().Padding(0, 1),
	Border:  lipgloss.NewStyle().Foreground(ColorSlate),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconSkipped Icon = "○"
	IconChanged Icon = "✎"
)

// machineWord is how an icon reads in machine output.
func (i Icon) machineWord() string {
	switch i {
	case IconSuccess:
		return "ok"
	case IconWarning:
		return "warn"
	case IconError:
		return "error"
	case IconSkipped:
		return "skipped"
	case IconChanged:
		return "changed"
	default:
		return string(i)
	}
}

func (i Icon) style() lipgloss.Style {
	switch i {
	case IconSuccess, IconChanged:
		return Styles.Success
	case IconWarning:
		return Styles.Warning
	case IconError:
		return Styles.Error
	default:
		return Styles.Muted
	}
}

// Printer writes CLI output at a fixed Level.
type Printer struct {
	w     io.Writer
	level Level
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, level Level) *Printer {
	return &Printer{w: w, level: level}
}

// Level returns the printer's output level.
func (p *Printer) Level() Level {
	return p.level
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if p.level != LevelRich {
		return text
	}
	return s.Render(text)
}

// Title prints a heading. Machine output omits it.
func (p *Printer) Title(text string) {
	if p.level == LevelMachine {
		return
	}
	fmt.Fprintln(p.w, p.render(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, "OK", text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, "WARN", text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status(IconError, "ERROR", text)
}

func (p *Printer) status(icon Icon, word, text string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.w, "%s: %s\n", word, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.render(icon.style(), string(icon)), p.render(icon.style(), text))
}

// FileStatus prints one processed file.
func (p *Printer) FileStatus(path string, icon Icon, detail string) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.w, "%s\t%s\t%s\n", icon.machineWord(), path, detail)
		return
	}
	line := p.render(icon.style(), string(icon)) + " " + path
	if detail != "" {
		line += " " + p.render(Styles.Muted, "("+detail+")")
	}
	fmt.Fprintln(p.w, line)
}

// Summary prints per-outcome file counts.
func (p *Printer) Summary(changed, unchanged, failed int) {
	if p.level == LevelMachine {
		fmt.Fprintf(p.w, "SUMMARY: changed=%d unchanged=%d failed=%d\n", changed, unchanged, failed)
		return
	}
	fmt.Fprintf(p.w, "\n%s %s  %s %s  %s %s\n",
		p.render(Styles.Success, strconv.Itoa(changed)), p.render(Styles.Muted, "changed"),
		p.render(Styles.Bold, strconv.Itoa(unchanged)), p.render(Styles.Muted, "unchanged"),
		p.render(Styles.Error, strconv.Itoa(failed)), p.render(Styles.Muted, "failed"),
	)
}

// Table prints rows under headers: a bordered table for people, tab
// separated values for machines.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.level == LevelMachine {
		for _, row := range rows {
			for i, cell := range row {
				if i > 0 {
					fmt.Fprint(p.w, "\t")
				}
				fmt.Fprint(p.w, cell)
			}
			fmt.Fprintln(p.w)
		}
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...)
	if p.level == LevelRich {
		t = t.BorderStyle(Styles.Border).StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return Styles.Header
			}
			return Styles.Cell
		})
	} else {
		t = t.StyleFunc(func(int, int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) })
	}
	fmt.Fprintln(p.w, t.String())
}
