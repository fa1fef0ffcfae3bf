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
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// inputReader reads one line of user input at a time. It returns io.EOF
// when the user is done.
type inputReader interface {
	ReadLine() (string, error)
}

// newInputReader returns an interactive reader with history when in is a
// terminal, and a plain line reader otherwise.
func newInputReader(in io.Reader, prompt io.Writer, maxHistory int) inputReader {
	if isInteractive(in) {
		return &teaReader{prompt: "defect> ", maxHistory: maxHistory}
	}
	return &lineReader{scanner: bufio.NewScanner(in), out: prompt, prompt: "defect> "}
}

// lineReader reads newline-terminated input, for pipes and tests.
type lineReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (r *lineReader) ReadLine() (string, error) {
	if r.out != nil {
		fmt.Fprint(r.out, r.prompt)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(r.scanner.Text()), nil
}

// teaReader reads a line with a bubbletea text input. Up and down walk
// the history; Ctrl+D on an empty line ends input.
type teaReader struct {
	prompt     string
	history    []string
	maxHistory int
}

func (r *teaReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.CharLimit = 512
	ti.Width = 80
	ti.Focus()

	final, err := tea.NewProgram(inputModel{input: ti, history: r.history, index: -1}, tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type %T", final)
	}
	if m.eof {
		return "", io.EOF
	}
	line := strings.TrimSpace(m.input.Value())
	r.remember(line)
	return line, nil
}

func (r *teaReader) remember(line string) {
	if line == "" || (len(r.history) > 0 && r.history[len(r.history)-1] == line) {
		return
	}
	r.history = append(r.history, line)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

type inputModel struct {
	input   textinput.Model
	history []string
	// index is the history entry shown, or -1 for the live line.
	index   int
	pending string
	done    bool
	eof     bool
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC:
			m.input.SetValue("")
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlD:
			if m.input.Value() == "" {
				m.eof = true
				m.done = true
				return m, tea.Quit
			}
		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.index == -1 {
				m.pending = m.input.Value()
				m.index = len(m.history) - 1
			} else if m.index > 0 {
				m.index--
			}
			m.input.SetValue(m.history[m.index])
			m.input.CursorEnd()
			return m, nil
		case tea.KeyDown:
			if m.index == -1 {
				return m, nil
			}
			if m.index < len(m.history)-1 {
				m.index++
				m.input.SetValue(m.history[m.index])
			} else {
				m.index = -1
				m.input.SetValue(m.pending)
			}
			m.input.CursorEnd()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.input.View()
}
