// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconInfo, IconArrow} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeStyled, ParseMode("styled", nil))
	assert.Equal(t, ModePlain, ParseMode("PLAIN", nil))
	// auto with no file falls back to plain
	assert.Equal(t, ModePlain, ParseMode("auto", nil))
}

func TestDetectMode_NotTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	assert.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ModePlain, DetectMode(f))
}

func TestDetectMode_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(os.Stdout))
}

func TestPrinter_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Title("ignored")
	p.Success("seeded")
	p.Warning("careful")
	p.Error("broken")
	p.Info("note")
	p.KeyValue("factors", 3)
	p.Chain(1, []string{"Solder paste", "Reflow temperature"}, "Solder bridge")

	want := "OK\tseeded\n" +
		"WARN\tcareful\n" +
		"ERROR\tbroken\n" +
		"INFO\tnote\n" +
		"factors\t3\n" +
		"1\tSolder paste -> Reflow temperature -> Solder bridge\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_PlainBox(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModePlain).Box("Void", "text")
	assert.Equal(t, "Void:\ntext\n", buf.String())
}

func TestPrinter_Styled(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)

	p.Success("seeded")
	p.Chain(2, []string{"Stencil thickness"}, "Solder bridge")
	p.Box("Report", "body")

	out := buf.String()
	assert.Contains(t, out, "seeded")
	assert.Contains(t, out, "Stencil thickness")
	assert.Contains(t, out, "Solder bridge")
	assert.Contains(t, out, "Report")
	assert.Contains(t, out, "body")
	assert.NotContains(t, out, "OK\t")
}

func TestPrinter_Text(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)
	p.Text("tok")
	p.Text("en")
	assert.Equal(t, "token", buf.String())
	assert.Equal(t, &buf, p.Writer())
	assert.Equal(t, ModeStyled, p.Mode())
}
