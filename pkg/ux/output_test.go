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
	"strings"
	"testing"
)

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconArrow} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render(%q) lost the glyph", icon)
		}
	}
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"plain":   ModePlain,
		"MACHINE": ModePlain,
		" q ":     ModePlain,
		"rich":    ModeRich,
		"":        ModeRich,
		"fancy":   ModeRich,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectMode_EnvOverride(t *testing.T) {
	t.Setenv(ModeEnv, "plain")
	if got := DetectMode(os.Stdout); got != ModePlain {
		t.Errorf("DetectMode = %q, want plain", got)
	}
}

func TestDetectMode_NonTerminal(t *testing.T) {
	t.Setenv(ModeEnv, "")
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got := DetectMode(f); got != ModePlain {
		t.Errorf("DetectMode(file) = %q, want plain", got)
	}
	if got := DetectMode(nil); got != ModePlain {
		t.Errorf("DetectMode(nil) = %q, want plain", got)
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_PlainStatusLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Title("ignored")
	p.Success("graph v3 published")
	p.Warning("data mode RECOVERY")
	p.Error("no stops for Atlantis")
	p.Info("details")

	want := "OK: graph v3 published\nWARN: data mode RECOVERY\nERROR: no stops for Atlantis\ndetails\n"
	if buf.String() != want {
		t.Errorf("output =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestPrinter_PlainTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)

	p.Table([]string{"VERSION", "NODES"}, [][]string{{"2", "14"}, {"1", "12"}})

	want := "VERSION\tNODES\n2\t14\n1\t12\n"
	if buf.String() != want {
		t.Errorf("table =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestPrinter_RichTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeRich)

	p.Table([]string{"FROM", "TO"}, [][]string{{"Anchorage", "Juneau"}, {"Sitka"}})

	out := buf.String()
	for _, s := range []string{"FROM", "TO", "Anchorage", "Juneau", "Sitka"} {
		if !strings.Contains(out, s) {
			t.Errorf("rich table missing %q:\n%s", s, out)
		}
	}
	if lines := strings.Count(strings.TrimRight(out, "\n"), "\n") + 1; lines != 3 {
		t.Errorf("rich table has %d lines, want 3", lines)
	}
}

func TestPrinter_Box(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModePlain).Box("Run", "stages: 4\nmode: REAL")
	if buf.String() != "Run: stages: 4; mode: REAL\n" {
		t.Errorf("plain box = %q", buf.String())
	}

	buf.Reset()
	NewPrinter(&buf, ModeRich).Box("Run", "stages: 4")
	if !strings.Contains(buf.String(), "stages: 4") || !strings.Contains(buf.String(), "╭") {
		t.Errorf("rich box = %q", buf.String())
	}
}
