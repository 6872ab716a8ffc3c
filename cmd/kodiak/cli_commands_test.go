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
	"testing"

	"github.com/AleutianAI/kodiak/internal/lsp"
)

func edit(startLine, startChar, endLine, endChar int, text string) lsp.TextEdit {
	return lsp.TextEdit{
		Range: lsp.Range{
			Start: lsp.Position{Line: startLine, Character: startChar},
			End:   lsp.Position{Line: endLine, Character: endChar},
		},
		NewText: text,
	}
}

func TestPositionOffset(t *testing.T) {
	content := "alpha\nbravo\ncharlie\n"

	tests := []struct {
		name string
		pos  lsp.Position
		want int
	}{
		{"start of document", lsp.Position{Line: 0, Character: 0}, 0},
		{"mid first line", lsp.Position{Line: 0, Character: 3}, 3},
		{"start of second line", lsp.Position{Line: 1, Character: 0}, 6},
		{"mid third line", lsp.Position{Line: 2, Character: 4}, 16},
		{"character past line end clamps", lsp.Position{Line: 0, Character: 99}, 5},
		{"line past document end clamps", lsp.Position{Line: 10, Character: 0}, len(content)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := positionOffset(content, tt.pos)
			if got != tt.want {
				t.Errorf("positionOffset(%+v) = %d, want %d", tt.pos, got, tt.want)
			}
		})
	}
}

func TestPositionOffset_UTF16(t *testing.T) {
	// "é" is 2 bytes in UTF-8 but 1 UTF-16 unit; "𝕏" is 4 bytes in
	// UTF-8 and 2 UTF-16 units. Character positions count the latter.
	tests := []struct {
		name    string
		content string
		pos     lsp.Position
		want    int
	}{
		{"after one BMP multibyte rune", "é=1\n", lsp.Position{Line: 0, Character: 1}, 2},
		{"past BMP multibyte rune", "café x\n", lsp.Position{Line: 0, Character: 4}, 5},
		{"after astral rune counts two units", "𝕏=1\n", lsp.Position{Line: 0, Character: 2}, 4},
		{"multibyte on earlier line does not shift later lines", "é\nplain\n", lsp.Position{Line: 1, Character: 3}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := positionOffset(tt.content, tt.pos)
			if got != tt.want {
				t.Errorf("positionOffset(%q, %+v) = %d, want %d", tt.content, tt.pos, got, tt.want)
			}
		})
	}
}

func TestApplyEdits_MultibyteLine(t *testing.T) {
	// Replacing "1" after the astral rune: server addresses it at
	// UTF-16 character 3 ("𝕏" occupies units 0-1, "=" unit 2).
	content := "𝕏=1\n"
	got := applyEdits(content, []lsp.TextEdit{edit(0, 3, 0, 4, "2")})
	if want := "𝕏=2\n"; got != want {
		t.Errorf("applyEdits() = %q, want %q", got, want)
	}
}

func TestApplyEdits(t *testing.T) {
	tests := []struct {
		name    string
		content string
		edits   []lsp.TextEdit
		want    string
	}{
		{
			name:    "no edits",
			content: "hello\n",
			edits:   nil,
			want:    "hello\n",
		},
		{
			name:    "single replacement",
			content: "hello world\n",
			edits:   []lsp.TextEdit{edit(0, 6, 0, 11, "gopher")},
			want:    "hello gopher\n",
		},
		{
			name:    "insertion at start",
			content: "world\n",
			edits:   []lsp.TextEdit{edit(0, 0, 0, 0, "hello ")},
			want:    "hello world\n",
		},
		{
			name:    "deletion",
			content: "one two three\n",
			edits:   []lsp.TextEdit{edit(0, 3, 0, 7, "")},
			want:    "one three\n",
		},
		{
			name:    "multiple edits on one line applied in document order",
			content: "aa bb cc\n",
			edits: []lsp.TextEdit{
				edit(0, 0, 0, 2, "xx"),
				edit(0, 6, 0, 8, "zz"),
			},
			want: "xx bb zz\n",
		},
		{
			name:    "multiline replacement",
			content: "func main(){\nprintln(1)\n}\n",
			edits:   []lsp.TextEdit{edit(0, 12, 1, 0, "\n\t")},
			want:    "func main(){\n\tprintln(1)\n}\n",
		},
		{
			name:    "edits on separate lines",
			content: "first\nsecond\nthird\n",
			edits: []lsp.TextEdit{
				edit(0, 0, 0, 5, "1st"),
				edit(2, 0, 2, 5, "3rd"),
			},
			want: "1st\nsecond\n3rd\n",
		},
		{
			name:    "whole document replacement",
			content: "old\n",
			edits:   []lsp.TextEdit{edit(0, 0, 1, 0, "new\n")},
			want:    "new\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyEdits(tt.content, tt.edits)
			if got != tt.want {
				t.Errorf("applyEdits() = %q, want %q", got, tt.want)
			}
		})
	}
}
