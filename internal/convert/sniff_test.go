// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffKind(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		want   Kind
	}{
		{"zip", []byte{0x50, 0x4B, 0x03, 0x04, 0x14, 0x00}, KindZIP},
		{"rar", []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07}, KindRAR},
		{"7z", []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}, Kind7Z},
		{"pdf", []byte("%PDF-1.7"), KindUnknown},
		{"short", []byte{0x50, 0x4B}, KindUnknown},
		{"empty", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffKind(tt.header))
		})
	}
}

func TestDetectKind(t *testing.T) {
	dir := t.TempDir()

	zipPath := filepath.Join(dir, "book.cbz")
	require.NoError(t, os.WriteFile(zipPath, []byte{0x50, 0x4B, 0x03, 0x04, 0x00, 0x00}, 0o644))
	assert.Equal(t, KindZIP, DetectKind(zipPath))

	textPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("hello world"), 0o644))
	assert.Equal(t, KindUnknown, DetectKind(textPath))

	tiny := filepath.Join(dir, "tiny")
	require.NoError(t, os.WriteFile(tiny, []byte{0x50}, 0o644))
	assert.Equal(t, KindUnknown, DetectKind(tiny))

	assert.Equal(t, KindUnknown, DetectKind(""))
	assert.Equal(t, KindUnknown, DetectKind(filepath.Join(dir, "missing")))
}

func TestKindFromHint(t *testing.T) {
	dir := t.TempDir()
	rarPath := filepath.Join(dir, "book.cbr")
	require.NoError(t, os.WriteFile(rarPath, []byte{0x52, 0x61, 0x72, 0x21, 0x1A}, 0o644))

	tests := []struct {
		name     string
		fileKind string
		filePath string
		want     Kind
	}{
		{"sniffed from file hint", "FILE", rarPath, KindRAR},
		{"directory of images", "COMIC-MANGA", "/library/one-piece", KindComicManga},
		{"explicit cbz", "cbz", "", KindZIP},
		{"explicit cbr", "CBR", "", KindRAR},
		{"explicit cb7", "cb7", "", Kind7Z},
		{"unknown hint", "EPUB", "", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindFromHint(tt.fileKind, tt.filePath))
		})
	}
}
