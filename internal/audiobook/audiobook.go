// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package audiobook lists the playable audio files of an audiobook
// directory, with per-track MIME type and duration for the player UI.
package audiobook

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/Rigo85/libretorio/internal/logging"
)

// Metadata describes one playable track.
type Metadata struct {
	Title  string `json:"title"`
	Src    string `json:"src"`
	Type   string `json:"type"`
	Length string `json:"length"`
}

// mimeTypes maps supported audio extensions to their MIME type. The map
// doubles as the extension allowlist.
var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// probeDuration returns a track's duration in seconds via ffprobe.
// Declared as a variable so tests can substitute a fake.
var probeDuration = func(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse duration: %w", path, err)
	}
	return seconds, nil
}

// ListAudioFiles returns the audiobook tracks inside dir, sorted
// case-insensitively by file name. Unreadable track metadata degrades to
// the file name and a zero duration instead of failing the listing.
func ListAudioFiles(ctx context.Context, dir string) ([]Metadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read audiobook directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := mimeTypes[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			names = append(names, entry.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	tracks := make([]Metadata, 0, len(names))
	for _, name := range names {
		ext := strings.ToLower(filepath.Ext(name))
		src := filepath.Join(dir, name)

		length := 0.0
		if seconds, err := probeDuration(ctx, src); err == nil {
			length = seconds
		} else {
			logging.Warn().Err(err).Str("file", src).Msg("could not read track duration")
		}

		tracks = append(tracks, Metadata{
			Title:  trackTitle(src, name),
			Src:    src,
			Type:   mimeTypes[ext],
			Length: formatTime(length),
		})
	}
	return tracks, nil
}

// trackTitle prefers the embedded tag title, falling back to the file
// name when the file carries no readable tags.
func trackTitle(path, fallback string) string {
	f, err := os.Open(path)
	if err != nil {
		return fallback
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil || strings.TrimSpace(meta.Title()) == "" {
		return fallback
	}
	return meta.Title()
}

// formatTime renders a duration in seconds as H:MM:SS, dropping leading
// zero components. Zero or invalid durations render as "0:00".
func formatTime(seconds float64) string {
	if math.IsNaN(seconds) || seconds <= 0 {
		return "0:00"
	}

	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := int(math.Round(math.Mod(seconds, 60)))

	switch {
	case h > 0:
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	case m > 0:
		return fmt.Sprintf("%02d:%02d", m, s)
	default:
		return fmt.Sprintf("%02d", s)
	}
}
