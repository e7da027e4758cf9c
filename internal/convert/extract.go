// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package convert

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
)

// imageExtensions are the file types collected as comic/manga pages.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// runCommand executes an external extraction/conversion tool. Declared as a
// variable so tests can substitute a fake.
var runCommand = func(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// collectImages walks dir recursively, encodes every image file as a
// data-URI JSON string, and returns them sorted by path.
func collectImages(dir string) ([]json.RawMessage, error) {
	type entry struct {
		path string
		item json.RawMessage
	}
	var entries []entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !imageExtensions[ext] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image %s: %w", path, err)
		}

		uri := fmt.Sprintf("data:image/%s;base64,%s",
			strings.TrimPrefix(ext, "."), base64.StdEncoding.EncodeToString(data))

		item, err := json.Marshal(uri)
		if err != nil {
			return err
		}

		entries = append(entries, entry{path: path, item: item})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	items := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.item)
	}
	return items, nil
}

// extractZip unpacks a ZIP/CBZ archive into dest.
func extractZip(_ context.Context, src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractZipEntry(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string) error {
	// Reject entries that would escape the destination (zip-slip).
	target := filepath.Join(dest, f.Name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("zip entry %q escapes destination", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	w, err := os.Create(target)
	if err != nil {
		return err
	}
	defer w.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("extract zip entry %q: %w", f.Name, err)
	}
	return nil
}

// extractRAR unpacks a RAR/CBR archive into dest using the unrar tool.
func extractRAR(ctx context.Context, src, dest string) error {
	return runCommand(ctx, "unrar", "x", "-y", "-o+", src, dest+string(os.PathSeparator))
}

// extract7z unpacks a 7z/CB7 archive into dest using the 7z tool.
func extract7z(ctx context.Context, src, dest string) error {
	return runCommand(ctx, "7z", "x", "-y", "-o"+dest, src)
}

// extractorFor returns the extraction function for an archive kind.
// KindComicManga has no extractor; its pages are read in place.
func extractorFor(kind Kind) (func(context.Context, string, string) error, bool) {
	switch kind {
	case KindZIP:
		return extractZip, true
	case KindRAR:
		return extractRAR, true
	case Kind7Z:
		return extract7z, true
	default:
		return nil, false
	}
}
