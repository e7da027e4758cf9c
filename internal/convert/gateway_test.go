// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rigo85/libretorio/internal/cache"
)

// pngBytes is a minimal PNG header, enough for a byte-level round trip.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}

func newTestGateway(t *testing.T) (*Gateway, *cache.Store) {
	t.Helper()
	store := cache.NewStore(t.TempDir(), 10*1024*1024)
	g := NewGateway(store)
	g.workDir = t.TempDir()
	return g, store
}

// writeCBZ builds a real ZIP archive with the given image entries.
func writeCBZ(t *testing.T, path string, names ...string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(pngBytes)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func stubRunCommand(t *testing.T, fn func(ctx context.Context, name string, args ...string) error) {
	t.Helper()
	orig := runCommand
	runCommand = fn
	t.Cleanup(func() { runCommand = orig })
}

func firstPageURI(t *testing.T, res Result) string {
	t.Helper()
	require.NotNil(t, res.Pages)
	require.NotEmpty(t, res.Pages.Pages)

	var uri string
	require.NoError(t, json.Unmarshal(res.Pages.Pages[0], &uri))
	return uri
}

func TestDecompressCBZRoundTrip(t *testing.T) {
	g, store := newTestGateway(t)

	archive := filepath.Join(t.TempDir(), "book.cbz")
	writeCBZ(t, archive, "pages/002.png", "pages/001.png", "info.txt")

	res := g.Decompress(context.Background(), KindZIP, archive, "book-1")
	require.Equal(t, "OK", res.Success, res.Error)
	require.NotNil(t, res.Pages)

	// Only the two images survive, sorted by path, on a single page.
	assert.Len(t, res.Pages.Pages, 2)
	assert.Equal(t, 1, res.Pages.PageIndex)
	assert.Equal(t, 2, res.Pages.TotalPages)
	assert.Equal(t, 0, res.Pages.Index)
	assert.True(t, strings.HasPrefix(firstPageURI(t, res), "data:image/png;base64,"))

	assert.True(t, store.Has("book-1"))

	// No extraction workspace is left behind.
	leftovers, err := filepath.Glob(filepath.Join(g.workDir, "extracted-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestDecompressComicMangaDirectory(t *testing.T) {
	g, _ := newTestGateway(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.jpg"), pngBytes, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.jpg"), pngBytes, 0o644))

	res := g.Decompress(context.Background(), KindComicManga, dir, "manga-1")
	require.Equal(t, "OK", res.Success, res.Error)
	assert.Len(t, res.Pages.Pages, 2)
}

func TestDecompressMissingFile(t *testing.T) {
	g, store := newTestGateway(t)

	res := g.Decompress(context.Background(), KindZIP, "/no/such/book.cbz", "ghost")
	assert.Equal(t, "ERROR", res.Success)
	assert.Contains(t, res.Error, "does not exist")
	assert.False(t, store.Has("ghost"))
}

func TestDecompressValidatesArguments(t *testing.T) {
	g, _ := newTestGateway(t)

	res := g.Decompress(context.Background(), KindZIP, "", "book-1")
	assert.Equal(t, "ERROR", res.Success)

	archive := filepath.Join(t.TempDir(), "book.cbz")
	writeCBZ(t, archive, "01.png")
	res = g.Decompress(context.Background(), KindZIP, archive, "")
	assert.Equal(t, "ERROR", res.Success)
}

func TestDecompressCacheShortCircuit(t *testing.T) {
	g, store := newTestGateway(t)

	// Pre-published entry: the extractor must never run.
	item, err := json.Marshal("data:image/png;base64,AAAA")
	require.NoError(t, err)
	require.NoError(t, store.Write("cached-book", []json.RawMessage{item}))

	stubRunCommand(t, func(ctx context.Context, name string, args ...string) error {
		t.Fatalf("external tool %s invoked despite cache hit", name)
		return nil
	})

	// Kind RAR would shell out to unrar on a miss.
	archive := filepath.Join(t.TempDir(), "book.cbr")
	require.NoError(t, os.WriteFile(archive, []byte{0x52, 0x61, 0x72, 0x21}, 0o644))

	res := g.Decompress(context.Background(), KindRAR, archive, "cached-book")
	require.Equal(t, "OK", res.Success, res.Error)
	assert.Len(t, res.Pages.Pages, 1)
}

func TestDecompressRARToolFailure(t *testing.T) {
	g, store := newTestGateway(t)

	stubRunCommand(t, func(ctx context.Context, name string, args ...string) error {
		assert.Equal(t, "unrar", name)
		return fmt.Errorf("%s: exit status 1", name)
	})

	archive := filepath.Join(t.TempDir(), "book.cbr")
	require.NoError(t, os.WriteFile(archive, []byte{0x52, 0x61, 0x72, 0x21}, 0o644))

	res := g.Decompress(context.Background(), KindRAR, archive, "broken")
	assert.Equal(t, "ERROR", res.Success)
	assert.Equal(t, "Error extracting comic/manga book.", res.Error)
	assert.False(t, store.Has("broken"))
}

func TestDecompressEmptyArchive(t *testing.T) {
	g, store := newTestGateway(t)

	archive := filepath.Join(t.TempDir(), "empty.cbz")
	writeCBZ(t, archive, "readme.txt")

	res := g.Decompress(context.Background(), KindZIP, archive, "empty")
	assert.Equal(t, "ERROR", res.Success)
	assert.Equal(t, "Error extracting comic/manga book.", res.Error)
	assert.False(t, store.Has("empty"))
}

func TestDecompressUnknownKind(t *testing.T) {
	g, _ := newTestGateway(t)

	archive := filepath.Join(t.TempDir(), "book.xyz")
	require.NoError(t, os.WriteFile(archive, []byte("not an archive"), 0o644))

	res := g.Decompress(context.Background(), KindUnknown, archive, "weird")
	assert.Equal(t, "ERROR", res.Success)
}

func TestMorePages(t *testing.T) {
	g, store := newTestGateway(t)

	item, err := json.Marshal("data:image/png;base64,AAAA")
	require.NoError(t, err)
	require.NoError(t, store.Write("book-1", []json.RawMessage{item}))

	res := g.MorePages("book-1", 0)
	require.Equal(t, "OK", res.Success, res.Error)
	assert.Equal(t, 0, res.Pages.Index)

	res = g.MorePages("book-1", 7)
	assert.Equal(t, "ERROR", res.Success)
	assert.Equal(t, "Error getting more pages.", res.Error)

	res = g.MorePages("never-seen", 0)
	assert.Equal(t, "ERROR", res.Success)
	assert.Equal(t, "The Comic/Manga has not been decompressed yet.", res.Error)

	res = g.MorePages("", 0)
	assert.Equal(t, "ERROR", res.Success)

	res = g.MorePages("book-1", -1)
	assert.Equal(t, "ERROR", res.Success)
}

func TestConvertToPDF(t *testing.T) {
	g, store := newTestGateway(t)

	src := filepath.Join(t.TempDir(), "novel.epub")
	require.NoError(t, os.WriteFile(src, []byte("epub bytes"), 0o644))

	var calls int
	stubRunCommand(t, func(ctx context.Context, name string, args ...string) error {
		calls++
		assert.Equal(t, "ebook-convert", name)
		require.Len(t, args, 2)
		return os.WriteFile(args[1], []byte("%PDF-1.4 fake"), 0o644)
	})

	res := g.ConvertToPDF(context.Background(), src, "novel-1")
	require.Equal(t, "OK", res.Success, res.Error)
	assert.Equal(t, "/cache/novel-1/novel-1.pdf", res.PdfPath)
	assert.True(t, store.HasArtifact("novel-1", ".pdf"))
	assert.Equal(t, 1, calls)

	// A second request is served from the artifact cache.
	res = g.ConvertToPDF(context.Background(), src, "novel-1")
	require.Equal(t, "OK", res.Success)
	assert.Equal(t, 1, calls)
}

func TestConvertToPDFEmptyOutput(t *testing.T) {
	g, store := newTestGateway(t)

	src := filepath.Join(t.TempDir(), "novel.epub")
	require.NoError(t, os.WriteFile(src, []byte("epub bytes"), 0o644))

	stubRunCommand(t, func(ctx context.Context, name string, args ...string) error {
		// Tool "succeeds" but writes nothing usable.
		return os.WriteFile(args[len(args)-1], nil, 0o644)
	})

	res := g.ConvertToPDF(context.Background(), src, "novel-2")
	assert.Equal(t, "ERROR", res.Success)
	assert.Equal(t, "An error has occurred converting to pdf.", res.Error)
	assert.False(t, store.HasArtifact("novel-2", ".pdf"))
}

func TestConvertToPDFInvalidExtension(t *testing.T) {
	g, _ := newTestGateway(t)

	src := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(src, []byte("audio"), 0o644))

	res := g.ConvertToPDF(context.Background(), src, "track-1")
	assert.Equal(t, "ERROR", res.Success)
	assert.Equal(t, "An error has occurred. Invalid file extension kind.", res.Error)
}

func TestConvertToPDFMissingSource(t *testing.T) {
	g, _ := newTestGateway(t)

	res := g.ConvertToPDF(context.Background(), "/no/such/novel.epub", "novel-3")
	assert.Equal(t, "ERROR", res.Success)
	assert.Contains(t, res.Error, "does not exist")
}

func TestZipSlipRejected(t *testing.T) {
	dest := t.TempDir()

	archive := filepath.Join(t.TempDir(), "evil.cbz")
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("../escape.png")
	require.NoError(t, err)
	_, err = w.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	err = extractZip(context.Background(), archive, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
}
