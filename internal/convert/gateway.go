// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package convert is the gateway to "produce artifact from source file"
// jobs: comic/manga archive extraction and document-to-PDF conversion.
//
// Every job consults the page/artifact cache before doing work, so a large
// decompression is computed at most once per content id. Within one process
// concurrent requests for the same uncached id are collapsed with
// singleflight; across processes duplicate computation is tolerated since
// published results are idempotent.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Rigo85/libretorio/internal/cache"
	"github.com/Rigo85/libretorio/internal/logging"
	"github.com/Rigo85/libretorio/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Result is the uniform outcome envelope of a conversion job. It is
// marshaled verbatim into the response frame's data field.
type Result struct {
	Success string      `json:"success"` // "OK" or "ERROR"
	Error   string      `json:"error,omitempty"`
	Pages   *cache.Page `json:"pages,omitempty"`
	PdfPath string      `json:"pdfPath,omitempty"`
}

func okPages(page *cache.Page) Result {
	return Result{Success: "OK", Pages: page}
}

func okPdf(publicPath string) Result {
	return Result{Success: "OK", PdfPath: publicPath}
}

func errResult(msg string) Result {
	return Result{Success: "ERROR", Error: msg}
}

// Gateway runs conversion jobs against a shared page/artifact cache.
type Gateway struct {
	store *cache.Store
	sf    singleflight.Group

	// workDir hosts temporary extraction workspaces. Defaults to the
	// system temp dir.
	workDir string
}

// NewGateway creates a gateway over the given cache store.
func NewGateway(store *cache.Store) *Gateway {
	return &Gateway{store: store, workDir: os.TempDir()}
}

// Decompress extracts a comic/manga archive (or lists a directory of
// images) and returns the first cache page of the result. A present cache
// entry short-circuits the job entirely.
func (g *Gateway) Decompress(ctx context.Context, kind Kind, filePath, contentID string) Result {
	if filePath == "" {
		return errResult("The path to the Comic/Manga file has not been provided.")
	}
	if contentID == "" {
		return errResult("The Comic/Manga ID has not been provided.")
	}
	if _, err := os.Stat(filePath); err != nil {
		return errResult(fmt.Sprintf("The Comic/Manga file does not exist: %q", filePath))
	}

	if g.store.Has(contentID) {
		metrics.CacheHits.Inc()
		return g.readFirstPage(contentID)
	}
	metrics.CacheMisses.Inc()

	_, err, _ := g.sf.Do("decompress:"+contentID, func() (interface{}, error) {
		// Re-check under singleflight: a concurrent caller may have
		// published the entry while this one waited.
		if g.store.Has(contentID) {
			return nil, nil
		}
		return nil, g.extract(ctx, kind, filePath, contentID)
	})
	if err != nil {
		logging.Error().Err(err).Str("content_id", contentID).Str("kind", string(kind)).Msg("decompression failed")
		return errResult("Error extracting comic/manga book.")
	}

	return g.readFirstPage(contentID)
}

// extract produces and publishes the page set for one archive. The
// temporary workspace is removed on every exit path.
func (g *Gateway) extract(ctx context.Context, kind Kind, filePath, contentID string) error {
	source := filePath
	if kind != KindComicManga {
		extractor, ok := extractorFor(kind)
		if !ok {
			return fmt.Errorf("unsupported archive kind %q", kind)
		}

		workspace := filepath.Join(g.workDir, "extracted-"+uuid.NewString())
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return fmt.Errorf("create extraction workspace: %w", err)
		}
		defer func() {
			if err := os.RemoveAll(workspace); err != nil {
				logging.Warn().Err(err).Str("workspace", workspace).Msg("failed to remove extraction workspace")
			}
		}()

		if err := extractor(ctx, filePath, workspace); err != nil {
			return fmt.Errorf("extract archive: %w", err)
		}
		source = workspace
	}

	images, err := collectImages(source)
	if err != nil {
		return fmt.Errorf("collect images: %w", err)
	}
	if len(images) == 0 {
		return errors.New("archive produced no images")
	}

	if err := g.store.Write(contentID, images); err != nil {
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

func (g *Gateway) readFirstPage(contentID string) Result {
	page, err := g.store.Read(contentID, 0)
	if err != nil {
		logging.Error().Err(err).Str("content_id", contentID).Msg("reading first cache page failed")
		return errResult("Error extracting comic/manga book.")
	}
	return okPages(page)
}

// MorePages serves one already-cached page without recomputation.
func (g *Gateway) MorePages(contentID string, index int) Result {
	if contentID == "" {
		return errResult("The Comic/Manga ID has not been provided.")
	}
	if index < 0 {
		return errResult("The Comic/Manga cache index has not been provided.")
	}

	page, err := g.store.Read(contentID, index)
	switch {
	case errors.Is(err, cache.ErrNotComputed):
		return errResult("The Comic/Manga has not been decompressed yet.")
	case errors.Is(err, cache.ErrPageNotFound):
		return errResult("Error getting more pages.")
	case err != nil:
		logging.Error().Err(err).Str("content_id", contentID).Int("index", index).Msg("reading cache page failed")
		return errResult("Error getting more pages.")
	}

	return okPages(page)
}

// ConvertToPDF converts a document to PDF, caching the artifact per
// content id. The returned PdfPath is the public URL path under /cache.
func (g *Gateway) ConvertToPDF(ctx context.Context, filePath, contentID string) Result {
	if filePath == "" {
		return errResult("The path to the file has not been provided.")
	}
	if contentID == "" {
		return errResult("The file ID has not been provided.")
	}

	converter, ok := pdfConverterFor(filePath)
	if !ok {
		return errResult("An error has occurred. Invalid file extension kind.")
	}

	if _, err := os.Stat(filePath); err != nil {
		return errResult(fmt.Sprintf("The file does not exist: %q", filePath))
	}

	publicPath := path.Join("/cache", contentID, contentID+".pdf")
	if g.store.HasArtifact(contentID, ".pdf") {
		return okPdf(publicPath)
	}

	_, err, _ := g.sf.Do("pdf:"+contentID, func() (interface{}, error) {
		if g.store.HasArtifact(contentID, ".pdf") {
			return nil, nil
		}

		if err := g.store.EnsureArtifactDir(contentID); err != nil {
			return nil, err
		}

		dest := g.store.ArtifactPath(contentID, ".pdf")
		if err := converter(ctx, filePath, dest); err != nil {
			_ = os.Remove(dest)
			return nil, err
		}

		if !g.store.HasArtifact(contentID, ".pdf") {
			_ = os.Remove(dest)
			return nil, errors.New("conversion produced no output")
		}
		return nil, nil
	})
	if err != nil {
		logging.Error().Err(err).Str("content_id", contentID).Str("file", filePath).Msg("pdf conversion failed")
		return errResult("An error has occurred converting to pdf.")
	}

	return okPdf(publicPath)
}
