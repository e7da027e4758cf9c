// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package openlibrary looks up book metadata on the OpenLibrary search
// API and stages cover images locally for the UI to preview.
//
// OpenLibrary is a shared public service, so the client is deliberately
// polite: outbound calls pass a rate limiter, and a circuit breaker stops
// hammering the API when it is failing.
package openlibrary

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Rigo85/libretorio/internal/config"
	"github.com/Rigo85/libretorio/internal/logging"
)

const searchLimit = 10

// Doc is one raw search result document, passed through to the UI
// unmodified.
type Doc = json.RawMessage

// Searcher is the metadata lookup surface the command dispatcher consumes.
type Searcher interface {
	Search(ctx context.Context, title, author string) ([]Doc, error)
}

// Client queries OpenLibrary and downloads cover images into the
// temp_covers staging directory.
type Client struct {
	httpClient *http.Client
	searchURL  string
	coversURL  string
	tempDir    string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]Doc]
}

// NewClient builds a client from configuration. tempDir is the
// temp_covers staging directory under the public root.
func NewClient(cfg *config.OpenLibraryConfig, tempDir string) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		searchURL:  cfg.SearchURL,
		coversURL:  cfg.CoversURL,
		tempDir:    tempDir,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]Doc](gobreaker.Settings{
		Name:    "openlibrary",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return c
}

// Search queries search.json by title and/or author, limited to 10
// documents, and stages every result's cover image under tempDir. The
// staging directory is cleared first so it only ever holds covers of the
// latest search.
func (c *Client) Search(ctx context.Context, title, author string) ([]Doc, error) {
	return c.breaker.Execute(func() ([]Doc, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		docs, err := c.search(ctx, title, author)
		if err != nil {
			return nil, err
		}

		if err := clearDirectory(c.tempDir); err != nil {
			logging.Warn().Err(err).Str("dir", c.tempDir).Msg("failed to clear cover staging directory")
		}

		for _, doc := range docs {
			if coverID := docCoverID(doc); coverID != "" {
				if err := c.downloadCover(ctx, coverID); err != nil {
					logging.Warn().Err(err).Str("cover_id", coverID).Msg("cover download failed")
				}
			}
		}

		return docs, nil
	})
}

func (c *Client) search(ctx context.Context, title, author string) ([]Doc, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(searchLimit))
	if strings.TrimSpace(title) != "" {
		params.Set("title", title)
	}
	if strings.TrimSpace(author) != "" {
		params.Set("author", author)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openlibrary search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openlibrary search: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Docs []Doc `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("openlibrary search: decode response: %w", err)
	}
	if payload.Docs == nil {
		payload.Docs = []Doc{}
	}
	return payload.Docs, nil
}

// downloadCover fetches the large cover image for one document into the
// staging directory as <coverID>.jpg.
func (c *Client) downloadCover(ctx context.Context, coverID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	coverURL := fmt.Sprintf("%s/b/id/%s-L.jpg", strings.TrimSuffix(c.coversURL, "/"), coverID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cover download: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return err
	}

	dest := filepath.Join(c.tempDir, coverID+".jpg")
	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}

// docCoverID extracts cover_i from a raw search document.
func docCoverID(doc Doc) string {
	var fields struct {
		CoverI json.RawMessage `json:"cover_i"`
	}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return ""
	}

	id := strings.Trim(strings.TrimSpace(string(fields.CoverI)), `"`)
	if id == "" || id == "null" {
		return ""
	}
	return id
}

// clearDirectory removes every entry inside dir, keeping dir itself.
func clearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
