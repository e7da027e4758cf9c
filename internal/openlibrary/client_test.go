// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package openlibrary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rigo85/libretorio/internal/config"
)

func testConfig(searchURL, coversURL string) *config.OpenLibraryConfig {
	return &config.OpenLibraryConfig{
		SearchURL:         searchURL,
		CoversURL:         coversURL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 100,
		Burst:             100,
	}
}

func TestSearchStagesCovers(t *testing.T) {
	covers := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/b/id/12345-L.jpg", r.URL.Path)
		_, _ = w.Write([]byte("jpeg bytes"))
	}))
	defer covers.Close()

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "dune", r.URL.Query().Get("title"))
		assert.Equal(t, "herbert", r.URL.Query().Get("author"))
		_, _ = w.Write([]byte(`{"docs":[
			{"title":"Dune","cover_i":12345},
			{"title":"Dune Messiah"}
		]}`))
	}))
	defer search.Close()

	tempDir := t.TempDir()
	// A stale cover from a previous search must disappear.
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "999.jpg"), []byte("stale"), 0o644))

	c := NewClient(testConfig(search.URL, covers.URL), tempDir)

	docs, err := c.Search(context.Background(), "dune", "herbert")
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	staged, err := os.ReadFile(filepath.Join(tempDir, "12345.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), staged)

	_, err = os.Stat(filepath.Join(tempDir, "999.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestSearchOmitsBlankParams(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("title"))
		assert.Equal(t, "herbert", r.URL.Query().Get("author"))
		_, _ = w.Write([]byte(`{"docs":[]}`))
	}))
	defer search.Close()

	c := NewClient(testConfig(search.URL, "http://127.0.0.1:0"), t.TempDir())

	docs, err := c.Search(context.Background(), "   ", "herbert")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearchCoverFailureDoesNotFailSearch(t *testing.T) {
	covers := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer covers.Close()

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"docs":[{"title":"Dune","cover_i":12345}]}`))
	}))
	defer search.Close()

	c := NewClient(testConfig(search.URL, covers.URL), t.TempDir())

	docs, err := c.Search(context.Background(), "dune", "")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSearchBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer search.Close()

	c := NewClient(testConfig(search.URL, "http://127.0.0.1:0"), t.TempDir())

	for i := 0; i < 3; i++ {
		_, err := c.Search(context.Background(), "dune", "")
		require.Error(t, err)
	}

	// The breaker is now open: the request fails without reaching the API.
	search.Close()
	_, err := c.Search(context.Background(), "dune", "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "circuit breaker is open")
}

func TestDocCoverID(t *testing.T) {
	assert.Equal(t, "12345", docCoverID(Doc(`{"cover_i":12345}`)))
	assert.Equal(t, "12345", docCoverID(Doc(`{"cover_i":"12345"}`)))
	assert.Empty(t, docCoverID(Doc(`{"cover_i":null}`)))
	assert.Empty(t, docCoverID(Doc(`{"title":"Dune"}`)))
	assert.Empty(t, docCoverID(Doc(`not json`)))
}
