// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package books

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	tree        *Directory
	treeErr     error
	files       []File
	total       int
	updateOK    bool
	updateErr   error
	lastHash    string
	lastText    string
	lastUpdated *File
}

func (s *stubStore) ScanRoot(context.Context) (*Directory, error) {
	return s.tree, s.treeErr
}

func (s *stubStore) FindAllByHash(_ context.Context, parentHash string, _, _ int) ([]File, error) {
	s.lastHash = parentHash
	return s.files, nil
}

func (s *stubStore) CountByHash(context.Context, string) (int, error) {
	return s.total, nil
}

func (s *stubStore) FindAllByText(_ context.Context, searchText string, _, _ int) ([]File, error) {
	s.lastText = searchText
	return s.files, nil
}

func (s *stubStore) CountByText(context.Context, string) (int, error) {
	return s.total, nil
}

func (s *stubStore) Update(_ context.Context, f *File) (bool, error) {
	s.lastUpdated = f
	return s.updateOK, s.updateErr
}

func testTree() *Directory {
	return &Directory{
		Name: "library",
		Hash: "root-hash",
		Directories: []Directory{
			{Name: "comics", Hash: "comics-hash", Directories: []Directory{}},
		},
	}
}

func TestListDefaultsToScanRootHash(t *testing.T) {
	repo := &stubStore{
		tree:  testTree(),
		files: []File{{ID: 1, Name: "dune.epub", FileKind: FileKindEpub}},
		total: 42,
	}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	res, err := svc.List(context.Background(), "", 0, 50, false)
	require.NoError(t, err)
	assert.Equal(t, "root-hash", repo.lastHash)
	assert.Equal(t, "library", res.Directories.Name)
	assert.Len(t, res.Files, 1)
	assert.Equal(t, 42, res.Total)
}

func TestListExplicitHash(t *testing.T) {
	repo := &stubStore{tree: testTree(), files: []File{}, total: 0}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	_, err := svc.List(context.Background(), "comics-hash", 10, 20, false)
	require.NoError(t, err)
	assert.Equal(t, "comics-hash", repo.lastHash)
}

func TestListCleanUpSkipsFiles(t *testing.T) {
	repo := &stubStore{
		tree:  testTree(),
		files: []File{{ID: 1, Name: "should-not-appear"}},
		total: 99,
	}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	res, err := svc.List(context.Background(), "", 0, 50, true)
	require.NoError(t, err)
	assert.Empty(t, res.Files)
	assert.Zero(t, res.Total)
	assert.Empty(t, repo.lastHash)
}

func TestListNoScanRoot(t *testing.T) {
	repo := &stubStore{treeErr: ErrNoScanRoot}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	_, err := svc.List(context.Background(), "", 0, 50, false)
	assert.ErrorIs(t, err, ErrNoScanRoot)
}

func TestSearchByText(t *testing.T) {
	repo := &stubStore{
		tree:  testTree(),
		files: []File{{ID: 7, Name: "dune.epub"}},
		total: 1,
	}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	res, err := svc.SearchByText(context.Background(), "dune", 0, 25)
	require.NoError(t, err)
	assert.Equal(t, "dune", repo.lastText)
	assert.Equal(t, 1, res.Total)
}

func TestUpdatePromotesCover(t *testing.T) {
	tempDir := t.TempDir()
	coversDir := filepath.Join(t.TempDir(), "covers")
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "12345.jpg"), []byte("jpeg"), 0o644))

	repo := &stubStore{tree: testTree(), updateOK: true}
	svc := NewService(repo, tempDir, coversDir)

	file := &File{
		ID:         3,
		Name:       "dune.epub",
		WebDetails: json.RawMessage(`{"title":"Dune","cover_i":12345}`),
	}

	ok, err := svc.Update(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, ok)

	promoted, err := os.ReadFile(filepath.Join(coversDir, "12345.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), promoted)
}

func TestUpdateMissingCoverStillSucceeds(t *testing.T) {
	repo := &stubStore{tree: testTree(), updateOK: true}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	file := &File{ID: 3, Name: "dune.epub", WebDetails: json.RawMessage(`{"cover_i":999}`)}
	ok, err := svc.Update(context.Background(), file)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpdateUnknownFile(t *testing.T) {
	repo := &stubStore{updateOK: false}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	ok, err := svc.Update(context.Background(), &File{ID: 404})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateRepositoryError(t *testing.T) {
	repo := &stubStore{updateErr: errors.New("connection lost")}
	svc := NewService(repo, t.TempDir(), t.TempDir())

	_, err := svc.Update(context.Background(), &File{ID: 1})
	assert.Error(t, err)
}

func TestWebCoverID(t *testing.T) {
	tests := []struct {
		name    string
		details string
		want    string
	}{
		{"number", `{"cover_i":12345}`, "12345"},
		{"string", `{"cover_i":"12345"}`, "12345"},
		{"null", `{"cover_i":null}`, ""},
		{"absent", `{"title":"Dune"}`, ""},
		{"invalid json", `{"cover_i":`, ""},
		{"empty", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{WebDetails: json.RawMessage(tt.details)}
			assert.Equal(t, tt.want, webCoverID(f))
		})
	}
}
