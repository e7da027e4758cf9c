// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package cache implements the content-addressed, paginated disk cache for
// large extraction results.
//
// One directory per content id holds the entry's pages as
// <id>/<id>_<index>.cache files. Pages are numbered contiguously from 0 and
// bounded by a byte-size threshold. Presence of page 0 is the single
// authoritative "entry is fully cached" marker: Write produces page 0 last,
// so a crashed or concurrent writer never leaves a set that Has() reports
// complete but Read() finds inconsistent.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

var (
	// ErrNotComputed means no complete entry exists for the content id
	// (page 0 is absent); the caller must (re)run the producing job.
	ErrNotComputed = errors.New("cache entry not computed")

	// ErrPageNotFound means the entry exists but the requested page index
	// is out of range.
	ErrPageNotFound = errors.New("cache page not found")

	// ErrInvalidContentID rejects ids that would escape the cache root.
	ErrInvalidContentID = errors.New("invalid content id")
)

// Page is one on-disk unit of a paginated cache entry. Field names mirror
// the wire payload served to clients.
type Page struct {
	// Pages holds the page's items (opaque payloads, typically data-URI
	// encoded images).
	Pages []json.RawMessage `json:"pages"`

	// PageIndex is the 1-based ordinal of the first item in this page
	// within the whole entry.
	PageIndex int `json:"pageIndex"`

	// CurrentPagesLength is the number of items in this page.
	CurrentPagesLength int `json:"currentPagesLength"`

	// TotalPages is the total item count across the entry; identical on
	// every page of the same entry.
	TotalPages int `json:"totalPages"`

	// Index is this page's 0-based file index.
	Index int `json:"index"`
}

// Store is a paginated disk cache rooted at a single directory.
type Store struct {
	root      string
	threshold int
}

// NewStore creates a page store. threshold is the per-page byte bound; a
// page only exceeds it when a single item alone does.
func NewStore(root string, threshold int) *Store {
	return &Store{root: root, threshold: threshold}
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory holding all files for a content id.
func (s *Store) Dir(contentID string) string {
	return filepath.Join(s.root, contentID)
}

func (s *Store) pagePath(contentID string, index int) string {
	return filepath.Join(s.root, contentID, fmt.Sprintf("%s_%d.cache", contentID, index))
}

// Has reports whether a complete entry exists for the content id. Page 0
// is the sole completeness marker.
func (s *Store) Has(contentID string) bool {
	if err := validateContentID(contentID); err != nil {
		return false
	}
	info, err := os.Stat(s.pagePath(contentID, 0))
	return err == nil && info.Mode().IsRegular()
}

// Write partitions items into size-bounded pages and persists them as one
// group. The full partition is computed before anything is written, and
// page 0 is written last, so Has never observes a partial entry. A failed
// write removes whatever it managed to put on disk.
func (s *Store) Write(contentID string, items []json.RawMessage) error {
	if err := validateContentID(contentID); err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("refusing to cache an empty item set")
	}

	pages := paginate(items, s.threshold)

	dir := s.Dir(contentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Highest index first, page 0 last.
	for i := len(pages) - 1; i >= 0; i-- {
		if err := s.writePage(contentID, &pages[i]); err != nil {
			_ = s.Remove(contentID)
			return err
		}
	}

	return nil
}

// writePage persists a single page atomically (temp file + rename).
func (s *Store) writePage(contentID string, page *Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal cache page %d: %w", page.Index, err)
	}

	final := s.pagePath(contentID, page.Index)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache page %d: %w", page.Index, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish cache page %d: %w", page.Index, err)
	}

	return nil
}

// Read returns one page of a cached entry. It distinguishes an entry that
// was never computed (ErrNotComputed) from a bad page index on an existing
// entry (ErrPageNotFound).
func (s *Store) Read(contentID string, index int) (*Page, error) {
	if err := validateContentID(contentID); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, ErrPageNotFound
	}

	data, err := os.ReadFile(s.pagePath(contentID, index))
	if errors.Is(err, os.ErrNotExist) {
		if !s.Has(contentID) {
			return nil, ErrNotComputed
		}
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache page %d: %w", index, err)
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("decode cache page %d: %w", index, err)
	}

	return &page, nil
}

// Remove deletes every cached file for a content id.
func (s *Store) Remove(contentID string) error {
	if err := validateContentID(contentID); err != nil {
		return err
	}
	return os.RemoveAll(s.Dir(contentID))
}

// ArtifactPath returns the path of a single-file artifact (e.g. a converted
// PDF) for a content id. The file lives alongside the entry's pages.
func (s *Store) ArtifactPath(contentID, ext string) string {
	return filepath.Join(s.root, contentID, contentID+ext)
}

// HasArtifact reports whether a non-empty artifact exists for the id.
func (s *Store) HasArtifact(contentID, ext string) bool {
	if err := validateContentID(contentID); err != nil {
		return false
	}
	info, err := os.Stat(s.ArtifactPath(contentID, ext))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// EnsureArtifactDir creates the entry directory for an artifact write.
func (s *Store) EnsureArtifactDir(contentID string) error {
	if err := validateContentID(contentID); err != nil {
		return err
	}
	return os.MkdirAll(s.Dir(contentID), 0o755)
}

// paginate splits items into pages bounded by threshold bytes. An item
// whose encoded size alone exceeds the threshold gets its own page.
func paginate(items []json.RawMessage, threshold int) []Page {
	total := len(items)

	var pages []Page
	var batch []json.RawMessage
	currentSize := 0
	firstOrdinal := 1

	flush := func() {
		if len(batch) == 0 {
			return
		}
		pages = append(pages, Page{
			Pages:              batch,
			PageIndex:          firstOrdinal,
			CurrentPagesLength: len(batch),
			TotalPages:         total,
			Index:              len(pages),
		})
		firstOrdinal += len(batch)
		batch = nil
		currentSize = 0
	}

	for _, item := range items {
		itemSize := len(item)
		if currentSize+itemSize > threshold && len(batch) > 0 {
			flush()
		}
		batch = append(batch, item)
		currentSize += itemSize
	}
	flush()

	return pages
}

// validateContentID rejects ids that are empty or contain path separators,
// which would let a crafted id escape the cache root.
func validateContentID(contentID string) error {
	if contentID == "" ||
		strings.ContainsAny(contentID, `/\`) ||
		contentID == "." || contentID == ".." {
		return ErrInvalidContentID
	}
	return nil
}
