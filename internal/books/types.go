// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

// Package books exposes the library catalog: the directory tree discovered
// under the scan root plus the indexed files inside it.
package books

import (
	"strings"

	"github.com/goccy/go-json"
)

// FileKind classifies a catalog entry for the reader UI.
type FileKind string

const (
	FileKindFile       FileKind = "FILE"
	FileKindComicManga FileKind = "COMIC-MANGA"
	FileKindEpub       FileKind = "EPUB"
	FileKindNone       FileKind = "NONE"
)

// File is one indexed library entry. The detail columns hold opaque JSON
// blobs owned by the UI; the catalog never interprets them beyond cover
// promotion.
type File struct {
	ID            int64           `json:"id,omitempty"`
	Name          string          `json:"name"`
	ParentPath    string          `json:"parentPath"`
	ParentHash    string          `json:"parentHash"`
	Size          string          `json:"size"`
	CoverID       string          `json:"coverId"`
	LocalDetails  json.RawMessage `json:"localDetails,omitempty"`
	WebDetails    json.RawMessage `json:"webDetails,omitempty"`
	CustomDetails bool            `json:"customDetails"`
	FileKind      FileKind        `json:"fileKind"`
}

// Directory is one node of the scanned directory tree. The whole tree is
// persisted as a single JSON document on the scan root row.
type Directory struct {
	Name        string      `json:"name"`
	Hash        string      `json:"hash"`
	Directories []Directory `json:"directories"`
}

// ScanResult is the payload answering a listing or search request: the
// full directory tree, one page of files and the total match count.
type ScanResult struct {
	Directories Directory `json:"directories"`
	Files       []File    `json:"files"`
	Total       int       `json:"total"`
}

// webCoverID extracts the OpenLibrary cover id from a file's web details
// blob. The id may arrive as a number or a string. Returns "" when the
// blob is absent or carries no cover.
func webCoverID(f *File) string {
	if len(f.WebDetails) == 0 {
		return ""
	}

	var details struct {
		CoverI json.RawMessage `json:"cover_i"`
	}
	if err := json.Unmarshal(f.WebDetails, &details); err != nil {
		return ""
	}

	id := strings.Trim(strings.TrimSpace(string(details.CoverI)), `"`)
	if id == "null" {
		return ""
	}
	return id
}
