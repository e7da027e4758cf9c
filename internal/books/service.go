// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package books

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Rigo85/libretorio/internal/logging"
)

// Catalog is the listing/search/update surface the command dispatcher
// consumes.
type Catalog interface {
	// List returns the directory tree plus one page of files under
	// parentHash (the scan root when parentHash is empty). cleanUp
	// requests the tree only, with no files.
	List(ctx context.Context, parentHash string, offset, limit int, cleanUp bool) (*ScanResult, error)

	// SearchByText returns the tree plus one page of files matching the
	// text across names and detail blobs.
	SearchByText(ctx context.Context, text string, offset, limit int) (*ScanResult, error)

	// Update persists a file's editable details. Returns false when the
	// file no longer exists.
	Update(ctx context.Context, file *File) (bool, error)
}

// store is the repository surface the service builds on.
type store interface {
	ScanRoot(ctx context.Context) (*Directory, error)
	FindAllByHash(ctx context.Context, parentHash string, offset, limit int) ([]File, error)
	CountByHash(ctx context.Context, parentHash string) (int, error)
	FindAllByText(ctx context.Context, searchText string, offset, limit int) ([]File, error)
	CountByText(ctx context.Context, searchText string) (int, error)
	Update(ctx context.Context, f *File) (bool, error)
}

// Service implements Catalog over a repository, adding cover promotion:
// on a successful update the file's OpenLibrary cover moves from the
// temp_covers staging dir to the permanent covers dir.
type Service struct {
	repo      store
	tempDir   string
	coversDir string
}

// NewService creates a catalog service. tempDir and coversDir are the
// temp_covers and covers directories under the public root.
func NewService(repo store, tempDir, coversDir string) *Service {
	return &Service{repo: repo, tempDir: tempDir, coversDir: coversDir}
}

func (s *Service) List(ctx context.Context, parentHash string, offset, limit int, cleanUp bool) (*ScanResult, error) {
	tree, err := s.repo.ScanRoot(ctx)
	if err != nil {
		return nil, err
	}

	if cleanUp {
		return &ScanResult{Directories: *tree, Files: []File{}, Total: 0}, nil
	}

	hash := parentHash
	if hash == "" {
		hash = tree.Hash
	}

	files, err := s.repo.FindAllByHash(ctx, hash, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	return &ScanResult{Directories: *tree, Files: files, Total: total}, nil
}

func (s *Service) SearchByText(ctx context.Context, text string, offset, limit int) (*ScanResult, error) {
	tree, err := s.repo.ScanRoot(ctx)
	if err != nil {
		return nil, err
	}

	files, err := s.repo.FindAllByText(ctx, text, offset, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountByText(ctx, text)
	if err != nil {
		return nil, err
	}

	return &ScanResult{Directories: *tree, Files: files, Total: total}, nil
}

func (s *Service) Update(ctx context.Context, file *File) (bool, error) {
	ok, err := s.repo.Update(ctx, file)
	if err != nil || !ok {
		return ok, err
	}

	// Cover promotion is best-effort: a missing staged cover never fails
	// the update itself.
	if coverID := webCoverID(file); coverID != "" {
		if err := s.promoteCover(coverID); err != nil {
			logging.Warn().Err(err).Str("cover_id", coverID).Int64("file_id", file.ID).
				Msg("cover promotion failed")
		}
	} else {
		logging.Debug().Int64("file_id", file.ID).Msg("update carries no cover id")
	}

	return true, nil
}

func (s *Service) promoteCover(coverID string) error {
	src := filepath.Join(s.tempDir, coverID+".jpg")
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		return fmt.Errorf("staged cover not found: %s", src)
	}

	if err := os.MkdirAll(s.coversDir, 0o755); err != nil {
		return err
	}
	return copyFile(src, filepath.Join(s.coversDir, coverID+".jpg"))
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
