// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/Rigo85/libretorio/internal/config"
)

// ErrNoScanRoot indicates the catalog has never been populated: there is
// no scan root row to anchor listings on.
var ErrNoScanRoot = errors.New("books: no scan root configured")

// Open opens (creating if needed) the catalog database file.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	// Auto-install/auto-load stays off so startup cannot hang on a
	// network fetch; the catalog needs no extensions.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	return conn, nil
}

const schema = `
CREATE SEQUENCE IF NOT EXISTS files_id_seq;

CREATE TABLE IF NOT EXISTS files (
    id             BIGINT PRIMARY KEY DEFAULT nextval('files_id_seq'),
    name           VARCHAR NOT NULL,
    parent_path    VARCHAR NOT NULL,
    parent_hash    VARCHAR NOT NULL,
    size           VARCHAR NOT NULL,
    cover_id       VARCHAR NOT NULL,
    local_details  VARCHAR,
    web_details    VARCHAR,
    custom_details BOOLEAN NOT NULL DEFAULT false,
    file_kind      VARCHAR NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_parent_hash ON files (parent_hash);

CREATE SEQUENCE IF NOT EXISTS scan_roots_id_seq;

CREATE TABLE IF NOT EXISTS scan_roots (
    id          BIGINT PRIMARY KEY DEFAULT nextval('scan_roots_id_seq'),
    path        VARCHAR NOT NULL,
    directories VARCHAR NOT NULL
);
`

// Repository is the DuckDB-backed store for the catalog tables.
type Repository struct {
	conn *sql.DB
}

// NewRepository wraps an open catalog database and ensures the schema.
func NewRepository(conn *sql.DB) (*Repository, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize catalog schema: %w", err)
	}
	return &Repository{conn: conn}, nil
}

// ScanRoot returns the directory tree of the first scan root.
func (r *Repository) ScanRoot(ctx context.Context) (*Directory, error) {
	var raw string
	err := r.conn.QueryRowContext(ctx,
		`SELECT directories FROM scan_roots ORDER BY id ASC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoScanRoot
	}
	if err != nil {
		return nil, fmt.Errorf("load scan root: %w", err)
	}

	var tree Directory
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return nil, fmt.Errorf("decode scan root tree: %w", err)
	}
	return &tree, nil
}

// SetScanRoot replaces the scan root row with the given tree.
func (r *Repository) SetScanRoot(ctx context.Context, path string, tree *Directory) error {
	raw, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode scan root tree: %w", err)
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_roots`); err != nil {
		return fmt.Errorf("clear scan roots: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_roots (path, directories) VALUES (?, ?)`, path, string(raw)); err != nil {
		return fmt.Errorf("store scan root: %w", err)
	}
	return tx.Commit()
}

// AddFile inserts a catalog entry and returns its id.
func (r *Repository) AddFile(ctx context.Context, f *File) (int64, error) {
	var id int64
	err := r.conn.QueryRowContext(ctx, `
		INSERT INTO files (name, parent_path, parent_hash, size, cover_id,
		                   local_details, web_details, custom_details, file_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		f.Name, f.ParentPath, f.ParentHash, f.Size, f.CoverID,
		nullableJSON(f.LocalDetails), nullableJSON(f.WebDetails),
		f.CustomDetails, string(f.FileKind)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert file %q: %w", f.Name, err)
	}
	return id, nil
}

// FindAllByHash lists one page of files under a directory hash.
func (r *Repository) FindAllByHash(ctx context.Context, parentHash string, offset, limit int) ([]File, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, name, parent_path, parent_hash, size, cover_id,
		       local_details, web_details, custom_details, file_kind
		FROM files
		WHERE parent_hash = ?
		ORDER BY id ASC
		OFFSET ? LIMIT ?`, parentHash, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list files by hash: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

// CountByHash counts all files under a directory hash.
func (r *Repository) CountByHash(ctx context.Context, parentHash string) (int, error) {
	var count int
	err := r.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE parent_hash = ?`, parentHash).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files by hash: %w", err)
	}
	return count, nil
}

// FindAllByText lists one page of files whose name or detail blobs match
// the search text, case-insensitively.
func (r *Repository) FindAllByText(ctx context.Context, searchText string, offset, limit int) ([]File, error) {
	rows, err := r.conn.QueryContext(ctx, `
		SELECT id, name, parent_path, parent_hash, size, cover_id,
		       local_details, web_details, custom_details, file_kind
		FROM files
		WHERE name ILIKE '%' || ? || '%'
		   OR (local_details IS NOT NULL AND local_details ILIKE '%' || ? || '%')
		   OR (web_details IS NOT NULL AND web_details ILIKE '%' || ? || '%')
		ORDER BY id ASC
		OFFSET ? LIMIT ?`, searchText, searchText, searchText, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("search files by text: %w", err)
	}
	defer rows.Close()

	return scanFiles(rows)
}

// CountByText counts all files matching the search text.
func (r *Repository) CountByText(ctx context.Context, searchText string) (int, error) {
	var count int
	err := r.conn.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM files
		WHERE name ILIKE '%' || ? || '%'
		   OR (local_details IS NOT NULL AND local_details ILIKE '%' || ? || '%')
		   OR (web_details IS NOT NULL AND web_details ILIKE '%' || ? || '%')`,
		searchText, searchText, searchText).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count files by text: %w", err)
	}
	return count, nil
}

// Update persists the editable detail columns of a file. Returns false
// when no row carries the file's id.
func (r *Repository) Update(ctx context.Context, f *File) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `
		UPDATE files
		SET web_details = ?, custom_details = ?
		WHERE id = ?`,
		nullableJSON(f.WebDetails), f.CustomDetails, f.ID)
	if err != nil {
		return false, fmt.Errorf("update file %q: %w", f.Name, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanFiles(rows *sql.Rows) ([]File, error) {
	files := []File{}
	for rows.Next() {
		var (
			f          File
			local, web sql.NullString
			kind       string
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentPath, &f.ParentHash,
			&f.Size, &f.CoverID, &local, &web, &f.CustomDetails, &kind); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		if local.Valid {
			f.LocalDetails = json.RawMessage(local.String)
		}
		if web.Valid {
			f.WebDetails = json.RawMessage(web.String)
		}
		f.FileKind = FileKind(kind)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// nullableJSON maps an absent blob to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
