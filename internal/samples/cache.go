// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package samples

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Metadata is the cached analysis of one sample file.
type Metadata struct {
	BPM        float64 `json:"bpm"`
	KeyTonic   string  `json:"key"`
	KeyScale   string  `json:"key_scale"`
	KeyCamelot string  `json:"key_camelot"`
}

// Cache persists sample metadata in SQLite so samples are analyzed once, not
// on every strategy request. Entries are keyed by path and invalidated when
// the file's mtime changes.
type Cache struct {
	db *sql.DB
}

// OpenCache opens (and migrates) the metadata database at path. Pass
// ":memory:" for an ephemeral cache.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sample cache: %w", err)
	}
	// Sample analysis happens from worker goroutines; a single connection
	// avoids SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	const schema = `
CREATE TABLE IF NOT EXISTS sample_metadata (
	path        TEXT    PRIMARY KEY,
	mtime_unix  INTEGER NOT NULL,
	bpm         REAL    NOT NULL,
	key_tonic   TEXT    NOT NULL,
	key_scale   TEXT    NOT NULL,
	key_camelot TEXT    NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sample cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached metadata for path if it is still current.
func (c *Cache) Get(ctx context.Context, path string, mtimeUnix int64) (Metadata, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT bpm, key_tonic, key_scale, key_camelot FROM sample_metadata WHERE path = ? AND mtime_unix = ?`,
		path, mtimeUnix)
	var m Metadata
	err := row.Scan(&m.BPM, &m.KeyTonic, &m.KeyScale, &m.KeyCamelot)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, fmt.Errorf("sample cache get: %w", err)
	}
	return m, true, nil
}

// Put upserts the metadata for path at the given mtime.
func (c *Cache) Put(ctx context.Context, path string, mtimeUnix int64, m Metadata) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sample_metadata (path, mtime_unix, bpm, key_tonic, key_scale, key_camelot)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   mtime_unix = excluded.mtime_unix,
		   bpm = excluded.bpm,
		   key_tonic = excluded.key_tonic,
		   key_scale = excluded.key_scale,
		   key_camelot = excluded.key_camelot`,
		path, mtimeUnix, m.BPM, m.KeyTonic, m.KeyScale, m.KeyCamelot)
	if err != nil {
		return fmt.Errorf("sample cache put: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }
