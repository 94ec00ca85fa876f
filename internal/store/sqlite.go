// Package store provides storage backends for MailPipe.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is used when creating the database directory.
const DefaultDirPermissions = 0o755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists agent data in a single SQLite file.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens the SQLite file named by the DSN, creating its
// directory when needed, and applies the schema.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	if path := sqlitePath(cfg.DSN); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// A single writer avoids SQLITE_BUSY under concurrent turns.
	db, err := openAndMigrate("sqlite3", cfg.DSN, sqliteMigrations, func(db *sql.DB) { db.SetMaxOpenConns(1) })
	if err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore: opened", "path", sqlitePath(cfg.DSN))
	return &SQLiteStore{sqlStore{db: db, name: "SQLiteStore"}}, nil
}

// sqlitePath strips the file: scheme and query of a DSN. In-memory
// databases have no path.
func sqlitePath(dsn string) string {
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
