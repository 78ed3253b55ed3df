package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"beliefcoach.app/cloud/internal/logger"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db      *sql.DB
	path    string
	baseURL string
}

func NewSQLiteStore(path, baseURL string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:      db,
		path:    path,
		baseURL: strings.TrimRight(baseURL, "/"),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	logger.Debug("SQLite blob store migrated", map[string]interface{}{
		"path": s.path,
	})
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}

	query := `INSERT INTO blobs (path, content_type, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content_type = excluded.content_type, data = excluded.data, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, path, contentType, data, time.Now().UTC().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to put blob %s: %w", path, err)
	}

	return fileURL(s.baseURL, path), nil
}

func (s *SQLiteStore) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", path, err)
	}
	return data, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Object, error) {
	query := `SELECT path, content_type, length(data), updated_at FROM blobs WHERE substr(path, 1, ?) = ? ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Failed to close rows", map[string]interface{}{"error": err.Error()})
		}
	}()

	var objects []Object
	for rows.Next() {
		var (
			obj       Object
			updatedAt int64
		)
		if err := rows.Scan(&obj.Path, &obj.ContentType, &obj.Size, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		obj.UpdatedAt = time.Unix(0, updatedAt).UTC()
		obj.URL = fileURL(s.baseURL, obj.Path)
		objects = append(objects, obj)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}

	return objects, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
