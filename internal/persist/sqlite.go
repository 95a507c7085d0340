package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
)

// SQLiteBackend stores documents as rows of a single key-value table.
type SQLiteBackend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteBackend opens (or creates) the database and runs migrations.
func NewSQLiteBackend(dbPath string, logger zerolog.Logger) (*SQLiteBackend, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite backend requires a database path: %w", perrors.ErrInvalidInput)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite prefers a single writer; this also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	b := &SQLiteBackend{
		db:     db,
		logger: logger.With().Str("component", "persist.sqlite").Logger(),
	}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	b.logger.Info().Str("path", dbPath).Msg("sqlite document store initialized")
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		key        TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Load returns the document stored under key.
func (b *SQLiteBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	var body string
	err := b.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", key, perrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", key, err)
	}
	return []byte(body), nil
}

// Save upserts the document stored under key.
func (b *SQLiteBackend) Save(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO documents(key, body, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		key, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", key, err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
