// Package persist stores the agent's JSON documents (policy, activity) in a
// key-value backend. Each Save replaces the whole document.
package persist

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
)

// Well-known document keys.
const (
	KeyPolicy   = "policy"
	KeyActivity = "activity"
)

// Backend loads and saves whole documents by key.
type Backend interface {
	// Load returns the stored document, or an error wrapping
	// errors.ErrNotFound when nothing was saved under key.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the document stored under key.
	Save(ctx context.Context, key string, data []byte) error
	Close() error
}

// Config selects and configures a backend.
//
// Driver values:
//   - "file": one JSON file per key under Dir
//   - "sqlite": a documents table in the SQLite database at SQLitePath
type Config struct {
	Driver     string
	Dir        string
	SQLitePath string
}

// Open initializes the configured backend.
func Open(cfg Config, logger zerolog.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return NewFileBackend(cfg.Dir, logger)
	case "sqlite", "sqlite3":
		return NewSQLiteBackend(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q: %w", cfg.Driver, perrors.ErrInvalidInput)
	}
}

func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return fmt.Errorf("document key %q: %w", key, perrors.ErrInvalidInput)
	}
	return nil
}
