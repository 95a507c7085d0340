package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
)

// FileBackend keeps each document in <dir>/<key>.json.
// Writes go to a temp file that is renamed over the target, so a crash
// mid-write leaves the previous document intact.
type FileBackend struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string, logger zerolog.Logger) (*FileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("file backend requires a data directory: %w", perrors.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &FileBackend{
		dir:    dir,
		logger: logger.With().Str("component", "persist.file").Logger(),
	}, nil
}

// Path returns the file that holds key.
func (b *FileBackend) Path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

// Dir returns the data directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Load reads the document for key.
func (b *FileBackend) Load(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("document %s: %w", key, perrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", key, err)
	}
	return data, nil
}

// Save atomically replaces the document for key.
func (b *FileBackend) Save(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.Path(key)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("writing document %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("syncing document %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing document %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing document %s: %w", key, err)
	}

	b.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("document saved")
	return nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error { return nil }
