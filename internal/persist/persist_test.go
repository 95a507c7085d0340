package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
)

func backends(t *testing.T) map[string]Backend {
	dir := t.TempDir()
	fb, err := NewFileBackend(filepath.Join(dir, "files"), zerolog.Nop())
	require.NoError(t, err)
	sb, err := NewSQLiteBackend(filepath.Join(dir, "db", "agent.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })
	return map[string]Backend{"file": fb, "sqlite": sb}
}

func TestBackend_LoadMissing(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Load(context.Background(), KeyPolicy)
			assert.ErrorIs(t, err, perrors.ErrNotFound)
		})
	}
}

func TestBackend_SaveAndReplace(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Save(ctx, KeyActivity, []byte(`{"a":1}`)))
			require.NoError(t, b.Save(ctx, KeyActivity, []byte(`{"a":2}`)))

			data, err := b.Load(ctx, KeyActivity)
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(data))

			_, err = b.Load(ctx, KeyPolicy)
			assert.ErrorIs(t, err, perrors.ErrNotFound)
		})
	}
}

func TestBackend_RejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", "../escape", "a/b"} {
				assert.ErrorIs(t, b.Save(ctx, key, []byte("{}")), perrors.ErrInvalidInput, key)
			}
		})
	}
}

func TestFileBackend_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, b.Save(context.Background(), KeyPolicy, []byte(`{}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "policy.json", entries[0].Name())
	assert.Equal(t, filepath.Join(dir, "policy.json"), b.Path(KeyPolicy))
}

func TestSQLiteBackend_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Save(ctx, KeyPolicy, []byte(`{"v":1}`)))
	require.NoError(t, b.Close())

	b, err = NewSQLiteBackend(path, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	data, err := b.Load(ctx, KeyPolicy)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(data))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Config{Driver: "file", Dir: dir}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	b, err = Open(Config{Driver: "SQLite", SQLitePath: filepath.Join(dir, "x.db")}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteBackend{}, b)
	b.Close()

	_, err = Open(Config{Driver: "redis"}, zerolog.Nop())
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}
