package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/p-blackswan/inactivity-agent/internal/persist"
)

const reloadDebounce = 250 * time.Millisecond

// Reload re-reads the persisted document and, when it differs from the
// policy in effect, makes it current. Unlike Load it never rewrites the
// document: an unreadable external edit is logged and ignored.
func (s *Store) Reload(ctx context.Context) bool {
	data, err := s.backend.Load(ctx, persist.KeyPolicy)
	if err != nil {
		s.logger.Warn().Err(err).Msg("policy reload skipped")
		return false
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Msg("policy reload skipped, document is not valid JSON")
		return false
	}
	merged, _ := doc.mergeInto(s.defaults)
	p := normalize(merged, s.defaults, s.limits)

	s.mu.Lock()
	if equal(p, s.current) {
		s.mu.Unlock()
		return false
	}
	s.current = p
	s.mu.Unlock()

	s.logger.Info().Msg("policy reloaded from disk")
	s.notify(p.Clone())
	return true
}

// Watch reloads the policy whenever the file at path changes. It blocks
// until ctx is done. The parent directory is watched so editors that
// replace the file by rename are handled.
func (s *Store) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	name := filepath.Clean(path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() { s.Reload(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	s.logger.Info().Str("path", path).Msg("watching policy document")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("policy watcher error")
		}
	}
}
