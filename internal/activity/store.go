// Package activity tracks the most recent qualifying action of each member
// per workspace.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/persist"
)

// Recorder receives store and tracker counters. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordActivity(kind string)
	RecordPersistError(store string)
}

type nopRecorder struct{}

func (nopRecorder) RecordActivity(string)     {}
func (nopRecorder) RecordPersistError(string) {}

// Store is the in-memory activity table backed by a persisted JSON document
// shaped memberID -> spaceID -> record.
type Store struct {
	backend  persist.Backend
	logger   zerolog.Logger
	recorder Recorder

	mu      sync.Mutex
	records map[string]map[string]models.ActivityRecord
}

// NewStore creates an empty store. Call Load to read the persisted document.
func NewStore(backend persist.Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend:  backend,
		logger:   logger.With().Str("component", "activity").Logger(),
		recorder: nopRecorder{},
		records:  make(map[string]map[string]models.ActivityRecord),
	}
}

// SetRecorder wires a metrics recorder.
func (s *Store) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// Load replaces the in-memory table with the persisted document.
// A missing or unreadable document leaves the store empty.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]map[string]models.ActivityRecord)

	data, err := s.backend.Load(ctx, persist.KeyActivity)
	if errors.Is(err, perrors.ErrNotFound) {
		s.logger.Info().Msg("no activity document, starting empty")
		return
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read activity document, starting empty")
		return
	}

	records, err := decodeDocument(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("activity document is corrupt, starting empty")
		return
	}
	s.records = records
	s.logger.Info().Int("members", len(records)).Msg("activity loaded")
}

// Record upserts the activity of memberID in spaceID and persists the table.
// A timestamp older than the stored one leaves the record as is.
// Persistence failures are logged, never returned.
func (s *Store) Record(ctx context.Context, memberID, spaceID string, kind models.ActivityKind, at time.Time) error {
	if memberID == "" || spaceID == "" {
		return fmt.Errorf("record activity: member and space are required: %w", perrors.ErrInvalidInput)
	}
	if !models.IsKnownKind(kind) {
		return fmt.Errorf("record activity: kind %q: %w", kind, perrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.ActivityRecord{LastActivityAt: at.UTC(), Kind: kind}
	bySpace, ok := s.records[memberID]
	if !ok {
		bySpace = make(map[string]models.ActivityRecord)
		s.records[memberID] = bySpace
	}
	if prev, ok := bySpace[spaceID]; ok {
		if prev.LastActivityAt.After(next.LastActivityAt) {
			return nil
		}
		if prev.LastActivityAt.Equal(next.LastActivityAt) && prev.Kind == next.Kind {
			return nil
		}
	}
	bySpace[spaceID] = next

	s.persistLocked(ctx)
	return nil
}

// Get returns the record for the pair, if any.
func (s *Store) Get(memberID, spaceID string) (models.ActivityRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memberID][spaceID]
	return rec, ok
}

// ResetAll clears every record and persists the empty table.
func (s *Store) ResetAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]map[string]models.ActivityRecord)
	s.persistLocked(ctx)
	s.logger.Warn().Msg("activity store reset")
}

// Snapshot returns a deep copy for evaluation.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]map[string]models.ActivityRecord, len(s.records))
	for member, bySpace := range s.records {
		cp := make(map[string]models.ActivityRecord, len(bySpace))
		for space, rec := range bySpace {
			cp[space] = rec
		}
		out[member] = cp
	}
	return Snapshot{records: out}
}

// Len returns the number of (member, space) records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, bySpace := range s.records {
		n += len(bySpace)
	}
	return n
}

// Members returns the number of members with at least one record.
func (s *Store) Members() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) persistLocked(ctx context.Context) {
	data, err := json.Marshal(s.records)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode activity document")
		s.recorder.RecordPersistError(persist.KeyActivity)
		return
	}
	if err := s.backend.Save(ctx, persist.KeyActivity, data); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist activity, keeping in-memory state")
		s.recorder.RecordPersistError(persist.KeyActivity)
	}
}

// Snapshot is a read-only copy of the activity table.
type Snapshot struct {
	records map[string]map[string]models.ActivityRecord
}

// NewSnapshot builds a snapshot from a plain map, mostly for tests and tools.
func NewSnapshot(records map[string]map[string]models.ActivityRecord) Snapshot {
	return Snapshot{records: records}
}

// Lookup returns the record for the pair, if any.
func (s Snapshot) Lookup(memberID, spaceID string) (models.ActivityRecord, bool) {
	rec, ok := s.records[memberID][spaceID]
	return rec, ok
}

// Len returns the number of (member, space) records.
func (s Snapshot) Len() int {
	n := 0
	for _, bySpace := range s.records {
		n += len(bySpace)
	}
	return n
}

// Each calls fn for every record.
func (s Snapshot) Each(fn func(memberID, spaceID string, rec models.ActivityRecord)) {
	for member, bySpace := range s.records {
		for space, rec := range bySpace {
			fn(member, space, rec)
		}
	}
}
