// Package audit keeps a bounded in-memory log of operator actions.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

const defaultCapacity = 1000

// Log records operator actions. Once full, the oldest entries are dropped.
type Log struct {
	mu       sync.RWMutex
	entries  []models.AuditEntry
	capacity int
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates an audit log holding up to capacity entries.
func New(capacity int, logger zerolog.Logger) *Log {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	return &Log{
		entries:  make([]models.AuditEntry, 0, 64),
		capacity: capacity,
		logger:   logger.With().Str("component", "audit").Logger(),
		now:      time.Now,
	}
}

// Record stamps and stores entry.
func (a *Log) Record(entry models.AuditEntry) models.AuditEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Timestamp = a.now().UTC()

	a.mu.Lock()
	if len(a.entries) >= a.capacity {
		copy(a.entries, a.entries[1:])
		a.entries = a.entries[:len(a.entries)-1]
	}
	a.entries = append(a.entries, entry)
	a.mu.Unlock()

	a.logger.Info().
		Str("user_id", entry.UserID).
		Str("space_id", entry.SpaceID).
		Str("action", entry.Action).
		Str("resource", entry.Resource).
		Str("result", entry.Result).
		Msg("audit event")
	return entry
}

// Entries returns up to limit entries, newest first, optionally filtered by
// user. A limit below one returns everything that matches.
func (a *Log) Entries(userID string, limit int) []models.AuditEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]models.AuditEntry, 0)
	for i := len(a.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if userID == "" || a.entries[i].UserID == userID {
			result = append(result, a.entries[i])
		}
	}
	return result
}

// Count returns the number of retained entries.
func (a *Log) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
