package activity

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// PolicySource returns the policy currently in effect.
type PolicySource interface {
	Current() models.Policy
}

// Event is one qualifying member action from the chat event feed.
type Event struct {
	MemberID  string
	SpaceID   string
	Kind      models.ActivityKind
	Automated bool
	At        time.Time
}

// Tracker gates feed events before they reach the store: automated
// accounts and disabled kinds are dropped.
type Tracker struct {
	store    *Store
	policies PolicySource
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTracker creates a tracker writing to store.
func NewTracker(store *Store, policies PolicySource, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:    store,
		policies: policies,
		recorder: nopRecorder{},
		logger:   logger.With().Str("component", "activity.tracker").Logger(),
		now:      time.Now,
	}
}

// SetRecorder wires a metrics recorder.
func (t *Tracker) SetRecorder(r Recorder) {
	if r != nil {
		t.recorder = r
	}
}

// Observe records ev when it qualifies and reports whether it did.
func (t *Tracker) Observe(ctx context.Context, ev Event) bool {
	if ev.Automated {
		return false
	}
	if !t.policies.Current().Monitoring.Enabled(ev.Kind) {
		return false
	}
	at := ev.At
	if at.IsZero() {
		at = t.now()
	}
	if err := t.store.Record(ctx, ev.MemberID, ev.SpaceID, ev.Kind, at); err != nil {
		t.logger.Debug().Err(err).Str("kind", string(ev.Kind)).Msg("event dropped")
		return false
	}
	t.recorder.RecordActivity(string(ev.Kind))
	return true
}
