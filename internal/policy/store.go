package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
	"github.com/p-blackswan/inactivity-agent/internal/persist"
)

// ExclusionResult tells the caller what an exclusion mutation did.
type ExclusionResult int

const (
	Added ExclusionResult = iota
	AlreadyExcluded
	Removed
	NotExcluded
)

func (r ExclusionResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyExcluded:
		return "already excluded"
	case Removed:
		return "removed"
	case NotExcluded:
		return "not excluded"
	default:
		return "unknown"
	}
}

// Changed reports whether the mutation modified the policy.
func (r ExclusionResult) Changed() bool {
	return r == Added || r == Removed
}

// Recorder counts persistence failures. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordPersistError(store string)
}

// Store holds the policy in effect and writes it through to the backend
// after every mutation. Write failures are logged; the in-memory policy
// stays in effect.
type Store struct {
	backend  persist.Backend
	defaults models.Policy
	limits   Limits
	logger   zerolog.Logger
	recorder Recorder

	mu      sync.Mutex
	current models.Policy

	subMu     sync.Mutex
	listeners []func(models.Policy)
}

// NewStore creates a store that starts at defaults until Load is called.
func NewStore(backend persist.Backend, defaults models.Policy, limits Limits, logger zerolog.Logger) *Store {
	limits = limits.normalized()
	defaults = normalize(defaults, Defaults(), limits)
	return &Store{
		backend:  backend,
		defaults: defaults,
		limits:   limits,
		logger:   logger.With().Str("component", "policy").Logger(),
		current:  defaults.Clone(),
	}
}

// SetRecorder wires a metrics recorder.
func (s *Store) SetRecorder(r Recorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// Limits returns the effective numeric bounds.
func (s *Store) Limits() Limits { return s.limits }

// Defaults returns a copy of the default policy.
func (s *Store) Defaults() models.Policy { return s.defaults.Clone() }

// Load merges the persisted document over the defaults and makes it
// current. A missing or undecodable document yields the defaults, which are
// written back.
func (s *Store) Load(ctx context.Context) models.Policy {
	s.mu.Lock()
	p, rewrite := s.readLocked(ctx)
	s.current = p
	if rewrite {
		s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.logger.Info().
		Int("threshold_days", p.InactivityThresholdDays).
		Int("excluded_members", len(p.ExcludedMemberIDs)).
		Int("excluded_roles", len(p.ExcludedRoleIDs)).
		Str("target", p.DeliveryTarget.String()).
		Msg("policy loaded")
	s.notify(p)
	return p.Clone()
}

func (s *Store) readLocked(ctx context.Context) (models.Policy, bool) {
	data, err := s.backend.Load(ctx, persist.KeyPolicy)
	if errors.Is(err, perrors.ErrNotFound) {
		s.logger.Info().Msg("no policy document, writing defaults")
		return s.defaults.Clone(), true
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read policy document, using defaults")
		return s.defaults.Clone(), true
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Msg("policy document is corrupt, restoring defaults")
		return s.defaults.Clone(), true
	}

	merged, legacy := doc.mergeInto(s.defaults)
	p := normalize(merged, s.defaults, s.limits)
	if legacy {
		s.logger.Info().Int("from_schema", doc.SchemaVersion).Msg("migrating policy document")
	}
	return p, legacy || !equal(p, merged)
}

func equal(a, b models.Policy) bool {
	if !slices.Equal(a.ExcludedMemberIDs, b.ExcludedMemberIDs) || !slices.Equal(a.ExcludedRoleIDs, b.ExcludedRoleIDs) {
		return false
	}
	a.ExcludedMemberIDs, b.ExcludedMemberIDs = nil, nil
	a.ExcludedRoleIDs, b.ExcludedRoleIDs = nil, nil
	return reflect.DeepEqual(a, b)
}

// Current returns a copy of the policy in effect.
func (s *Store) Current() models.Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Save normalizes p, makes it current and persists it.
func (s *Store) Save(ctx context.Context, p models.Policy) models.Policy {
	return s.mutate(ctx, func(cur *models.Policy) bool {
		*cur = p.Clone()
		return true
	})
}

// ResetToDefaults replaces the policy with the defaults.
func (s *Store) ResetToDefaults(ctx context.Context) models.Policy {
	return s.Save(ctx, s.defaults)
}

// mutate applies fn under the lock. When fn reports a change the policy is
// normalized, persisted and published to subscribers.
func (s *Store) mutate(ctx context.Context, fn func(*models.Policy) bool) models.Policy {
	s.mu.Lock()
	next := s.current.Clone()
	if !fn(&next) {
		s.mu.Unlock()
		return next
	}
	s.current = normalize(next, s.defaults, s.limits)
	s.persistLocked(ctx)
	out := s.current.Clone()
	s.mu.Unlock()

	s.notify(out)
	return out
}

func (s *Store) persistLocked(ctx context.Context) {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err == nil {
		err = s.backend.Save(ctx, persist.KeyPolicy, data)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist policy, change kept in memory")
		if s.recorder != nil {
			s.recorder.RecordPersistError(persist.KeyPolicy)
		}
	}
}

// AddExcludedMember whitelists memberID.
func (s *Store) AddExcludedMember(ctx context.Context, memberID string) (ExclusionResult, error) {
	return s.addExclusion(ctx, memberID, func(p *models.Policy) *[]string { return &p.ExcludedMemberIDs })
}

// RemoveExcludedMember drops memberID from the whitelist.
func (s *Store) RemoveExcludedMember(ctx context.Context, memberID string) (ExclusionResult, error) {
	return s.removeExclusion(ctx, memberID, func(p *models.Policy) *[]string { return &p.ExcludedMemberIDs })
}

// AddExcludedRole whitelists every member holding roleID.
func (s *Store) AddExcludedRole(ctx context.Context, roleID string) (ExclusionResult, error) {
	return s.addExclusion(ctx, roleID, func(p *models.Policy) *[]string { return &p.ExcludedRoleIDs })
}

// RemoveExcludedRole drops roleID from the whitelist.
func (s *Store) RemoveExcludedRole(ctx context.Context, roleID string) (ExclusionResult, error) {
	return s.removeExclusion(ctx, roleID, func(p *models.Policy) *[]string { return &p.ExcludedRoleIDs })
}

func (s *Store) addExclusion(ctx context.Context, id string, field func(*models.Policy) *[]string) (ExclusionResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotExcluded, fmt.Errorf("exclusion id is required: %w", perrors.ErrInvalidInput)
	}
	result := AlreadyExcluded
	s.mutate(ctx, func(p *models.Policy) bool {
		list := field(p)
		for _, existing := range *list {
			if existing == id {
				return false
			}
		}
		*list = append(*list, id)
		result = Added
		return true
	})
	return result, nil
}

func (s *Store) removeExclusion(ctx context.Context, id string, field func(*models.Policy) *[]string) (ExclusionResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotExcluded, fmt.Errorf("exclusion id is required: %w", perrors.ErrInvalidInput)
	}
	result := NotExcluded
	s.mutate(ctx, func(p *models.Policy) bool {
		list := field(p)
		for i, existing := range *list {
			if existing == id {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				result = Removed
				return true
			}
		}
		return false
	})
	return result, nil
}

// SetThreshold clamps days into range, applies it and returns the
// effective value.
func (s *Store) SetThreshold(ctx context.Context, days int) int {
	p, _, _ := s.Update(ctx, Update{ThresholdDays: &days})
	return p.InactivityThresholdDays
}

// SetMonitoring toggles recording of one activity kind.
func (s *Store) SetMonitoring(ctx context.Context, kind models.ActivityKind, enabled bool) (models.Policy, error) {
	var u Update
	switch kind {
	case models.KindMessage:
		u.Messages = &enabled
	case models.KindReaction:
		u.Reactions = &enabled
	case models.KindPresence:
		u.Presence = &enabled
	default:
		return s.Current(), fmt.Errorf("activity kind %q: %w", kind, perrors.ErrInvalidInput)
	}
	p, _, err := s.Update(ctx, u)
	return p, err
}

// SetDeliveryTarget changes where reports are sent.
func (s *Store) SetDeliveryTarget(ctx context.Context, target models.DeliveryTarget) models.Policy {
	p, _, _ := s.Update(ctx, Update{DeliveryTarget: &target})
	return p
}

// SetAutoNotify enables or disables scheduled runs.
func (s *Store) SetAutoNotify(ctx context.Context, enabled bool) models.Policy {
	p, _, _ := s.Update(ctx, Update{AutoNotifyEnabled: &enabled})
	return p
}

// Subscribe registers fn to receive the policy after every change.
func (s *Store) Subscribe(fn func(models.Policy)) {
	s.subMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.subMu.Unlock()
}

func (s *Store) notify(p models.Policy) {
	s.subMu.Lock()
	listeners := append([]func(models.Policy){}, s.listeners...)
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(p.Clone())
	}
}
