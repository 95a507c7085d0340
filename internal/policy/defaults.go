// Package policy owns the mutable inactivity policy and its persisted
// document.
package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// Built-in defaults.
const (
	DefaultThresholdDays = 3
	DefaultBatchSize     = 20
	DefaultSchedule      = "0 20 * * *"
	MaxBatchSize         = 50
)

// Limits bound the operator-settable numeric fields.
type Limits struct {
	MinThresholdDays int
	MaxThresholdDays int
	MaxBatchSize     int
}

// DefaultLimits returns the stock 1-30 day threshold range.
func DefaultLimits() Limits {
	return Limits{MinThresholdDays: 1, MaxThresholdDays: 30, MaxBatchSize: MaxBatchSize}
}

func (l Limits) normalized() Limits {
	if l.MinThresholdDays < 1 {
		l.MinThresholdDays = 1
	}
	if l.MaxThresholdDays < l.MinThresholdDays {
		l.MaxThresholdDays = l.MinThresholdDays
	}
	if l.MaxBatchSize < 1 {
		l.MaxBatchSize = MaxBatchSize
	}
	return l
}

// ClampThreshold forces days into [MinThresholdDays, MaxThresholdDays].
func (l Limits) ClampThreshold(days int) int {
	l = l.normalized()
	return clamp(days, l.MinThresholdDays, l.MaxThresholdDays)
}

// ClampBatchSize forces n into [1, MaxBatchSize].
func (l Limits) ClampBatchSize(n int) int {
	l = l.normalized()
	return clamp(n, 1, l.MaxBatchSize)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Defaults returns the built-in policy.
func Defaults() models.Policy {
	return models.Policy{
		SchemaVersion:           models.CurrentPolicySchema,
		InactivityThresholdDays: DefaultThresholdDays,
		Monitoring:              models.Monitoring{Messages: true, Reactions: true, Presence: true},
		ExcludedMemberIDs:       []string{},
		ExcludedRoleIDs:         []string{},
		DeliveryTarget:          models.DirectTarget(),
		BatchSize:               DefaultBatchSize,
		AutoNotifyEnabled:       true,
		AutoNotifySchedule:      DefaultSchedule,
	}
}

// ValidateSchedule checks a standard 5-field cron expression.
func ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("empty schedule: %w", perrors.ErrInvalidInput)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("schedule %q: %v: %w", spec, err, perrors.ErrInvalidInput)
	}
	return nil
}

// defaultsFile is the YAML shape of POLICY_DEFAULTS_FILE. Omitted keys keep
// the built-in value.
type defaultsFile struct {
	ThresholdDays      *int                   `yaml:"inactivity_threshold_days"`
	Monitoring         *monitoringPatch       `yaml:"monitoring"`
	ExcludedMemberIDs  []string               `yaml:"excluded_member_ids"`
	ExcludedRoleIDs    []string               `yaml:"excluded_role_ids"`
	DeliveryTarget     *models.DeliveryTarget `yaml:"delivery_target"`
	LogChannelID       *string                `yaml:"log_channel_id"`
	BatchSize          *int                   `yaml:"batch_size"`
	AutoNotifyEnabled  *bool                  `yaml:"auto_notify_enabled"`
	AutoNotifySchedule *string                `yaml:"auto_notify_schedule"`
}

// LoadDefaults returns the built-in defaults overlaid with the YAML file at
// path. An empty path returns the built-in defaults.
func LoadDefaults(path string, limits Limits) (models.Policy, error) {
	base := Defaults()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading policy defaults: %w", err)
	}

	var f defaultsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return base, fmt.Errorf("parsing policy defaults %s: %w", path, err)
	}

	if f.AutoNotifySchedule != nil {
		if err := ValidateSchedule(*f.AutoNotifySchedule); err != nil {
			return base, fmt.Errorf("policy defaults %s: %w", path, err)
		}
	}

	doc := document{
		InactivityThresholdDays: f.ThresholdDays,
		Monitoring:              f.Monitoring,
		ExcludedMemberIDs:       f.ExcludedMemberIDs,
		ExcludedRoleIDs:         f.ExcludedRoleIDs,
		DeliveryTarget:          f.DeliveryTarget,
		LogChannelID:            f.LogChannelID,
		BatchSize:               f.BatchSize,
		AutoNotifyEnabled:       f.AutoNotifyEnabled,
		AutoNotifySchedule:      f.AutoNotifySchedule,
	}
	p, _ := doc.mergeInto(base)
	return normalize(p, base, limits), nil
}
