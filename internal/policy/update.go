package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// Update is a partial policy change. Nil fields are left untouched, so a
// false toggle is distinct from an omitted one.
type Update struct {
	ThresholdDays      *int
	Messages           *bool
	Reactions          *bool
	Presence           *bool
	DeliveryTarget     *models.DeliveryTarget
	LogChannelID       *string
	BatchSize          *int
	AutoNotifyEnabled  *bool
	AutoNotifySchedule *string
}

// IsEmpty reports whether the update sets nothing.
func (u Update) IsEmpty() bool {
	return u.ThresholdDays == nil && u.Messages == nil && u.Reactions == nil &&
		u.Presence == nil && u.DeliveryTarget == nil && u.LogChannelID == nil &&
		u.BatchSize == nil && u.AutoNotifyEnabled == nil && u.AutoNotifySchedule == nil
}

// Update applies u atomically and returns the resulting policy along with a
// human-readable line per field that actually changed. An invalid schedule
// rejects the whole update.
func (s *Store) Update(ctx context.Context, u Update) (models.Policy, []string, error) {
	if u.AutoNotifySchedule != nil {
		spec := strings.TrimSpace(*u.AutoNotifySchedule)
		if err := ValidateSchedule(spec); err != nil {
			return s.Current(), nil, err
		}
		u.AutoNotifySchedule = &spec
	}

	var changes []string
	p := s.mutate(ctx, func(p *models.Policy) bool {
		if u.ThresholdDays != nil {
			days := s.limits.ClampThreshold(*u.ThresholdDays)
			if days != p.InactivityThresholdDays {
				changes = append(changes, fmt.Sprintf("threshold: %d -> %d days", p.InactivityThresholdDays, days))
				p.InactivityThresholdDays = days
			}
		}
		toggle := func(kind models.ActivityKind, v *bool) {
			if v == nil || p.Monitoring.Enabled(kind) == *v {
				return
			}
			changes = append(changes, fmt.Sprintf("monitor %s: %s", kind, onOff(*v)))
			p.Monitoring = p.Monitoring.With(kind, *v)
		}
		toggle(models.KindMessage, u.Messages)
		toggle(models.KindReaction, u.Reactions)
		toggle(models.KindPresence, u.Presence)

		if u.DeliveryTarget != nil && *u.DeliveryTarget != p.DeliveryTarget {
			changes = append(changes, fmt.Sprintf("delivery: %s -> %s", p.DeliveryTarget, *u.DeliveryTarget))
			p.DeliveryTarget = *u.DeliveryTarget
		}
		if u.LogChannelID != nil && *u.LogChannelID != p.LogChannelID {
			changes = append(changes, fmt.Sprintf("log channel: %s", channelOrOff(*u.LogChannelID)))
			p.LogChannelID = *u.LogChannelID
		}
		if u.BatchSize != nil {
			n := s.limits.ClampBatchSize(*u.BatchSize)
			if n != p.BatchSize {
				changes = append(changes, fmt.Sprintf("batch size: %d -> %d", p.BatchSize, n))
				p.BatchSize = n
			}
		}
		if u.AutoNotifyEnabled != nil && *u.AutoNotifyEnabled != p.AutoNotifyEnabled {
			changes = append(changes, fmt.Sprintf("auto-notify: %s", onOff(*u.AutoNotifyEnabled)))
			p.AutoNotifyEnabled = *u.AutoNotifyEnabled
		}
		if u.AutoNotifySchedule != nil && *u.AutoNotifySchedule != p.AutoNotifySchedule {
			changes = append(changes, fmt.Sprintf("schedule: %q -> %q", p.AutoNotifySchedule, *u.AutoNotifySchedule))
			p.AutoNotifySchedule = *u.AutoNotifySchedule
		}
		return len(changes) > 0
	})
	return p, changes, nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func channelOrOff(id string) string {
	if id == "" {
		return "off"
	}
	return "<#" + id + ">"
}
