package policy

import (
	"strings"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

type monitoringPatch struct {
	Messages  *bool `json:"messages" yaml:"messages"`
	Reactions *bool `json:"reactions" yaml:"reactions"`
	Presence  *bool `json:"presence" yaml:"presence"`
}

type legacyMonitoring struct {
	Messages      *bool `json:"messages"`
	Reactions     *bool `json:"reactions"`
	VoiceActivity *bool `json:"voiceActivity"`
}

// document is the persisted policy. Every field is optional so a partial or
// older document merges over the defaults field by field. Schema 1 used the
// camelCase keys below; anything without schema_version is treated as 1.
type document struct {
	SchemaVersion           int                    `json:"schema_version"`
	InactivityThresholdDays *int                   `json:"inactivity_threshold_days"`
	Monitoring              *monitoringPatch       `json:"monitoring"`
	ExcludedMemberIDs       []string               `json:"excluded_member_ids"`
	ExcludedRoleIDs         []string               `json:"excluded_role_ids"`
	DeliveryTarget          *models.DeliveryTarget `json:"delivery_target"`
	LogChannelID            *string                `json:"log_channel_id"`
	BatchSize               *int                   `json:"batch_size"`
	AutoNotifyEnabled       *bool                  `json:"auto_notify_enabled"`
	AutoNotifySchedule      *string                `json:"auto_notify_schedule"`

	// Schema 1.
	InactiveDays       *int              `json:"inactiveDays"`
	EnableAutoNotify   *bool             `json:"enableAutoNotify"`
	NotifyTime         *string           `json:"notifyTime"`
	NotifyChannel      *string           `json:"notifyChannel"`
	LogChannel         *string           `json:"logChannel"`
	ExcludeRoles       []string          `json:"excludeRoles"`
	ExcludeUsers       []string          `json:"excludeUsers"`
	MaxUsersPerMessage *int              `json:"maxUsersPerMessage"`
	MonitoringOptions  *legacyMonitoring `json:"monitoringOptions"`
}

// mergeInto overlays the document on base. It reports whether the document
// predates the current schema and should be rewritten.
func (d document) mergeInto(base models.Policy) (models.Policy, bool) {
	p := base.Clone()
	legacy := d.SchemaVersion < models.CurrentPolicySchema

	if legacy {
		if d.InactiveDays != nil {
			p.InactivityThresholdDays = *d.InactiveDays
		}
		if d.EnableAutoNotify != nil {
			p.AutoNotifyEnabled = *d.EnableAutoNotify
		}
		if d.NotifyTime != nil {
			p.AutoNotifySchedule = *d.NotifyTime
		}
		if d.NotifyChannel != nil && *d.NotifyChannel != "" {
			p.DeliveryTarget = models.ChannelTarget(*d.NotifyChannel)
		}
		if d.LogChannel != nil {
			p.LogChannelID = *d.LogChannel
		}
		if d.ExcludeRoles != nil {
			p.ExcludedRoleIDs = d.ExcludeRoles
		}
		if d.ExcludeUsers != nil {
			p.ExcludedMemberIDs = d.ExcludeUsers
		}
		if d.MaxUsersPerMessage != nil {
			p.BatchSize = *d.MaxUsersPerMessage
		}
		if m := d.MonitoringOptions; m != nil {
			if m.Messages != nil {
				p.Monitoring.Messages = *m.Messages
			}
			if m.Reactions != nil {
				p.Monitoring.Reactions = *m.Reactions
			}
			if m.VoiceActivity != nil {
				p.Monitoring.Presence = *m.VoiceActivity
			}
		}
	}

	if d.InactivityThresholdDays != nil {
		p.InactivityThresholdDays = *d.InactivityThresholdDays
	}
	if m := d.Monitoring; m != nil {
		if m.Messages != nil {
			p.Monitoring.Messages = *m.Messages
		}
		if m.Reactions != nil {
			p.Monitoring.Reactions = *m.Reactions
		}
		if m.Presence != nil {
			p.Monitoring.Presence = *m.Presence
		}
	}
	if d.ExcludedMemberIDs != nil {
		p.ExcludedMemberIDs = append([]string(nil), d.ExcludedMemberIDs...)
	}
	if d.ExcludedRoleIDs != nil {
		p.ExcludedRoleIDs = append([]string(nil), d.ExcludedRoleIDs...)
	}
	if d.DeliveryTarget != nil {
		p.DeliveryTarget = *d.DeliveryTarget
	}
	if d.LogChannelID != nil {
		p.LogChannelID = *d.LogChannelID
	}
	if d.BatchSize != nil {
		p.BatchSize = *d.BatchSize
	}
	if d.AutoNotifyEnabled != nil {
		p.AutoNotifyEnabled = *d.AutoNotifyEnabled
	}
	if d.AutoNotifySchedule != nil {
		p.AutoNotifySchedule = *d.AutoNotifySchedule
	}

	p.SchemaVersion = models.CurrentPolicySchema
	return p, legacy
}

// normalize enforces the policy invariants: clamped numbers, unique
// exclusion lists, a well-formed target and a parseable schedule.
func normalize(p, defaults models.Policy, limits Limits) models.Policy {
	p = p.Clone()
	p.SchemaVersion = models.CurrentPolicySchema
	p.InactivityThresholdDays = limits.ClampThreshold(p.InactivityThresholdDays)
	p.BatchSize = limits.ClampBatchSize(p.BatchSize)
	p.ExcludedMemberIDs = dedupe(p.ExcludedMemberIDs)
	p.ExcludedRoleIDs = dedupe(p.ExcludedRoleIDs)

	switch p.DeliveryTarget.Kind {
	case models.DeliveryChannel:
		if p.DeliveryTarget.ChannelID == "" {
			p.DeliveryTarget = models.DirectTarget()
		}
	default:
		p.DeliveryTarget = models.DirectTarget()
	}

	p.AutoNotifySchedule = strings.TrimSpace(p.AutoNotifySchedule)
	if ValidateSchedule(p.AutoNotifySchedule) != nil {
		p.AutoNotifySchedule = defaults.AutoNotifySchedule
	}
	return p
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
