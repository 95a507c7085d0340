package models

import (
	"fmt"
	"slices"
)

// CurrentPolicySchema is the schema version written by this build.
const CurrentPolicySchema = 2

// DeliveryKind selects where inactivity reports go.
type DeliveryKind string

const (
	// DeliveryChannel posts to a configured channel.
	DeliveryChannel DeliveryKind = "channel"
	// DeliveryDirect sends a direct message to the requester or the owner.
	DeliveryDirect DeliveryKind = "direct"
)

// DeliveryTarget is either a channel reference or "direct message".
type DeliveryTarget struct {
	Kind      DeliveryKind `json:"kind" yaml:"kind"`
	ChannelID string       `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
}

// ChannelTarget returns a target pointing at channelID.
func ChannelTarget(channelID string) DeliveryTarget {
	return DeliveryTarget{Kind: DeliveryChannel, ChannelID: channelID}
}

// DirectTarget returns the direct-message target.
func DirectTarget() DeliveryTarget {
	return DeliveryTarget{Kind: DeliveryDirect}
}

// IsChannel reports whether the target names a channel.
func (t DeliveryTarget) IsChannel() bool {
	return t.Kind == DeliveryChannel && t.ChannelID != ""
}

func (t DeliveryTarget) String() string {
	if t.IsChannel() {
		return fmt.Sprintf("<#%s>", t.ChannelID)
	}
	return "direct message"
}

// Monitoring holds the per-kind recording toggles.
type Monitoring struct {
	Messages  bool `json:"messages" yaml:"messages"`
	Reactions bool `json:"reactions" yaml:"reactions"`
	Presence  bool `json:"presence" yaml:"presence"`
}

// Enabled reports whether activity of kind should be recorded.
func (m Monitoring) Enabled(kind ActivityKind) bool {
	switch kind {
	case KindMessage:
		return m.Messages
	case KindReaction:
		return m.Reactions
	case KindPresence:
		return m.Presence
	default:
		return false
	}
}

// With returns a copy with the toggle for kind set to enabled.
func (m Monitoring) With(kind ActivityKind, enabled bool) Monitoring {
	switch kind {
	case KindMessage:
		m.Messages = enabled
	case KindReaction:
		m.Reactions = enabled
	case KindPresence:
		m.Presence = enabled
	}
	return m
}

// Policy is the mutable inactivity configuration of a deployment.
type Policy struct {
	SchemaVersion           int            `json:"schema_version"`
	InactivityThresholdDays int            `json:"inactivity_threshold_days"`
	Monitoring              Monitoring     `json:"monitoring"`
	ExcludedMemberIDs       []string       `json:"excluded_member_ids"`
	ExcludedRoleIDs         []string       `json:"excluded_role_ids"`
	DeliveryTarget          DeliveryTarget `json:"delivery_target"`
	LogChannelID            string         `json:"log_channel_id,omitempty"`
	BatchSize               int            `json:"batch_size"`
	AutoNotifyEnabled       bool           `json:"auto_notify_enabled"`
	AutoNotifySchedule      string         `json:"auto_notify_schedule"`
}

// Clone returns a deep copy so callers never share the exclusion slices.
func (p Policy) Clone() Policy {
	out := p
	out.ExcludedMemberIDs = slices.Clone(p.ExcludedMemberIDs)
	out.ExcludedRoleIDs = slices.Clone(p.ExcludedRoleIDs)
	return out
}

// IsMemberExcluded reports whether memberID is on the member whitelist.
func (p Policy) IsMemberExcluded(memberID string) bool {
	return slices.Contains(p.ExcludedMemberIDs, memberID)
}

// IsRoleExcluded reports whether roleID is on the role whitelist.
func (p Policy) IsRoleExcluded(roleID string) bool {
	return slices.Contains(p.ExcludedRoleIDs, roleID)
}
