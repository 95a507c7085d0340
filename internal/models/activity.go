// Package models holds the domain types shared by the inactivity pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActivityKind is the category of qualifying member action.
type ActivityKind string

const (
	KindMessage  ActivityKind = "message"
	KindReaction ActivityKind = "reaction"
	KindPresence ActivityKind = "presence"
)

// AllKinds lists every activity kind in display order.
var AllKinds = []ActivityKind{KindMessage, KindReaction, KindPresence}

// IsKnownKind reports whether k is one of AllKinds.
func IsKnownKind(k ActivityKind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseActivityKind accepts the canonical names plus the plural and legacy
// spellings operators tend to type ("messages", "voice").
func ParseActivityKind(s string) (ActivityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "message", "messages":
		return KindMessage, nil
	case "reaction", "reactions":
		return KindReaction, nil
	case "presence", "voice", "voiceactivity", "voice-activity":
		return KindPresence, nil
	default:
		return "", fmt.Errorf("unknown activity kind %q", s)
	}
}

// UnmarshalJSON maps the legacy "voice" value onto KindPresence.
func (k *ActivityKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	kind, err := ParseActivityKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ActivityRecord is the single most recent activity of a member in a space.
type ActivityRecord struct {
	LastActivityAt time.Time    `json:"last_activity_at"`
	Kind           ActivityKind `json:"activity_kind"`
}

// NeverDays is the DaysSince value of a member with no recorded activity.
// It compares greater than or equal to every threshold.
const NeverDays = int(^uint(0) >> 1)

// DaysBetween returns the number of whole days elapsed from last to now.
// Future timestamps count as zero days.
func DaysBetween(last, now time.Time) int {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
