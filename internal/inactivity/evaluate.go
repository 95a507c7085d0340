// Package inactivity classifies roster members as inactive.
package inactivity

import (
	"time"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// Lookup resolves the recorded activity of a member in a space.
// activity.Snapshot satisfies it.
type Lookup interface {
	Lookup(memberID, spaceID string) (models.ActivityRecord, bool)
}

// Cutoff returns the instant before which activity counts as stale.
func Cutoff(now time.Time, thresholdDays int) time.Time {
	if thresholdDays < 1 {
		thresholdDays = 1
	}
	return now.Add(-time.Duration(thresholdDays) * 24 * time.Hour)
}

// Evaluate returns the inactive members of roster in roster order.
//
// Automated accounts, whitelisted members and holders of a whitelisted role
// are skipped. A member with no record in spaceID is always inactive; one
// with a record is inactive when the record predates the cutoff. The
// activity kind is not re-checked here; the recording side already dropped
// kinds that are not monitored.
func Evaluate(roster []models.Member, activity Lookup, policy models.Policy, spaceID string, now time.Time) []models.InactiveEntry {
	cutoff := Cutoff(now, policy.InactivityThresholdDays)

	excludedMembers := toSet(policy.ExcludedMemberIDs)
	excludedRoles := toSet(policy.ExcludedRoleIDs)

	out := make([]models.InactiveEntry, 0)
	for _, m := range roster {
		if m.Automated {
			continue
		}
		if _, ok := excludedMembers[m.ID]; ok {
			continue
		}
		if hasAny(m.RoleIDs, excludedRoles) {
			continue
		}

		rec, ok := activity.Lookup(m.ID, spaceID)
		if !ok {
			out = append(out, models.InactiveEntry{
				MemberID:    m.ID,
				DisplayName: m.DisplayName,
				DaysSince:   models.NeverDays,
			})
			continue
		}
		if !rec.LastActivityAt.Before(cutoff) {
			continue
		}
		last := rec.LastActivityAt
		out = append(out, models.InactiveEntry{
			MemberID:       m.ID,
			DisplayName:    m.DisplayName,
			LastActivityAt: &last,
			Kind:           rec.Kind,
			DaysSince:      models.DaysBetween(last, now),
		})
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func hasAny(ids []string, set map[string]struct{}) bool {
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
