// Package notify splits inactive lists into delivery batches and renders
// them as Slack messages.
package notify

import (
	"sort"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// Batch partitions entries into contiguous chunks of at most size entries,
// preserving order. An empty list yields one empty summary batch.
func Batch(entries []models.InactiveEntry, size int) []models.NotificationBatch {
	if size < 1 {
		size = 1
	}
	if len(entries) == 0 {
		return []models.NotificationBatch{{Index: 1, Total: 1}}
	}

	total := (len(entries) + size - 1) / size
	batches := make([]models.NotificationBatch, 0, total)
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, models.NotificationBatch{
			Entries:      entries[i:end:end],
			Index:        len(batches) + 1,
			Total:        total,
			TotalEntries: len(entries),
		})
	}
	return batches
}

// SortByInactivity returns a copy ordered longest-inactive first.
// Never-recorded members lead; ties keep their input order.
func SortByInactivity(entries []models.InactiveEntry) []models.InactiveEntry {
	out := append([]models.InactiveEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DaysSince > out[j].DaysSince
	})
	return out
}
