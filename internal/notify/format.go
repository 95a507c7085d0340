package notify

import (
	"fmt"
	"time"

	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// FormatSince renders the time between last and now in whole days.
func FormatSince(last *time.Time, now time.Time) string {
	if last == nil {
		return "never"
	}
	switch days := models.DaysBetween(*last, now); days {
	case 0:
		return "today"
	case 1:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}
