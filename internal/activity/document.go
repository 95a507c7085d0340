package activity

import (
	"encoding/json"
	"fmt"
	"time"

	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/models"
)

// storedRecord accepts both the current field names and the older
// lastActivity/activityType spelling.
type storedRecord struct {
	LastActivityAt *time.Time `json:"last_activity_at"`
	Kind           string     `json:"activity_kind"`

	LegacyLastActivity *time.Time `json:"lastActivity"`
	LegacyType         string     `json:"activityType"`
}

func decodeDocument(data []byte) (map[string]map[string]models.ActivityRecord, error) {
	var raw map[string]map[string]storedRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding activity document: %v: %w", err, perrors.ErrCorrupt)
	}

	out := make(map[string]map[string]models.ActivityRecord, len(raw))
	for member, bySpace := range raw {
		if member == "" {
			continue
		}
		for space, sr := range bySpace {
			if space == "" {
				continue
			}
			rec, ok := sr.record()
			if !ok {
				continue
			}
			if out[member] == nil {
				out[member] = make(map[string]models.ActivityRecord)
			}
			out[member][space] = rec
		}
	}
	return out, nil
}

func (r storedRecord) record() (models.ActivityRecord, bool) {
	at := r.LastActivityAt
	if at == nil {
		at = r.LegacyLastActivity
	}
	if at == nil || at.IsZero() {
		return models.ActivityRecord{}, false
	}
	kind := r.Kind
	if kind == "" {
		kind = r.LegacyType
	}
	parsed, err := models.ParseActivityKind(kind)
	if err != nil {
		parsed = models.KindMessage
	}
	return models.ActivityRecord{LastActivityAt: at.UTC(), Kind: parsed}, true
}
