// Package history validates the inline message_history the Request Adapter
// accepts on an /analyze call: bounded size, parseable timestamps, strict
// monotonic ordering, and bounded scores.
package history

import (
	"fmt"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/apperr"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// MaxItems is the hard cap on history length.
const MaxItems = 20

// RawItem is one history entry as received over the wire, before timestamp
// parsing.
type RawItem struct {
	Message     string
	Timestamp   string
	CrisisScore *float64
	MessageID   string
}

// Validate parses and validates raw history items, returning them sorted
// ascending by timestamp (they are required to already be in that order).
func Validate(items []RawItem) ([]model.HistoryItem, *apperr.Error) {
	if len(items) == 0 {
		return nil, nil
	}
	if len(items) > MaxItems {
		return nil, apperr.Validation("message_history exceeds maximum length",
			apperr.Detail{Code: "history_too_long", Message: fmt.Sprintf("at most %d items allowed, got %d", MaxItems, len(items)), Field: "message_history"})
	}

	out := make([]model.HistoryItem, 0, len(items))
	var prev time.Time
	for i, raw := range items {
		ts, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			return nil, apperr.Validation("message_history item has an unparseable timestamp",
				apperr.Detail{Code: "invalid_timestamp", Message: err.Error(), Field: fmt.Sprintf("message_history[%d].timestamp", i)})
		}
		if i > 0 && !ts.After(prev) {
			return nil, apperr.Validation("message_history timestamps must be strictly increasing",
				apperr.Detail{Code: "non_monotonic_history", Message: "timestamp does not strictly increase over the previous item", Field: fmt.Sprintf("message_history[%d].timestamp", i)})
		}
		if raw.CrisisScore != nil && (*raw.CrisisScore < 0 || *raw.CrisisScore > 1) {
			return nil, apperr.Validation("message_history crisis_score out of range",
				apperr.Detail{Code: "crisis_score_out_of_range", Message: "crisis_score must be in [0,1]", Field: fmt.Sprintf("message_history[%d].crisis_score", i)})
		}
		prev = ts
		out = append(out, model.HistoryItem{
			Message:     raw.Message,
			Timestamp:   ts,
			CrisisScore: raw.CrisisScore,
			MessageID:   raw.MessageID,
		})
	}
	return out, nil
}
