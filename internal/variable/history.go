package variable

import "time"

// DefaultHistoryCap bounds a variable's optimization history when the
// configuration does not say otherwise.
const DefaultHistoryCap = 100

// HistoryEntry records one committed value change.
type HistoryEntry struct {
	Value     any
	Timestamp time.Time
	Cause     string
}

// AppendHistory appends an entry, evicting the oldest entries so the
// result never exceeds cap. Entries stay in chronological order.
func AppendHistory(h []HistoryEntry, e HistoryEntry, cap int) []HistoryEntry {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	h = append(h, e)
	if excess := len(h) - cap; excess > 0 {
		h = append([]HistoryEntry(nil), h[excess:]...)
	}
	return h
}
