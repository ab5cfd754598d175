// Package variable holds the variable data model and the concurrent-safe
// store. Records are immutable snapshots: writers build a new record and
// swap it in, so a reader never observes a partially-applied write.
package variable

import (
	"time"

	"github.com/varhub/varhub/internal/vartype"
)

// Metadata carries record timestamps plus free-form key/value pairs.
type Metadata struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	Extra     map[string]string
}

// Record is one variable's full state. Treat a *Record obtained from the
// store as read-only; mutate via Clone.
type Record struct {
	ID           string
	Name         string
	Type         vartype.Tag
	Value        any
	Constraints  []vartype.Constraint // declaration order
	Dependencies []string             // variable ids that must resolve on every update
	Metadata     Metadata
	History      []HistoryEntry // chronological, bounded by the store's history cap
	LockHolder   string         // active optimization session identity, if any
}

// Clone returns a copy safe for independent mutation. Constraint specs and
// history values are shared; both are treated as immutable once set.
func (r *Record) Clone() *Record {
	out := *r
	out.Constraints = append([]vartype.Constraint(nil), r.Constraints...)
	out.Dependencies = append([]string(nil), r.Dependencies...)
	out.History = append([]HistoryEntry(nil), r.History...)
	if r.Metadata.Extra != nil {
		extra := make(map[string]string, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			extra[k] = v
		}
		out.Metadata.Extra = extra
	}
	return &out
}

// Locked reports whether an optimization session currently holds the record.
func (r *Record) Locked() bool {
	return r.LockHolder != ""
}
