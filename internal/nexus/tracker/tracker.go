// Package tracker records the last persisted value of a record's tracked fields
// so that writes can tell whether anything the remote directory cares about changed.
//
// A record opts in by embedding State and exposing its field values by name:
//
//	type Item struct {
//	    tracker.State
//	    ID       int64
//	    Category string
//	}
//
//	func (i *Item) Field(name string) any {
//	    switch name {
//	    case "category":
//	        return i.Category
//	    }
//	    return nil
//	}
//
// The storage layer calls Capture after hydrating a record and after every
// successful persist. Until the first Capture the record counts as new and every
// HasChanged query answers true.
package tracker

import "slices"

// Record is implemented by entities whose field changes are tracked.
//
// Field returns the current value of the named field. Values must be
// comparable with ==; relations are tracked through their foreign-key scalar
// (e.g. "user_id"), never through the related object.
type Record interface {
	Field(name string) any
	Tracking() *State
}

// State is the per-instance snapshot. The zero value is a record that was
// never persisted. It is owned by the record and written only by Capture.
type State struct {
	snapshot map[string]any
}

// Tracking lets types embedding State satisfy Record.
func (s *State) Tracking() *State {
	return s
}

// Capture stores the current values of fields as the new snapshot.
func Capture(r Record, fields []string) {
	snapshot := make(map[string]any, len(fields))
	for _, f := range fields {
		snapshot[f] = r.Field(f)
	}
	r.Tracking().snapshot = snapshot
}

// Reset forgets the snapshot, so the record counts as never persisted again.
func Reset(r Record) {
	r.Tracking().snapshot = nil
}

// Persisted reports whether the record has been captured at least once.
func Persisted(r Record) bool {
	return r.Tracking().snapshot != nil
}

// HasChanged reports whether any of fields differs from the snapshot.
// A record that was never persisted has always changed.
func HasChanged(r Record, fields []string) bool {
	return len(Changed(r, fields)) > 0
}

// Changed returns the subset of fields whose value differs from the snapshot,
// in the order given. A record that was never persisted returns all of fields.
//
// A field missing from the snapshot compares as changed: every snapshot is taken
// over the record's full tracked set, so this only happens when a caller asks
// about a field it never declared as tracked.
func Changed(r Record, fields []string) []string {
	snapshot := r.Tracking().snapshot
	if snapshot == nil {
		return slices.Clone(fields)
	}

	var changed []string
	for _, f := range fields {
		old, ok := snapshot[f]
		if !ok || old != r.Field(f) {
			changed = append(changed, f)
		}
	}
	return changed
}
