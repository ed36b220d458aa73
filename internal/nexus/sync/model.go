package sync

import (
	"context"
	"fmt"
	"slices"

	"github.com/itou-labs/nexus-sync/internal/nexus/tracker"
	"github.com/itou-labs/nexus-sync/internal/nexus/txn"
)

// DefaultChunkSize bounds how many records a set-based write re-fetches at once.
const DefaultChunkSize = 10_000

// Model binds a record type to the fields the remote side cares about and to
// the Target that applies its actions.
type Model[R Record] struct {
	// Name is used in error messages and logs.
	Name string

	// TrackedFields lists the field names compared by the tracker. Relations
	// are listed by their foreign-key scalar, e.g. "user_id".
	TrackedFields []string

	// Relations maps a relation's logical name to the scalar it is stored in,
	// e.g. "user" -> "user_id".
	Relations map[string]string

	Target Target[R]

	// ChunkSize bounds re-fetches in set-based writes. Zero means DefaultChunkSize.
	ChunkSize int
}

func (m *Model[R]) chunkSize() int {
	if m.ChunkSize < 1 {
		return DefaultChunkSize
	}
	return m.ChunkSize
}

// Save wraps the persist of a single record. Dirty fields are computed before
// persist runs, the snapshot is refreshed right after it succeeds, and the
// resulting action is scheduled on tc.
func (m *Model[R]) Save(ctx context.Context, tc txn.Context, r R, persist func(ctx context.Context) error) error {
	changed := tracker.Changed(r, m.TrackedFields)

	if err := persist(ctx); err != nil {
		return err
	}
	// persist resets the snapshot when it had to insert a row the snapshot
	// claimed was already stored.
	if !tracker.Persisted(r) {
		changed = slices.Clone(m.TrackedFields)
	}
	tracker.Capture(r, m.TrackedFields)

	a, err := Decide(r, changed, m.TrackedFields)
	if err != nil {
		return fmt.Errorf("save %s: %w", m.Name, err)
	}
	Schedule(tc, m.Target, a)
	return nil
}

// Remove wraps the deletion of a single record and schedules its remote
// deletion. Records that were never persisted are rejected with
// ErrNotPersisted.
func (m *Model[R]) Remove(ctx context.Context, tc txn.Context, r R, remove func(ctx context.Context) error) error {
	if !tracker.Persisted(r) {
		return fmt.Errorf("remove %s: %w", m.Name, ErrNotPersisted)
	}
	id := r.SyncID()
	if err := remove(ctx); err != nil {
		return err
	}
	Schedule(tc, m.Target, Delete[R](id))
	return nil
}

// ExpandFields returns fields plus the scalar behind every relation among
// them, so that a relation update is matched against its tracked scalar.
func (m *Model[R]) ExpandFields(fields []string) []string {
	expanded := slices.Clone(fields)
	for _, f := range fields {
		if scalar, ok := m.Relations[f]; ok && !slices.Contains(expanded, scalar) {
			expanded = append(expanded, scalar)
		}
	}
	return expanded
}

// Touches reports whether a write to fields can change anything tracked.
func (m *Model[R]) Touches(fields []string) bool {
	return intersects(m.ExpandFields(fields), m.TrackedFields)
}
