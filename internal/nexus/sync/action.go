package sync

import (
	"fmt"

	"github.com/itou-labs/nexus-sync/internal/nexus/tracker"
)

// Record is a tracked entity that may be mirrored in the remote directory.
type Record interface {
	tracker.Record

	// SyncID is the identifier sent to the remote side. Native keys of any
	// type are rendered as strings.
	SyncID() string

	// ShouldSyncRemotely reports whether the record should exist remotely,
	// evaluated on its current field state. It may read loaded relations.
	ShouldSyncRemotely() (bool, error)
}

// Kind tags an Action.
type Kind int

const (
	NoAction Kind = iota
	KindSync
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case NoAction:
		return "none"
	case KindSync:
		return "sync"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Action is pure data describing a pending remote change. Sync actions carry
// records, Delete actions carry identifiers.
type Action[R Record] struct {
	Kind    Kind
	Records []R
	IDs     []string
}

// Sync builds a Sync action.
func Sync[R Record](records ...R) Action[R] {
	return Action[R]{Kind: KindSync, Records: records}
}

// Delete builds a Delete action.
func Delete[R Record](ids ...string) Action[R] {
	return Action[R]{Kind: KindDelete, IDs: ids}
}

// Empty reports whether the action has nothing to send.
func (a Action[R]) Empty() bool {
	switch a.Kind {
	case KindSync:
		return len(a.Records) == 0
	case KindDelete:
		return len(a.IDs) == 0
	}
	return true
}

// Decide classifies a write. changed is the set of fields the write touched
// and tracked the fields the remote side cares about. When they do not
// intersect the result is NoAction; otherwise the record's predicate picks
// between Sync and Delete. Predicate errors are returned as is.
func Decide[R Record](r R, changed, tracked []string) (Action[R], error) {
	if !intersects(changed, tracked) {
		return Action[R]{Kind: NoAction}, nil
	}
	return classify(r)
}

func classify[R Record](r R) (Action[R], error) {
	ok, err := r.ShouldSyncRemotely()
	if err != nil {
		return Action[R]{}, fmt.Errorf("should sync %s: %w", r.SyncID(), err)
	}
	if ok {
		return Sync(r), nil
	}
	return Delete[R](r.SyncID()), nil
}

// Partition splits records into those to sync and the identifiers to delete,
// preserving relative order. The first predicate error aborts.
func Partition[R Record](records []R) (Action[R], Action[R], error) {
	toSync := Action[R]{Kind: KindSync}
	toDelete := Action[R]{Kind: KindDelete}
	for _, r := range records {
		a, err := classify(r)
		if err != nil {
			return Action[R]{}, Action[R]{}, err
		}
		toSync.Records = append(toSync.Records, a.Records...)
		toDelete.IDs = append(toDelete.IDs, a.IDs...)
	}
	return toSync, toDelete, nil
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(b))
	for _, f := range b {
		set[f] = struct{}{}
	}
	for _, f := range a {
		if _, ok := set[f]; ok {
			return true
		}
	}
	return false
}
