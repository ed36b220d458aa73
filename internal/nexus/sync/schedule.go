package sync

import (
	"context"
	"fmt"

	"github.com/itou-labs/nexus-sync/internal/nexus/batch"
	"github.com/itou-labs/nexus-sync/internal/nexus/txn"
)

// Target applies actions to the remote directory for one record type.
type Target[R Record] interface {
	SyncRecords(ctx context.Context, records []R) error
	DeleteRecords(ctx context.Context, ids []string) error
}

// Schedule registers a against the commit hook of tc. Empty and NoAction
// actions are dropped. The action's slices are owned by the hook from here on.
func Schedule[R Record](tc txn.Context, target Target[R], a Action[R]) {
	if a.Empty() {
		return
	}

	switch a.Kind {
	case KindSync:
		records := a.Records
		tc.OnCommit(func(ctx context.Context) error {
			return target.SyncRecords(ctx, records)
		})
	case KindDelete:
		ids := a.IDs
		tc.OnCommit(func(ctx context.Context) error {
			return target.DeleteRecords(ctx, ids)
		})
	}
}

// RemoteTarget serializes records for one remote collection and sends them
// through a batch dispatcher.
type RemoteTarget[R Record] struct {
	Collection string
	Serialize  func(R) any
	Dispatcher *batch.Dispatcher
}

// SyncRecords implements Target.
func (t *RemoteTarget[R]) SyncRecords(ctx context.Context, records []R) error {
	payload := make([]any, len(records))
	for i, r := range records {
		payload[i] = t.Serialize(r)
	}
	if err := t.Dispatcher.Push(ctx, t.Collection, payload); err != nil {
		return fmt.Errorf("sync %s: %w", t.Collection, err)
	}
	return nil
}

// DeleteRecords implements Target.
func (t *RemoteTarget[R]) DeleteRecords(ctx context.Context, ids []string) error {
	if err := t.Dispatcher.Delete(ctx, t.Collection, ids); err != nil {
		return fmt.Errorf("delete %s: %w", t.Collection, err)
	}
	return nil
}
