package sync

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/itou-labs/nexus-sync/internal/nexus/txn"
)

// Set is a filtered collection of rows of one record type, as exposed by the
// storage layer. Its methods perform the raw writes; Model wraps them with
// reconciliation.
type Set[R Record] interface {
	// IDs returns the identifiers currently matching the set, in stable order.
	IDs(ctx context.Context) ([]string, error)

	// Update applies values to every matching row. Keys are field names;
	// relation names are accepted and stored in their scalar.
	Update(ctx context.Context, values map[string]any) (int64, error)

	// UpdateRecords writes fields of each given record to its row.
	UpdateRecords(ctx context.Context, records []R, fields []string) (int64, error)

	// Delete removes every matching row.
	Delete(ctx context.Context) (int64, error)

	// Fetch loads the records with the given identifiers, including whatever
	// relations ShouldSyncRemotely reads, in the order of ids. Identifiers that
	// no longer exist are skipped.
	Fetch(ctx context.Context, ids []string) ([]R, error)

	// Insert adds records without per-row hooks.
	Insert(ctx context.Context, records []R, opts BulkOptions) (int64, error)
}

// BulkOptions controls BulkCreate.
type BulkOptions struct {
	// IgnoreConflicts skips rows that collide with an existing key.
	IgnoreConflicts bool
	// UpdateConflicts overwrites rows that collide with an existing key.
	UpdateConflicts bool
	// SkipSync acknowledges that the caller reconciles inserted records itself.
	SkipSync bool
}

// Update performs a set update and reconciles every row it matched.
//
// When none of the updated fields (relations expanded to their scalar) is
// tracked, the write goes through untouched. Otherwise the matching
// identifiers are captured before the write, since the update may change a
// column the set filters on, and re-fetched afterwards in chunks. Every
// re-fetched record counts as changed.
func (m *Model[R]) Update(ctx context.Context, tc txn.Context, set Set[R], values map[string]any) (int64, error) {
	fields := slices.Sorted(maps.Keys(values))
	if !m.Touches(fields) {
		return set.Update(ctx, values)
	}

	ids, err := set.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("update %s: capture ids: %w", m.Name, err)
	}

	n, err := set.Update(ctx, values)
	if err != nil {
		return 0, err
	}

	if err := m.reconcile(ctx, tc, set, ids); err != nil {
		return 0, fmt.Errorf("update %s: %w", m.Name, err)
	}
	return n, nil
}

// BulkUpdate writes fields of each record and reconciles them like Update.
func (m *Model[R]) BulkUpdate(ctx context.Context, tc txn.Context, set Set[R], records []R, fields []string) (int64, error) {
	if !m.Touches(fields) {
		return set.UpdateRecords(ctx, records, fields)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.SyncID()
	}

	n, err := set.UpdateRecords(ctx, records, fields)
	if err != nil {
		return 0, err
	}

	if err := m.reconcile(ctx, tc, set, ids); err != nil {
		return 0, fmt.Errorf("bulk update %s: %w", m.Name, err)
	}
	return n, nil
}

// DeleteAll deletes every row of set and schedules one aggregated remote
// deletion for the identifiers captured before the delete.
func (m *Model[R]) DeleteAll(ctx context.Context, tc txn.Context, set Set[R]) (int64, error) {
	ids, err := set.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete %s: capture ids: %w", m.Name, err)
	}

	n, err := set.Delete(ctx)
	if err != nil {
		return 0, err
	}

	Schedule(tc, m.Target, Delete[R](ids...))
	return n, nil
}

// BulkCreate inserts records without reconciling them. It refuses to run
// unless opts.SkipSync is set, in which case the caller is responsible for
// syncing what was actually written.
func (m *Model[R]) BulkCreate(ctx context.Context, set Set[R], records []R, opts BulkOptions) (int64, error) {
	if !opts.SkipSync {
		return 0, fmt.Errorf("bulk create %s: %w", m.Name, ErrUnsupported)
	}
	return set.Insert(ctx, records, opts)
}

func (m *Model[R]) reconcile(ctx context.Context, tc txn.Context, set Set[R], ids []string) error {
	toSync := Action[R]{Kind: KindSync}
	toDelete := Action[R]{Kind: KindDelete}

	for chunk := range slices.Chunk(ids, m.chunkSize()) {
		records, err := set.Fetch(ctx, chunk)
		if err != nil {
			return fmt.Errorf("fetch: %w", err)
		}
		s, d, err := Partition(records)
		if err != nil {
			return err
		}
		toSync.Records = append(toSync.Records, s.Records...)
		toDelete.IDs = append(toDelete.IDs, d.IDs...)
	}

	Schedule(tc, m.Target, toSync)
	Schedule(tc, m.Target, toDelete)
	return nil
}
