// Package sync keeps the remote directory eventually consistent with locally
// owned records.
//
// # Overview
//
// Every write to a syncable record flows through the same pipeline:
//
//	write ──> tracker (dirty fields)
//	              │
//	              ▼
//	          Decide ──> NoAction | Sync(records) | Delete(ids)
//	              │
//	              ▼
//	          Schedule ──> txn.Context.OnCommit
//	                              │ (after commit only)
//	                              ▼
//	                          Target ──> batch.Dispatcher ──> api.Client
//
// Nothing is sent while the transaction that produced a change is still open,
// and nothing is sent at all when it rolls back. Delivery is at least once
// after commit: a crash between commit and dispatch loses the dispatch, which
// the next full sync repairs.
//
// # Models
//
// A Model binds a record type to its tracked fields and its Target. The
// storage layer calls Model methods around its own writes:
//
//	// single record
//	err := users.Save(ctx, tx, u, func(ctx context.Context) error {
//	    return insertOrUpdate(ctx, tx, u)
//	})
//
//	// set-based update
//	n, err := users.Update(ctx, tx, set, map[string]any{"is_active": false})
//
// Set-based writes have no per-row hook, so Update captures the matching
// identifiers before writing, re-fetches them afterwards and schedules one
// aggregated Sync and one aggregated Delete.
//
// # Error Handling
//
// Errors from ShouldSyncRemotely abort the write before anything is scheduled.
// Bulk inserts are rejected with ErrUnsupported unless the caller opts out of
// reconciliation. Remote failures surface when the commit hooks run.
package sync
