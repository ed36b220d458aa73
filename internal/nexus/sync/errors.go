package sync

import "errors"

var (
	// ErrUnsupported is returned by BulkCreate when the caller did not opt out
	// of reconciliation. Rows inserted in bulk may have been ignored or merged
	// on conflict, so which of them changed cannot be known afterwards.
	ErrUnsupported = errors.New("bulk create without SkipSync is not supported")

	// ErrNotLoaded is returned by ShouldSyncRemotely implementations when a
	// relation the predicate depends on was not loaded.
	ErrNotLoaded = errors.New("relation not loaded")

	// ErrNotPersisted is returned by Remove for a record that was never saved.
	ErrNotPersisted = errors.New("record was never persisted")
)
