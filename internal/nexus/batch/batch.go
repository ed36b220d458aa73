// Package batch splits record and identifier sets into bounded chunks and
// streams them to the remote directory, one call per chunk.
//
// Chunks are sent sequentially and in order. The first failing chunk aborts
// the dispatch: later chunks are never sent and the error is returned with
// the failing chunk's index, so a partially applied operation is always
// reported.
package batch

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"go.uber.org/zap"
)

// DefaultChunkSize bounds a single push or delete call.
const DefaultChunkSize = 5000

// Sender is the outbound side of a dispatch. *api.Client implements it.
type Sender interface {
	Push(ctx context.Context, collection string, records []any) error
	Delete(ctx context.Context, collection string, ids []string) error
}

// Dispatcher groups items into chunks of at most ChunkSize and sends each
// chunk through a Sender.
type Dispatcher struct {
	sender    Sender
	chunkSize int
	logger    *zap.SugaredLogger
}

// New creates a Dispatcher. A chunkSize below 1 selects DefaultChunkSize and a
// nil logger selects the global zap logger.
func New(sender Sender, chunkSize int, logger *zap.SugaredLogger) *Dispatcher {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.S()
	}
	return &Dispatcher{
		sender:    sender,
		chunkSize: chunkSize,
		logger:    logger.Named("batch"),
	}
}

// ChunkSize returns the maximum number of items per call.
func (d *Dispatcher) ChunkSize() int {
	return d.chunkSize
}

// Push sends serialized records to collection. Relative order is preserved
// and duplicates are kept. An empty set sends nothing.
func (d *Dispatcher) Push(ctx context.Context, collection string, records []any) error {
	n := 0
	for chunk := range slices.Chunk(records, d.chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.sender.Push(ctx, collection, chunk); err != nil {
			return fmt.Errorf("push %s chunk %d: %w", collection, n, err)
		}
		n++
	}
	if n > 0 {
		d.logger.Debugw("Pushed records", "collection", collection, "records", len(records), "chunks", n)
	}
	return nil
}

// Delete removes identifiers from collection, chunked like Push.
func (d *Dispatcher) Delete(ctx context.Context, collection string, ids []string) error {
	n := 0
	for chunk := range slices.Chunk(ids, d.chunkSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.sender.Delete(ctx, collection, chunk); err != nil {
			return fmt.Errorf("delete %s chunk %d: %w", collection, n, err)
		}
		n++
	}
	if n > 0 {
		d.logger.Debugw("Deleted records", "collection", collection, "ids", len(ids), "chunks", n)
	}
	return nil
}

// Stream pushes every record produced by a forward-only cursor, holding at most
// one chunk in memory. It always sends at least one call, possibly empty, so the
// remote side sees the collection inside a full-sync window. It returns the
// number of records sent.
func (d *Dispatcher) Stream(ctx context.Context, collection string, records iter.Seq2[any, error]) (int, error) {
	chunk := make([]any, 0, d.chunkSize)
	sent, calls := 0, 0

	flush := func() error {
		if err := d.sender.Push(ctx, collection, chunk); err != nil {
			return fmt.Errorf("push %s chunk %d: %w", collection, calls, err)
		}
		sent += len(chunk)
		calls++
		chunk = make([]any, 0, d.chunkSize)
		return nil
	}

	for record, err := range records {
		if err != nil {
			return sent, fmt.Errorf("read %s: %w", collection, err)
		}
		chunk = append(chunk, record)
		if len(chunk) == d.chunkSize {
			if err := flush(); err != nil {
				return sent, err
			}
		}
	}

	if len(chunk) > 0 || calls == 0 {
		if err := flush(); err != nil {
			return sent, err
		}
	}

	d.logger.Debugw("Streamed collection", "collection", collection, "records", sent, "chunks", calls)
	return sent, nil
}
