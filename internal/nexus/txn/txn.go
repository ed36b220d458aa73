// Package txn defines the commit-hook surface that deferred remote actions are
// registered against.
//
// Actions never run inline with the write that produced them. They are handed
// to a Context with OnCommit and fire once, in registration order, after the
// enclosing unit of work commits. A rollback discards them.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is the panic value used when a hook is registered on a unit of
// work that already committed or rolled back.
var ErrClosed = errors.New("transaction already finished")

// Func is an action deferred until commit.
type Func func(ctx context.Context) error

// Context is the narrow view of a transaction the sync machinery needs.
type Context interface {
	OnCommit(fn Func)
}

// Hooks is an ordered list of commit hooks. The zero value is ready to use.
//
// Storage layers embed Hooks in their transaction type and call Commit after
// the underlying commit succeeded, or Rollback when it did not.
type Hooks struct {
	mu     sync.Mutex
	fns    []Func
	closed bool
}

// OnCommit registers fn. It panics with ErrClosed when the unit of work is
// already finished: registering late is a programming error.
func (h *Hooks) OnCommit(fn Func) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		panic(ErrClosed)
	}
	h.fns = append(h.fns, fn)
}

// Len returns the number of pending hooks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

// Commit runs every registered hook in registration order. A failing hook does
// not prevent later hooks from running; all failures are joined in the
// returned error.
func (h *Hooks) Commit(ctx context.Context) error {
	fns := h.take()

	var errs []error
	for i, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("commit hook %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Rollback discards every registered hook.
func (h *Hooks) Rollback() {
	h.take()
}

func (h *Hooks) take() []Func {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := h.fns
	h.fns = nil
	h.closed = true
	return fns
}

// Run executes fn inside a standalone unit of work for callers that have no
// database transaction. Hooks registered by fn run after it returns nil and
// are discarded when it returns an error.
func Run(ctx context.Context, fn func(tc Context) error) error {
	var hooks Hooks
	if err := fn(&hooks); err != nil {
		hooks.Rollback()
		return err
	}
	return hooks.Commit(ctx)
}
