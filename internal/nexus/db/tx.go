package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/itou-labs/nexus-sync/internal/nexus/txn"
)

// Tx is a database transaction that also collects post-commit hooks. It
// implements txn.Context.
type Tx struct {
	db    *DB
	tx    *sql.Tx
	hooks txn.Hooks
}

// OnCommit registers fn to run after a successful Commit.
func (tx *Tx) OnCommit(fn txn.Func) {
	tx.hooks.OnCommit(fn)
}

// Pending returns the number of hooks waiting for Commit.
func (tx *Tx) Pending() int {
	return tx.hooks.Len()
}

// Commit commits the transaction, then runs the hooks in registration order.
func (tx *Tx) Commit(ctx context.Context) error {
	if err := tx.tx.Commit(); err != nil {
		tx.hooks.Rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if err := tx.hooks.Commit(ctx); err != nil {
		tx.db.logger.Errorw("post-commit sync failed", "error", err)
		return fmt.Errorf("post-commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and discards the hooks.
func (tx *Tx) Rollback() error {
	tx.hooks.Rollback()
	if err := tx.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// Users starts a query over every user.
func (tx *Tx) Users() *Query[*User] {
	return &Query[*User]{tx: tx, table: tx.db.users}
}

// Structures starts a query over every structure.
func (tx *Tx) Structures() *Query[*Structure] {
	return &Query[*Structure]{tx: tx, table: tx.db.structures}
}

// Memberships starts a query over every membership, with its user and
// structure loaded.
func (tx *Tx) Memberships() *Query[*Membership] {
	return &Query[*Membership]{tx: tx, table: tx.db.memberships}
}

// SaveUser inserts or updates u.
func (tx *Tx) SaveUser(ctx context.Context, u *User) error {
	return save(ctx, tx, tx.db.users, u)
}

// DeleteUser deletes u. Its memberships are removed by cascade.
func (tx *Tx) DeleteUser(ctx context.Context, u *User) error {
	return remove(ctx, tx, tx.db.users, u)
}

// SaveStructure inserts or updates s.
func (tx *Tx) SaveStructure(ctx context.Context, s *Structure) error {
	return save(ctx, tx, tx.db.structures, s)
}

// DeleteStructure deletes s. Its memberships are removed by cascade.
func (tx *Tx) DeleteStructure(ctx context.Context, s *Structure) error {
	return remove(ctx, tx, tx.db.structures, s)
}

// SaveMembership inserts or updates m. m.User and m.Structure must be set.
func (tx *Tx) SaveMembership(ctx context.Context, m *Membership) error {
	return save(ctx, tx, tx.db.memberships, m)
}

// DeleteMembership deletes m.
func (tx *Tx) DeleteMembership(ctx context.Context, m *Membership) error {
	return remove(ctx, tx, tx.db.memberships, m)
}
