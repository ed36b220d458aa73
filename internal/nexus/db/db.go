// Package db is the local store of users, structures and memberships.
//
// It is the host side of the sync engine: every write goes through a Tx,
// which collects the remote actions decided by the sync models and runs them
// only once the SQL transaction has committed.
//
// Architecture:
//   - Database file: .nexus/nexus.db (sqlite, WAL mode)
//   - Schema: users, structures, memberships
//   - Writes: DB.Atomic -> Tx -> Query / Save* / Delete*
//   - Full sync: Sources streams eligible rows through forward-only cursors
//
// Example:
//
//	store, err := db.Open(".nexus/nexus.db", db.WithTargets(db.RemoteTargets(dispatcher)))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Atomic(ctx, func(tx *db.Tx) error {
//	    _, err := tx.Users().Where("t.email LIKE ?", "%@old.org").Update(ctx, map[string]any{"is_active": false})
//	    return err
//	})
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	nsync "github.com/itou-labs/nexus-sync/internal/nexus/sync"
)

// ErrNotFound is returned by Get when no row matches.
var ErrNotFound = errors.New("record not found")

// Targets receive the actions scheduled by each model after commit.
type Targets struct {
	Users       nsync.Target[*User]
	Structures  nsync.Target[*Structure]
	Memberships nsync.Target[*Membership]
}

// Option configures Open.
type Option func(*DB)

// WithTargets sets where committed changes are sent. Without it changes are
// tracked but dropped.
func WithTargets(t Targets) Option {
	return func(db *DB) { db.targets = t }
}

// WithChunkSize sets how many rows a set update refetches at once.
func WithChunkSize(n int) Option {
	return func(db *DB) { db.chunkSize = n }
}

// WithLogger sets the logger. The global zap logger is used otherwise.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(db *DB) { db.logger = l }
}

// DB wraps the sqlite connection and the sync models bound to it.
type DB struct {
	conn      *sql.DB
	path      string
	targets   Targets
	chunkSize int
	logger    *zap.SugaredLogger

	users       *table[*User]
	structures  *table[*Structure]
	memberships *table[*Membership]
}

// Open opens (and creates if needed) the database at path and initializes
// its schema. The caller must call Close.
func Open(path string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_txlock=immediate"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}
	for _, opt := range opts {
		opt(db)
	}
	if db.logger == nil {
		db.logger = zap.S()
	}
	db.logger = db.logger.Named("db")

	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.users = newUserTable(db.targets.Users, db.chunkSize)
	db.structures = newStructureTable(db.targets.Structures, db.chunkSize)
	db.memberships = newMembershipTable(db.targets.Memberships, db.chunkSize)
	return db, nil
}

// RawDB returns the underlying connection, for health checks and tooling.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.logger.Warnw("failed to checkpoint WAL", "error", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables if they don't exist. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_login TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS structures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT '',
		siret TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		structure_id INTEGER NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		is_active INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (structure_id) REFERENCES structures(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_memberships_user ON memberships(user_id);
	CREATE INDEX IF NOT EXISTS idx_memberships_structure ON memberships(structure_id);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Begin starts a transaction. Prefer Atomic.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{db: db, tx: tx}, nil
}

// Atomic runs fn in a transaction. The transaction rolls back when fn
// returns an error or panics; otherwise it commits and then runs the
// scheduled remote actions. An error from those actions is returned even
// though the data is committed.
func (db *DB) Atomic(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}
