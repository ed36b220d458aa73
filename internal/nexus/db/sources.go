package db

import (
	"context"
	"fmt"
	"iter"

	"github.com/itou-labs/nexus-sync/internal/nexus/api"
	"github.com/itou-labs/nexus-sync/internal/nexus/batch"
	"github.com/itou-labs/nexus-sync/internal/nexus/fullsync"
	nsync "github.com/itou-labs/nexus-sync/internal/nexus/sync"
)

// RemoteTargets sends committed changes to the remote directory through d.
func RemoteTargets(d *batch.Dispatcher) Targets {
	return Targets{
		Users: &nsync.RemoteTarget[*User]{
			Collection: api.Users,
			Serialize:  func(u *User) any { return SerializeUser(u) },
			Dispatcher: d,
		},
		Structures: &nsync.RemoteTarget[*Structure]{
			Collection: api.Structures,
			Serialize:  func(s *Structure) any { return SerializeStructure(s) },
			Dispatcher: d,
		},
		Memberships: &nsync.RemoteTarget[*Membership]{
			Collection: api.Memberships,
			Serialize:  func(m *Membership) any { return SerializeMembership(m) },
			Dispatcher: d,
		},
	}
}

// Sources returns the full-sync sources in remote dependency order:
// structures, then users, then memberships. Each streams the rows that
// would sync remotely, ordered by id.
func (db *DB) Sources() []fullsync.Source {
	return []fullsync.Source{
		{Collection: api.Structures, Records: stream(db, db.structures, func(s *Structure) any { return SerializeStructure(s) })},
		{Collection: api.Users, Records: stream(db, db.users, func(u *User) any { return SerializeUser(u) })},
		{Collection: api.Memberships, Records: stream(db, db.memberships, func(m *Membership) any { return SerializeMembership(m) })},
	}
}

// stream reads through a single query so the run sees one consistent
// snapshot while holding one row at a time.
func stream[R nsync.Record](db *DB, t *table[R], serialize func(R) any) func(context.Context) iter.Seq2[any, error] {
	return func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			query := t.selectFrom() + " WHERE " + t.eligible + " ORDER BY t.id"
			rows, err := db.conn.QueryContext(ctx, query)
			if err != nil {
				yield(nil, fmt.Errorf("failed to stream %s: %w", t.name, err))
				return
			}
			defer rows.Close()

			for rows.Next() {
				r, err := t.scan(rows)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(serialize(r), nil) {
					return
				}
			}
			if err := rows.Err(); err != nil {
				yield(nil, fmt.Errorf("failed to stream %s: %w", t.name, err))
			}
		}
	}
}
