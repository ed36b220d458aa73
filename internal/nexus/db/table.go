package db

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	nsync "github.com/itou-labs/nexus-sync/internal/nexus/sync"
	"github.com/itou-labs/nexus-sync/internal/nexus/tracker"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// table describes how one record type maps onto sql. Queries alias the
// table as "t".
type table[R nsync.Record] struct {
	name     string
	columns  []string // writable columns, id excluded
	fields   string   // select list
	joins    string
	eligible string // rows a full sync sends
	scan     func(rowScanner) (R, error)
	id       func(R) int64
	setID    func(R, int64)
	model    *nsync.Model[R]
}

func (t *table[R]) selectFrom() string {
	return "SELECT " + t.fields + " FROM " + t.name + " t" + t.joins
}

// column resolves a field or relation name to a writable column.
func (t *table[R]) column(name string) (string, error) {
	if scalar, ok := t.model.Relations[name]; ok {
		name = scalar
	}
	if !slices.Contains(t.columns, name) {
		return "", fmt.Errorf("%s has no column %q", t.name, name)
	}
	return name, nil
}

type nopTarget[R nsync.Record] struct{}

func (nopTarget[R]) SyncRecords(context.Context, []R) error        { return nil }
func (nopTarget[R]) DeleteRecords(context.Context, []string) error { return nil }

func newModel[R nsync.Record](name string, tracked []string, relations map[string]string, target nsync.Target[R], chunkSize int) *nsync.Model[R] {
	if target == nil {
		target = nopTarget[R]{}
	}
	return &nsync.Model[R]{
		Name:          name,
		TrackedFields: tracked,
		Relations:     relations,
		Target:        target,
		ChunkSize:     chunkSize,
	}
}

const (
	userFields      = "t.id, t.email, t.first_name, t.last_name, t.kind, t.is_active, t.last_login"
	structureFields = "t.id, t.name, t.kind, t.siret, t.is_active"
)

func scanUser(s rowScanner) (*User, error) {
	var u User
	if err := s.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Kind, &u.IsActive, &u.LastLogin); err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	tracker.Capture(&u, userTracked)
	return &u, nil
}

func scanStructure(s rowScanner) (*Structure, error) {
	var st Structure
	if err := s.Scan(&st.ID, &st.Name, &st.Kind, &st.Siret, &st.IsActive); err != nil {
		return nil, fmt.Errorf("failed to scan structure: %w", err)
	}
	tracker.Capture(&st, structureTracked)
	return &st, nil
}

func scanMembership(s rowScanner) (*Membership, error) {
	var (
		m  Membership
		u  User
		st Structure
	)
	err := s.Scan(
		&m.ID, &m.UserID, &m.StructureID, &m.Role, &m.IsActive,
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Kind, &u.IsActive, &u.LastLogin,
		&st.ID, &st.Name, &st.Kind, &st.Siret, &st.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	tracker.Capture(&u, userTracked)
	tracker.Capture(&st, structureTracked)
	m.User, m.Structure = &u, &st
	tracker.Capture(&m, membershipTracked)
	return &m, nil
}

func newUserTable(target nsync.Target[*User], chunkSize int) *table[*User] {
	return &table[*User]{
		name:     "users",
		columns:  userColumns,
		fields:   userFields,
		eligible: "t.is_active = 1 AND t.email != ''",
		scan:     scanUser,
		id:       func(u *User) int64 { return u.ID },
		setID:    func(u *User, id int64) { u.ID = id },
		model:    newModel("user", userTracked, nil, target, chunkSize),
	}
}

func newStructureTable(target nsync.Target[*Structure], chunkSize int) *table[*Structure] {
	return &table[*Structure]{
		name:     "structures",
		columns:  structureTracked,
		fields:   structureFields,
		eligible: "t.is_active = 1",
		scan:     scanStructure,
		id:       func(s *Structure) int64 { return s.ID },
		setID:    func(s *Structure, id int64) { s.ID = id },
		model:    newModel("structure", structureTracked, nil, target, chunkSize),
	}
}

func newMembershipTable(target nsync.Target[*Membership], chunkSize int) *table[*Membership] {
	relations := map[string]string{"user": "user_id", "structure": "structure_id"}
	return &table[*Membership]{
		name:    "memberships",
		columns: membershipTracked,
		fields: "t.id, t.user_id, t.structure_id, t.role, t.is_active, " +
			"u.id, u.email, u.first_name, u.last_name, u.kind, u.is_active, u.last_login, " +
			"s.id, s.name, s.kind, s.siret, s.is_active",
		joins:    " JOIN users u ON u.id = t.user_id JOIN structures s ON s.id = t.structure_id",
		eligible: "t.is_active = 1 AND u.is_active = 1 AND s.is_active = 1",
		scan:     scanMembership,
		id:       func(m *Membership) int64 { return m.ID },
		setID:    func(m *Membership, id int64) { m.ID = id },
		model:    newModel("membership", membershipTracked, relations, target, chunkSize),
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func rowValues[R nsync.Record](t *table[R], r R) []any {
	values := make([]any, len(t.columns))
	for i, c := range t.columns {
		values[i] = r.Field(c)
	}
	return values
}

func insertRow[R nsync.Record](ctx context.Context, tx *Tx, t *table[R], r R, verb, conflict string) (int64, error) {
	cols := append([]string{"id"}, t.columns...)
	args := append([]any{nullID(t.id(r))}, rowValues(t, r)...)
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)%s",
		verb, t.name, strings.Join(cols, ", "), placeholders(len(cols)), conflict)

	res, err := tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s: %w", t.model.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if t.id(r) == 0 && n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		t.setID(r, id)
	}
	return n, nil
}

func updateRow[R nsync.Record](ctx context.Context, tx *Tx, t *table[R], r R, columns []string) (int64, error) {
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, c := range columns {
		sets[i] = c + " = ?"
		args = append(args, r.Field(c))
	}
	args = append(args, t.id(r))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", t.name, strings.Join(sets, ", "))
	res, err := tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s %d: %w", t.model.Name, t.id(r), err)
	}
	return res.RowsAffected()
}

func save[R nsync.Record](ctx context.Context, tx *Tx, t *table[R], r R) error {
	return t.model.Save(ctx, tx, r, func(ctx context.Context) error {
		if tracker.Persisted(r) {
			n, err := updateRow(ctx, tx, t, r, t.columns)
			if err != nil || n > 0 {
				return err
			}
			// The row is gone, e.g. its insert was rolled back. Store it
			// again as a new record.
			tracker.Reset(r)
		}
		_, err := insertRow(ctx, tx, t, r, "INSERT", "")
		return err
	})
}

func remove[R nsync.Record](ctx context.Context, tx *Tx, t *table[R], r R) error {
	return t.model.Remove(ctx, tx, r, func(ctx context.Context) error {
		query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name)
		if _, err := tx.tx.ExecContext(ctx, query, t.id(r)); err != nil {
			return fmt.Errorf("failed to delete %s %d: %w", t.model.Name, t.id(r), err)
		}
		return nil
	})
}

// Query is a filtered set of records inside a transaction. Writes through a
// Query are reconciled with the remote directory on commit.
type Query[R nsync.Record] struct {
	tx    *Tx
	table *table[R]
	conds []string
	args  []any
}

// Where narrows the query with a sql condition over alias t (memberships
// also expose u and s for the joined user and structure).
func (q *Query[R]) Where(cond string, args ...any) *Query[R] {
	next := *q
	next.conds = append(slices.Clone(q.conds), "("+cond+")")
	next.args = append(slices.Clone(q.args), args...)
	return &next
}

func (q *Query[R]) where() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

func (q *Query[R]) matching() string {
	return "SELECT t.id FROM " + q.table.name + " t" + q.table.joins + q.where()
}

// All returns the matching records ordered by id.
func (q *Query[R]) All(ctx context.Context) ([]R, error) {
	rows, err := q.tx.tx.QueryContext(ctx, q.table.selectFrom()+q.where()+" ORDER BY t.id", q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.table.name, err)
	}
	defer rows.Close()

	var out []R
	for rows.Next() {
		r, err := q.table.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns the record with the given id.
func (q *Query[R]) Get(ctx context.Context, id int64) (R, error) {
	var zero R
	records, err := q.Where("t.id = ?", id).All(ctx)
	if err != nil {
		return zero, err
	}
	if len(records) == 0 {
		return zero, fmt.Errorf("%s %d: %w", q.table.model.Name, id, ErrNotFound)
	}
	return records[0], nil
}

// Count returns the number of matching records.
func (q *Query[R]) Count(ctx context.Context) (int, error) {
	var n int
	query := "SELECT COUNT(*) FROM " + q.table.name + " t" + q.table.joins + q.where()
	if err := q.tx.tx.QueryRowContext(ctx, query, q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.table.name, err)
	}
	return n, nil
}

// Update sets values on every matching row. Keys are column names or
// relation names ("user", "structure") whose value is the related record
// or its id.
func (q *Query[R]) Update(ctx context.Context, values map[string]any) (int64, error) {
	return q.table.model.Update(ctx, q.tx, rowSet[R]{q}, values)
}

// Delete deletes every matching row.
func (q *Query[R]) Delete(ctx context.Context) (int64, error) {
	return q.table.model.DeleteAll(ctx, q.tx, rowSet[R]{q})
}

// BulkUpdate writes fields of each record.
func (q *Query[R]) BulkUpdate(ctx context.Context, records []R, fields []string) (int64, error) {
	return q.table.model.BulkUpdate(ctx, q.tx, rowSet[R]{q}, records, fields)
}

// BulkCreate inserts records without reconciliation. It fails with
// sync.ErrUnsupported unless opts.SkipSync is set.
func (q *Query[R]) BulkCreate(ctx context.Context, records []R, opts nsync.BulkOptions) (int64, error) {
	return q.table.model.BulkCreate(ctx, rowSet[R]{q}, records, opts)
}

// rowSet is the raw, unreconciled view of a Query used by the sync model.
type rowSet[R nsync.Record] struct {
	q *Query[R]
}

func (s rowSet[R]) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.tx.tx.QueryContext(ctx, s.q.matching()+" ORDER BY t.id", s.q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s ids: %w", s.q.table.name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return ids, rows.Err()
}

func (s rowSet[R]) Update(ctx context.Context, values map[string]any) (int64, error) {
	t := s.q.table
	keys := slices.Sorted(maps.Keys(values))
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+len(s.q.args))
	for i, k := range keys {
		col, err := t.column(k)
		if err != nil {
			return 0, err
		}
		sets[i] = col + " = ?"
		args = append(args, relationValue(values[k]))
	}
	args = append(args, s.q.args...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id IN (%s)", t.name, strings.Join(sets, ", "), s.q.matching())
	res, err := s.q.tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", t.name, err)
	}
	return res.RowsAffected()
}

func relationValue(v any) any {
	switch v := v.(type) {
	case *User:
		if v == nil {
			return nil
		}
		return v.ID
	case *Structure:
		if v == nil {
			return nil
		}
		return v.ID
	}
	return v
}

func (s rowSet[R]) UpdateRecords(ctx context.Context, records []R, fields []string) (int64, error) {
	columns := make([]string, len(fields))
	for i, f := range fields {
		col, err := s.q.table.column(f)
		if err != nil {
			return 0, err
		}
		columns[i] = col
	}

	var total int64
	for _, r := range records {
		n, err := updateRow(ctx, s.q.tx, s.q.table, r, columns)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s rowSet[R]) Delete(ctx context.Context) (int64, error) {
	t := s.q.table
	query := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", t.name, s.q.matching())
	res, err := s.q.tx.tx.ExecContext(ctx, query, s.q.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", t.name, err)
	}
	return res.RowsAffected()
}

// Fetch loads ids regardless of the query filter, in the order given.
func (s rowSet[R]) Fetch(ctx context.Context, ids []string) ([]R, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t := s.q.table
	args := make([]any, len(ids))
	for i, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s id %q: %w", t.model.Name, id, err)
		}
		args[i] = n
	}

	query := t.selectFrom() + " WHERE t.id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.q.tx.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", t.name, err)
	}
	defer rows.Close()

	byID := make(map[string]R, len(ids))
	for rows.Next() {
		r, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		byID[r.SyncID()] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]R, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s rowSet[R]) Insert(ctx context.Context, records []R, opts nsync.BulkOptions) (int64, error) {
	t := s.q.table
	verb, conflict := "INSERT", ""
	switch {
	case opts.IgnoreConflicts:
		verb = "INSERT OR IGNORE"
	case opts.UpdateConflicts:
		updates := make([]string, len(t.columns))
		for i, c := range t.columns {
			updates[i] = c + " = excluded." + c
		}
		conflict = " ON CONFLICT(id) DO UPDATE SET " + strings.Join(updates, ", ")
	}

	var total int64
	for _, r := range records {
		n, err := insertRow(ctx, s.q.tx, t, r, verb, conflict)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

var _ nsync.Set[*User] = rowSet[*User]{}
