package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/squishylib/database/console"
	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/query"
	"github.com/squishylib/database/record"
)

// SQLTable is the table-selection shared by the relational drivers.
// Statements are assembled mechanically from the record info with `?`
// wildcards; only the catalog queries differ per dialect. Conn is a
// provider rather than a handle so a reconnect swaps the connection
// under the selection.
type SQLTable struct {
	Conn func() *sql.DB
	Kind datatype.Backend
	Name string
	Info *record.Info
	Log  *console.Logger
}

var _ TableDriver = (*SQLTable)(nil)

// CreateTable emits CREATE TABLE IF NOT EXISTS with per-backend type
// names. A single primary column carries an inline PRIMARY KEY marker;
// a compound primary is emitted as one table-level clause.
func (t *SQLTable) CreateTable(ctx context.Context) error {
	primaries := t.Info.Primaries()
	var defs []string
	for _, f := range t.Info.Fields {
		def := f.Name + " " + f.Type.TypeName(t.Kind, f.MaxSize)
		if f.Primary && len(primaries) == 1 {
			def += " PRIMARY KEY"
		}
		if f.Foreign() {
			def += fmt.Sprintf(" REFERENCES %s(%s)", f.ForeignTable, f.ForeignColumn)
		}
		defs = append(defs, def)
	}
	if len(primaries) > 1 {
		names := make([]string, len(primaries))
		for i, f := range primaries {
			names[i] = f.Name
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(names, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", t.Name, strings.Join(defs, ", "))
	t.Log.Debug("ddl: %s", stmt)
	_, err := t.Conn().ExecContext(ctx, stmt)
	return WrapDriverError(t.Kind, "create_table", stmt, err)
}

// ListColumns reads the live column names from the dialect's catalog.
func (t *SQLTable) ListColumns(ctx context.Context) ([]string, error) {
	var stmt string
	var args []any
	switch t.Kind {
	case datatype.MySQL:
		stmt = "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position"
		args = []any{t.Name}
	default:
		stmt = fmt.Sprintf("SELECT name FROM pragma_table_info('%s')", t.Name)
	}

	rows, err := t.Conn().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, WrapDriverError(t.Kind, "list_columns", stmt, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, WrapDriverError(t.Kind, "list_columns", stmt, err)
		}
		columns = append(columns, name)
	}
	return columns, WrapDriverError(t.Kind, "list_columns", stmt, rows.Err())
}

// AddColumn issues the additive ALTER for one missing field.
func (t *SQLTable) AddColumn(ctx context.Context, f record.Field) error {
	def := f.Name + " " + f.Type.TypeName(t.Kind, f.MaxSize)
	if f.Foreign() {
		def += fmt.Sprintf(" REFERENCES %s(%s)", f.ForeignTable, f.ForeignColumn)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", t.Name, def)
	t.Log.Debug("ddl: %s", stmt)
	_, err := t.Conn().ExecContext(ctx, stmt)
	return WrapDriverError(t.Kind, "add_column", stmt, err)
}

func (t *SQLTable) columnList() string {
	names := make([]string, len(t.Info.Fields))
	for i, f := range t.Info.Fields {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}

func (t *SQLTable) selectStmt(q *query.Query) (string, []any, error) {
	stmt := fmt.Sprintf("SELECT %s FROM %s", t.columnList(), t.Name)
	if where := q.SQLWhere(); where != "" {
		stmt += " WHERE " + where
	}
	if order := q.GetOrder(); order != nil {
		stmt += " ORDER BY " + order.Key + " " + order.Direction.String()
	}
	if q.GetLimit() > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.GetLimit())
	}
	binders, err := q.Binders(t.Kind)
	if err != nil {
		return "", nil, err
	}
	return stmt, binders, nil
}

// FindFirst returns the first matching row decoded to declared values,
// or nil when nothing matches.
func (t *SQLTable) FindFirst(ctx context.Context, q *query.Query) (map[string]any, error) {
	rows, err := t.FindAll(ctx, cloneForFirst(q))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// cloneForFirst reuses FindAll with a hard limit of one without
// mutating the caller's query.
func cloneForFirst(q *query.Query) *query.Query {
	first := query.New().Limit(1)
	if q == nil {
		return first
	}
	for _, c := range q.Conditions() {
		first.Match(c.Key, c.Value)
	}
	if order := q.GetOrder(); order != nil {
		first.OrderBy(order.Key, order.Direction)
	}
	return first
}

// FindAll returns every matching row decoded to declared values.
func (t *SQLTable) FindAll(ctx context.Context, q *query.Query) ([]map[string]any, error) {
	stmt, binders, err := t.selectStmt(q)
	if err != nil {
		return nil, err
	}
	t.Log.Debug("query: %s %v", stmt, binders)

	rows, err := t.Conn().QueryContext(ctx, stmt, binders...)
	if err != nil {
		return nil, WrapDriverError(t.Kind, "find_all", stmt, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		raw := make([]any, len(t.Info.Fields))
		dest := make([]any, len(t.Info.Fields))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, WrapDriverError(t.Kind, "find_all", stmt, err)
		}
		view := datatype.MapRow{}
		for i, f := range t.Info.Fields {
			view[f.Name] = raw[i]
		}
		decoded, err := DecodeRow(t.Info, view, t.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, WrapDriverError(t.Kind, "find_all", stmt, rows.Err())
}

// Count returns the number of matching rows.
func (t *SQLTable) Count(ctx context.Context, q *query.Query) (int64, error) {
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Name)
	if where := q.SQLWhere(); where != "" {
		stmt += " WHERE " + where
	}
	binders, err := q.Binders(t.Kind)
	if err != nil {
		return 0, err
	}

	var count int64
	err = t.Conn().QueryRowContext(ctx, stmt, binders...).Scan(&count)
	return count, WrapDriverError(t.Kind, "count", stmt, err)
}

// InsertOrUpdate matches on primary-field equality: absent rows are
// inserted, present rows have their non-primary columns updated.
func (t *SQLTable) InsertOrUpdate(ctx context.Context, values map[string]any) error {
	primaryQuery, err := t.primaryQuery(values)
	if err != nil {
		return err
	}
	existing, err := t.FindFirst(ctx, primaryQuery)
	if err != nil {
		return err
	}
	if existing == nil {
		return t.insert(ctx, values)
	}
	return t.update(ctx, values, primaryQuery)
}

func (t *SQLTable) primaryQuery(values map[string]any) (*query.Query, error) {
	q := query.New()
	for _, f := range t.Info.Primaries() {
		v, ok := values[f.Name]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: primary field %q has no value", ErrInvalidState, f.Name)
		}
		q.Match(f.Name, v)
	}
	return q, nil
}

func (t *SQLTable) insert(ctx context.Context, values map[string]any) error {
	names := make([]string, 0, len(t.Info.Fields))
	marks := make([]string, 0, len(t.Info.Fields))
	args := make([]any, 0, len(t.Info.Fields))
	for _, f := range t.Info.Fields {
		wire, err := f.Type.ToWire(values[f.Name], t.Kind)
		if err != nil {
			return err
		}
		names = append(names, f.Name)
		marks = append(marks, "?")
		args = append(args, wire)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Name, strings.Join(names, ", "), strings.Join(marks, ", "))
	t.Log.Debug("query: %s", stmt)
	_, err := t.Conn().ExecContext(ctx, stmt, args...)
	return WrapDriverError(t.Kind, "insert", stmt, err)
}

func (t *SQLTable) update(ctx context.Context, values map[string]any, primaryQuery *query.Query) error {
	var sets []string
	var args []any
	for _, f := range t.Info.Fields {
		if f.Primary {
			continue
		}
		wire, err := f.Type.ToWire(values[f.Name], t.Kind)
		if err != nil {
			return err
		}
		sets = append(sets, f.Name+" = ?")
		args = append(args, wire)
	}
	if len(sets) == 0 {
		return nil
	}

	binders, err := primaryQuery.Binders(t.Kind)
	if err != nil {
		return err
	}
	args = append(args, binders...)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		t.Name, strings.Join(sets, ", "), primaryQuery.SQLWhere())
	t.Log.Debug("query: %s", stmt)
	_, err = t.Conn().ExecContext(ctx, stmt, args...)
	return WrapDriverError(t.Kind, "update", stmt, err)
}

// DeleteAll removes every matching row and reports whether any row was
// removed.
func (t *SQLTable) DeleteAll(ctx context.Context, q *query.Query) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s", t.Name)
	if where := q.SQLWhere(); where != "" {
		stmt += " WHERE " + where
	}
	binders, err := q.Binders(t.Kind)
	if err != nil {
		return false, err
	}
	t.Log.Debug("query: %s %v", stmt, binders)

	result, err := t.Conn().ExecContext(ctx, stmt, binders...)
	if err != nil {
		return false, WrapDriverError(t.Kind, "delete_all", stmt, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, WrapDriverError(t.Kind, "delete_all", stmt, err)
	}
	return affected > 0, nil
}

// DecodeRow converts one raw fetched row into declared Go values,
// field by field through the data-type bridge. Columns the record does
// not declare are ignored.
func DecodeRow(info *record.Info, row datatype.RowView, b datatype.Backend) (map[string]any, error) {
	out := make(map[string]any, len(info.Fields))
	for _, f := range info.Fields {
		v, err := f.Type.FromWire(row, f.Name, b)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}
