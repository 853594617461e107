package database

import (
	"context"
	"fmt"
	"reflect"

	"github.com/squishylib/database/config"
	"github.com/squishylib/database/query"
	"github.com/squishylib/database/record"
)

// Factory builds an empty record from a primary-field pool. Only
// primary attributes are expected to be initialized; the decoder fills
// the rest afterwards.
type Factory[R any] func(pool *record.Pool) (R, error)

// Table binds a declared record type to a named table or collection of
// a database and forwards every operation to the backend through the
// database's request queue.
//
// The table name is substituted into statements without escaping and
// must come from the administrator, never from callers.
type Table[R any] struct {
	name    string
	db      *Database
	info    *record.Info
	factory Factory[R]
}

// NewTable registers a table binding for record type R, which must be
// a pointer to an annotated struct. The default empty-record factory
// allocates R and applies the pool to its primary attributes; replace
// it with Factory when construction needs more than that.
func NewTable[R any](db *Database, name string) (*Table[R], error) {
	var zero R
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: table %q: record type must be a pointer to struct, got %T", ErrInvalidState, name, zero)
	}
	info, err := record.InspectType(t.Elem())
	if err != nil {
		return nil, err
	}

	table := &Table[R]{
		name: name,
		db:   db,
		info: info,
		factory: func(pool *record.Pool) (R, error) {
			rec := reflect.New(t.Elem()).Interface().(R)
			if err := pool.ApplyTo(rec); err != nil {
				var zero R
				return zero, err
			}
			return rec, nil
		},
	}
	db.registerTable(name, info)
	return table, nil
}

// Factory replaces the empty-record factory.
func (t *Table[R]) Factory(factory Factory[R]) *Table[R] {
	t.factory = factory
	return t
}

// Name returns the bound table name.
func (t *Table[R]) Name() string {
	return t.name
}

// Info returns the cached record description.
func (t *Table[R]) Info() *record.Info {
	return t.info
}

// selection builds a fresh backend table-selection for this binding.
func (t *Table[R]) selection() TableDriver {
	return t.db.driver.Table(t.name, t.info)
}

// Create reconciles the schema: the table is created if absent,
// otherwise missing declared columns are added. Returns true when the
// table was created. Creating an existing table is a no-op.
func (t *Table[R]) Create() *Future[bool] {
	return submit(t.db, func(ctx context.Context) (bool, error) {
		return t.db.reconcileTable(ctx, t.name, t.info)
	})
}

// Exists probes the backend for the table.
func (t *Table[R]) Exists() *Future[bool] {
	return submit(t.db, func(ctx context.Context) (bool, error) {
		return t.db.driver.HasTable(ctx, t.name)
	})
}

// FindFirst returns the first matching record, or the zero R when
// nothing matches. A nil query matches everything.
func (t *Table[R]) FindFirst(q *query.Query) *Future[R] {
	return submit(t.db, func(ctx context.Context) (R, error) {
		var zero R
		row, err := t.selection().FindFirst(ctx, q)
		if err != nil || row == nil {
			return zero, err
		}
		return t.decode(row)
	})
}

// FindAll returns every matching record. A nil query matches
// everything.
func (t *Table[R]) FindAll(q *query.Query) *Future[[]R] {
	return submit(t.db, func(ctx context.Context) ([]R, error) {
		rows, err := t.selection().FindAll(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]R, 0, len(rows))
		for _, row := range rows {
			rec, err := t.decode(row)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	})
}

// Count returns the number of matching records.
func (t *Table[R]) Count(q *query.Query) *Future[int64] {
	return submit(t.db, func(ctx context.Context) (int64, error) {
		return t.selection().Count(ctx, q)
	})
}

// InsertOrUpdate stores the record, matching on primary-field
// equality: a new row is inserted, an existing one updated.
func (t *Table[R]) InsertOrUpdate(rec R) *Future[bool] {
	return submit(t.db, func(ctx context.Context) (bool, error) {
		if _, err := t.info.Pool(rec); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		values, err := t.info.Values(rec)
		if err != nil {
			return false, err
		}
		if err := t.selection().InsertOrUpdate(ctx, values); err != nil {
			return false, err
		}
		return true, nil
	})
}

// DeleteAll removes every matching record and reports whether any
// record was removed.
func (t *Table[R]) DeleteAll(q *query.Query) *Future[bool] {
	return submit(t.db, func(ctx context.Context) (bool, error) {
		return t.selection().DeleteAll(ctx, q)
	})
}

// decode turns one decoded row into a record: the factory receives the
// primary pool, then the remaining values are applied from a section
// built over the row.
func (t *Table[R]) decode(row map[string]any) (R, error) {
	var zero R
	pool := t.info.PoolFromRow(row)
	rec, err := t.factory(pool)
	if err != nil {
		return zero, err
	}
	if err := t.info.Apply(rec, config.FromMap(row)); err != nil {
		return zero, err
	}
	return rec, nil
}
