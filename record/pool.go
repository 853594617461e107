package record

import (
	"fmt"
	"reflect"
)

// PoolEntry is one primary field together with its current value.
type PoolEntry struct {
	Field Field
	Value any
}

// Pool identifies a record by its primary fields without holding the
// record itself. Decoders hand it to the empty-record factory so
// primary attributes can be initialized before the rest of the row is
// applied.
type Pool struct {
	entries []PoolEntry
}

// NewPool builds a pool from explicit entries, preserving order.
func NewPool(entries ...PoolEntry) *Pool {
	return &Pool{entries: entries}
}

// Pool extracts the primary pool of a record instance. Primary values
// must be non-zero; a record with an unset primary cannot be stored or
// matched.
func (i *Info) Pool(rec any) (*Pool, error) {
	section, err := i.ToSection(rec)
	if err != nil {
		return nil, err
	}
	var entries []PoolEntry
	for _, f := range i.Fields {
		if !f.Primary {
			continue
		}
		value, _ := section.Get(f.Name)
		if value == nil || reflect.ValueOf(value).IsZero() {
			return nil, fmt.Errorf("record: primary field %q is unset", f.Name)
		}
		entries = append(entries, PoolEntry{Field: f, Value: value})
	}
	return &Pool{entries: entries}, nil
}

// PoolFromRow builds a pool by reading this type's primary columns out
// of a decoded row.
func (i *Info) PoolFromRow(row map[string]any) *Pool {
	var entries []PoolEntry
	for _, f := range i.Fields {
		if !f.Primary {
			continue
		}
		entries = append(entries, PoolEntry{Field: f, Value: row[f.Name]})
	}
	return &Pool{entries: entries}
}

// Entries returns the pool's pairs in declaration order.
func (p *Pool) Entries() []PoolEntry {
	return p.entries
}

// Get returns the value stored for a primary field name.
func (p *Pool) Get(name string) (any, bool) {
	for _, e := range p.entries {
		if e.Field.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of primary fields in the pool.
func (p *Pool) Len() int {
	return len(p.entries)
}

// ApplyTo writes the pool's values into a record instance's primary
// attributes. Used by default empty-record factories.
func (p *Pool) ApplyTo(rec any) error {
	info, err := Inspect(rec)
	if err != nil {
		return err
	}
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("record: ApplyTo needs a non-nil pointer, got %T", rec)
	}
	elem := v.Elem()
	for _, e := range p.entries {
		f, ok := info.Field(e.Field.Name)
		if !ok {
			continue
		}
		if e.Value == nil {
			continue
		}
		if err := assign(elem.FieldByIndex(f.index), e.Value); err != nil {
			return fmt.Errorf("record: primary field %q: %w", f.Name, err)
		}
	}
	return nil
}
