// Package query models the uniform filter accepted by every backend:
// a conjunction of equality patterns with an optional limit and
// ordering directive. Relational drivers render it into a WHERE
// fragment with positional wildcards; the document driver consumes the
// pattern list directly.
package query

import (
	"strconv"
	"strings"

	"github.com/squishylib/database/datatype"
	"github.com/squishylib/database/record"
)

// Direction orders results on the order-by key.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Condition is one equality pattern.
type Condition struct {
	Key   string
	Value any

	// dataType is resolved once, either from a field descriptor or by
	// classifying the value, and reused for binding.
	dataType datatype.DataType
}

// Order is the optional ordering directive.
type Order struct {
	Key       string
	Direction Direction
}

// Query is an ordered conjunction of equality patterns. Pattern order
// defines wildcard binding order. The zero value is an empty query,
// which is what New returns.
type Query struct {
	conditions []Condition
	limit      int
	order      *Order
}

func New() *Query {
	return &Query{}
}

// Match adds an equality pattern, or overwrites the value of an
// existing pattern in place.
func (q *Query) Match(key string, value any) *Query {
	for i := range q.conditions {
		if q.conditions[i].Key == key {
			q.conditions[i].Value = value
			q.conditions[i].dataType = datatype.Of(value)
			return q
		}
	}
	q.conditions = append(q.conditions, Condition{
		Key:      key,
		Value:    value,
		dataType: datatype.Of(value),
	})
	return q
}

// MatchPool adds equality patterns for every primary field in the
// pool, carrying each field's declared type.
func (q *Query) MatchPool(pool *record.Pool) *Query {
	for _, e := range pool.Entries() {
		q.Match(e.Field.Name, e.Value)
		for i := range q.conditions {
			if q.conditions[i].Key == e.Field.Name {
				q.conditions[i].dataType = e.Field.Type
			}
		}
	}
	return q
}

// Limit caps the number of returned records. Non-positive values mean
// no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// OrderBy sets the ordering directive.
func (q *Query) OrderBy(key string, dir Direction) *Query {
	q.order = &Order{Key: key, Direction: dir}
	return q
}

// Empty reports whether the query has no patterns.
func (q *Query) Empty() bool {
	return q == nil || len(q.conditions) == 0
}

// Conditions returns the patterns in binding order.
func (q *Query) Conditions() []Condition {
	if q == nil {
		return nil
	}
	return q.conditions
}

// GetLimit returns the limit, or 0 when unset.
func (q *Query) GetLimit() int {
	if q == nil {
		return 0
	}
	return q.limit
}

// GetOrder returns the ordering directive, or nil when unset.
func (q *Query) GetOrder() *Order {
	if q == nil {
		return nil
	}
	return q.order
}

// SQLWhere renders "k1 = ? AND k2 = ?", or the empty string for an
// empty query. The fragment carries no WHERE keyword.
func (q *Query) SQLWhere() string {
	if q.Empty() {
		return ""
	}
	parts := make([]string, 0, len(q.conditions))
	for _, c := range q.conditions {
		parts = append(parts, c.Key+" = ?")
	}
	return strings.Join(parts, " AND ")
}

// Binders converts the pattern values into wire values in binding
// order. Each value's data type is looked up exactly once, at the time
// the pattern was added.
func (q *Query) Binders(b datatype.Backend) ([]any, error) {
	if q.Empty() {
		return nil, nil
	}
	out := make([]any, 0, len(q.conditions))
	for _, c := range q.conditions {
		wire, err := c.dataType.ToWire(c.Value, b)
		if err != nil {
			return nil, err
		}
		out = append(out, wire)
	}
	return out, nil
}

// SQLSuffix renders the ORDER BY and LIMIT clauses, with a leading
// space, or the empty string when neither is set.
func (q *Query) SQLSuffix() string {
	if q == nil {
		return ""
	}
	var sb strings.Builder
	if q.order != nil {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(q.order.Key)
		sb.WriteString(" ")
		sb.WriteString(q.order.Direction.String())
	}
	if q.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.limit))
	}
	return sb.String()
}

// DocumentFilter converts the patterns into wire-valued equality
// predicates for the document backend.
func (q *Query) DocumentFilter(b datatype.Backend) ([]Condition, error) {
	if q.Empty() {
		return nil, nil
	}
	out := make([]Condition, 0, len(q.conditions))
	for _, c := range q.conditions {
		wire, err := c.dataType.ToWire(c.Value, b)
		if err != nil {
			return nil, err
		}
		out = append(out, Condition{Key: c.Key, Value: wire})
	}
	return out, nil
}
