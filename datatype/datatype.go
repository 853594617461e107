// Package datatype bridges declared record field types and the wire
// types of each backend. Every declared type knows the column/field
// type name to emit per backend, how to turn a Go value into the value
// the backend stores, and how to read that stored value back.
package datatype

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Backend identifies one of the supported storage engines.
type Backend int

const (
	Sqlite Backend = iota
	MySQL
	Mongo
)

func (b Backend) String() string {
	switch b {
	case Sqlite:
		return "sqlite"
	case MySQL:
		return "mysql"
	case Mongo:
		return "mongo"
	default:
		return "unknown"
	}
}

// Relational reports whether the backend speaks SQL.
func (b Backend) Relational() bool {
	return b == Sqlite || b == MySQL
}

// SizeUnbounded is the max-size sentinel for fields without a bound.
const SizeUnbounded = 0

var (
	// ErrTypeMismatch is returned when a value's runtime type disagrees
	// with its declared field type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrDecode is returned when a stored value cannot be converted back
	// to its declared type.
	ErrDecode = errors.New("decode failed")
)

// RowView is a read-only view of one fetched row or document, keyed by
// column/field name, holding raw wire values.
type RowView interface {
	Get(column string) (any, bool)
}

// MapRow is the map-backed RowView used by all drivers.
type MapRow map[string]any

func (m MapRow) Get(column string) (any, bool) {
	v, ok := m[column]
	return v, ok
}

// DataType is one variant of the closed set of declared types.
type DataType interface {
	// String names the variant, for diagnostics.
	String() string

	// TypeName selects the column type identifier the backend's DDL
	// uses for this variant with the given size bound.
	TypeName(b Backend, maxSize int) string

	// ToWire converts a Go value into the backend's stored form.
	ToWire(v any, b Backend) (any, error)

	// FromWire reads the named column from a fetched row and converts
	// it back to the declared Go type.
	FromWire(row RowView, column string, b Backend) (any, error)
}

// The closed set. Anything not covered by a specific variant falls
// through to Default, which JSON-wraps the value.
var (
	Boolean DataType = booleanType{}
	Integer DataType = integerType{}
	Long    DataType = longType{}
	Float   DataType = floatType{}
	Double  DataType = doubleType{}
	String  DataType = stringType{}
	Default DataType = defaultType{}
)

// Of classifies a runtime value into its declared variant. Used when
// building queries without a field descriptor at hand.
func Of(v any) DataType {
	switch v.(type) {
	case bool:
		return Boolean
	case int32:
		return Integer
	case int, int64:
		return Long
	case float32:
		return Float
	case float64:
		return Double
	case string:
		return String
	default:
		return Default
	}
}

type booleanType struct{}

func (booleanType) String() string { return "boolean" }

func (booleanType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "INTEGER"
	case MySQL:
		return "TINYINT(2)"
	default:
		return "bool"
	}
}

func (booleanType) ToWire(v any, b Backend) (any, error) {
	val, ok := v.(bool)
	if !ok {
		return nil, mismatch("boolean", v)
	}
	if !b.Relational() {
		return val, nil
	}
	if val {
		return int64(1), nil
	}
	return int64(0), nil
}

func (booleanType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return false, nil
	}
	if !b.Relational() {
		val, ok := raw.(bool)
		if !ok {
			return nil, decodeErr("boolean", column, raw)
		}
		return val, nil
	}
	n, err := toInt64(raw)
	if err != nil {
		return nil, decodeErr("boolean", column, raw)
	}
	return n == 1, nil
}

type integerType struct{}

func (integerType) String() string { return "integer" }

func (integerType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "INTEGER"
	case MySQL:
		return "INT"
	default:
		return "int"
	}
}

func (integerType) ToWire(v any, b Backend) (any, error) {
	n, err := toInt64Strict(v)
	if err != nil {
		return nil, mismatch("integer", v)
	}
	if b == Mongo {
		return int32(n), nil
	}
	return n, nil
}

func (integerType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return int32(0), nil
	}
	n, err := toInt64(raw)
	if err != nil {
		return nil, decodeErr("integer", column, raw)
	}
	return int32(n), nil
}

type longType struct{}

func (longType) String() string { return "long" }

func (longType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "INTEGER"
	case MySQL:
		switch {
		case maxSize != SizeUnbounded && maxSize <= 64:
			return "BIT(64)"
		case maxSize != SizeUnbounded && maxSize <= 32767:
			return "SMALLINT(255)"
		default:
			return "BIGINT(255)"
		}
	default:
		return "long"
	}
}

func (longType) ToWire(v any, b Backend) (any, error) {
	n, err := toInt64Strict(v)
	if err != nil {
		return nil, mismatch("long", v)
	}
	return n, nil
}

func (longType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return int64(0), nil
	}
	n, err := toInt64(raw)
	if err != nil {
		return nil, decodeErr("long", column, raw)
	}
	return n, nil
}

type floatType struct{}

func (floatType) String() string { return "float" }

func (floatType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "REAL"
	case MySQL:
		return "DECIMAL(65)"
	default:
		return "double"
	}
}

func (floatType) ToWire(v any, b Backend) (any, error) {
	f, err := toFloat64Strict(v)
	if err != nil {
		return nil, mismatch("float", v)
	}
	return f, nil
}

func (floatType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return float32(0), nil
	}
	f, err := toFloat64(raw)
	if err != nil {
		return nil, decodeErr("float", column, raw)
	}
	return float32(f), nil
}

type doubleType struct{}

func (doubleType) String() string { return "double" }

func (doubleType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "REAL"
	case MySQL:
		return "DECIMAL(65)"
	default:
		return "double"
	}
}

func (doubleType) ToWire(v any, b Backend) (any, error) {
	f, err := toFloat64Strict(v)
	if err != nil {
		return nil, mismatch("double", v)
	}
	return f, nil
}

func (doubleType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return float64(0), nil
	}
	f, err := toFloat64(raw)
	if err != nil {
		return nil, decodeErr("double", column, raw)
	}
	return f, nil
}

type stringType struct{}

func (stringType) String() string { return "string" }

func (stringType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "TEXT"
	case MySQL:
		switch {
		case maxSize != SizeUnbounded && maxSize <= 255:
			return "CHAR(255)"
		case maxSize != SizeUnbounded && maxSize <= 65535:
			return fmt.Sprintf("VARCHAR(%d)", maxSize)
		default:
			return "LONGTEXT"
		}
	default:
		return "string"
	}
}

func (stringType) ToWire(v any, b Backend) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, mismatch("string", v)
	}
	return s, nil
}

func (stringType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return "", nil
	}
	s, err := toString(raw)
	if err != nil {
		return nil, decodeErr("string", column, raw)
	}
	return s, nil
}

// defaultType handles everything outside the primitive variants: nested
// structures, maps, slices. The value is wrapped as {"value": v} so the
// stored form is always a JSON object, and unwrapped on read. Stored
// text without the wrapper is rejected rather than guessed at.
type defaultType struct{}

func (defaultType) String() string { return "default" }

func (defaultType) TypeName(b Backend, maxSize int) string {
	switch b {
	case Sqlite:
		return "TEXT"
	case MySQL:
		return "LONGTEXT"
	default:
		return "document"
	}
}

func (defaultType) ToWire(v any, b Backend) (any, error) {
	wrapped := map[string]any{"value": v}
	if b == Mongo {
		return wrapped, nil
	}
	buf, err := json.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: default value is not serializable: %v", ErrTypeMismatch, err)
	}
	return string(buf), nil
}

func (defaultType) FromWire(row RowView, column string, b Backend) (any, error) {
	raw, ok := row.Get(column)
	if !ok || raw == nil {
		return nil, nil
	}
	var wrapped map[string]any
	if b == Mongo {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, decodeErr("default", column, raw)
		}
		wrapped = m
	} else {
		text, err := toString(raw)
		if err != nil {
			return nil, decodeErr("default", column, raw)
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: column %q does not hold a wrapped value: %v", ErrDecode, column, err)
		}
	}
	inner, ok := wrapped["value"]
	if !ok {
		return nil, fmt.Errorf("%w: column %q is missing the value key", ErrDecode, column)
	}
	return inner, nil
}

func mismatch(want string, got any) error {
	return fmt.Errorf("%w: declared %s, got %T", ErrTypeMismatch, want, got)
}

func decodeErr(want string, column string, got any) error {
	return fmt.Errorf("%w: column %q: cannot read %T as %s", ErrDecode, column, got, want)
}

// toInt64Strict accepts only integer widths; used on the write path
// where a wrong runtime type must surface as a mismatch.
func toInt64Strict(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

// toFloat64Strict accepts only float widths on the write path.
func toFloat64Strict(v any) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return 0, fmt.Errorf("not a float: %T", v)
	}
}

// toInt64 is the lenient read-path conversion; relational drivers hand
// integers back in several shapes, including numeric text.
func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseInt(string(t))
	case string:
		return parseInt(t)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

func parseInt(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case []byte:
		var f float64
		_, err := fmt.Sscanf(string(t), "%g", &f)
		return f, err
	case string:
		var f float64
		_, err := fmt.Sscanf(t, "%g", &f)
		return f, err
	default:
		return 0, fmt.Errorf("not a float: %T", v)
	}
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("not text: %T", v)
	}
}
