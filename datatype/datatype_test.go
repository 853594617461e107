package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeNames(t *testing.T) {
	tests := []struct {
		dt      DataType
		backend Backend
		size    int
		want    string
	}{
		{Boolean, Sqlite, SizeUnbounded, "INTEGER"},
		{Boolean, MySQL, SizeUnbounded, "TINYINT(2)"},
		{Integer, Sqlite, SizeUnbounded, "INTEGER"},
		{Integer, MySQL, SizeUnbounded, "INT"},
		{Long, Sqlite, SizeUnbounded, "INTEGER"},
		{Long, MySQL, 64, "BIT(64)"},
		{Long, MySQL, 1000, "SMALLINT(255)"},
		{Long, MySQL, SizeUnbounded, "BIGINT(255)"},
		{Float, MySQL, SizeUnbounded, "DECIMAL(65)"},
		{Double, Sqlite, SizeUnbounded, "REAL"},
		{String, Sqlite, 255, "TEXT"},
		{String, MySQL, 200, "CHAR(255)"},
		{String, MySQL, 1000, "VARCHAR(1000)"},
		{String, MySQL, SizeUnbounded, "LONGTEXT"},
		{Default, Sqlite, SizeUnbounded, "TEXT"},
		{Default, MySQL, SizeUnbounded, "LONGTEXT"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.dt.TypeName(tc.backend, tc.size),
			"%s on %s size %d", tc.dt, tc.backend, tc.size)
	}
}

func TestBooleanWire(t *testing.T) {
	// Relational backends only know integers.
	v, err := Boolean.ToWire(true, Sqlite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	v, err = Boolean.ToWire(false, MySQL)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	// The document backend keeps the native bool.
	v, err = Boolean.ToWire(true, Mongo)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	got, err := Boolean.FromWire(MapRow{"b": int64(1)}, "b", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, true, got)
	got, err = Boolean.FromWire(MapRow{"b": int64(0)}, "b", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, false, got)

	// Anything other than 1 reads as false.
	got, err = Boolean.FromWire(MapRow{"b": int64(7)}, "b", MySQL)
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestTypeMismatch(t *testing.T) {
	_, err := Boolean.ToWire("yes", Sqlite)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = String.ToWire(42, Sqlite)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = Long.ToWire("42", Sqlite)
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = Double.ToWire(7, Sqlite)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestIntegerWidening(t *testing.T) {
	// Widening among integer widths is allowed.
	v, err := Long.ToWire(int32(7), Sqlite)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	v, err = Integer.ToWire(7, Mongo)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
}

func TestRoundTripNumerics(t *testing.T) {
	v, err := Long.ToWire(int64(42), Sqlite)
	require.NoError(t, err)
	got, err := Long.FromWire(MapRow{"n": v}, "n", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	f, err := Double.ToWire(2.5, MySQL)
	require.NoError(t, err)
	got, err = Double.FromWire(MapRow{"f": f}, "f", MySQL)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	got, err = Float.FromWire(MapRow{"f": 1.5}, "f", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), got)
}

func TestTextDecoding(t *testing.T) {
	// database/sql hands TEXT back as []byte.
	got, err := String.FromWire(MapRow{"s": []byte("hello")}, "s", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestMissingAndNullColumns(t *testing.T) {
	got, err := String.FromWire(MapRow{}, "s", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	got, err = Long.FromWire(MapRow{"n": nil}, "n", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestDefaultWrapping(t *testing.T) {
	v, err := Default.ToWire(map[string]any{"a": 1}, Sqlite)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":{"a":1}}`, v.(string))

	got, err := Default.FromWire(MapRow{"m": v}, "m", Sqlite)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, got)

	// The document backend stores the wrapper natively.
	v, err = Default.ToWire([]string{"x"}, Mongo)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": []string{"x"}}, v)
}

func TestDefaultRejectsUnwrapped(t *testing.T) {
	// Text that is not a JSON object fails.
	_, err := Default.FromWire(MapRow{"m": "not json"}, "m", Sqlite)
	assert.ErrorIs(t, err, ErrDecode)

	// A valid object without the value key fails too, rather than
	// yielding a silently wrong value.
	_, err = Default.FromWire(MapRow{"m": `{"other": 1}`}, "m", Sqlite)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = Default.FromWire(MapRow{"m": map[string]any{"other": 1}}, "m", Mongo)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestOf(t *testing.T) {
	assert.Equal(t, Boolean, Of(true))
	assert.Equal(t, Integer, Of(int32(1)))
	assert.Equal(t, Long, Of(1))
	assert.Equal(t, Long, Of(int64(1)))
	assert.Equal(t, Float, Of(float32(1)))
	assert.Equal(t, Double, Of(1.0))
	assert.Equal(t, String, Of("s"))
	assert.Equal(t, Default, Of(map[string]any{}))
	assert.Equal(t, Default, Of([]int{1}))
}
