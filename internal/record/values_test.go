package record

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novarec/internal/storage/common"
)

// makeTestSchema builds a simple schema used across tests.
func makeTestSchema() Schema {
	return Schema{
		Cols: []Column{
			{Name: "id32", Type: ColInt32, Nullable: false},
			{Name: "id64", Type: ColInt64, Nullable: false},
			{Name: "active", Type: ColBool, Nullable: false},
			{Name: "score", Type: ColFloat64, Nullable: false},
			{Name: "name", Type: ColText, Nullable: true, Length: 64},
			{Name: "blob", Type: ColBytes, Nullable: true},
			{Name: "code", Type: ColChar, Nullable: false, Length: 8},
		},
		Checksum: true,
	}
}

func mustCompile(t *testing.T, s Schema) *Format {
	t.Helper()
	f, err := s.Compile()
	require.NoError(t, err)
	return f
}

func TestPackUnpackValues_RoundTrip(t *testing.T) {
	f := mustCompile(t, makeTestSchema())

	values := []any{
		int32(42),                // id32
		int64(123456789),         // id64
		true,                     // active
		3.14159,                  // score
		"hello",                  // name
		[]byte{0x01, 0x02, 0x03}, // blob
		"AB",                     // code
	}

	buf, err := f.PackValues(values)
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	row, err := f.UnpackValues(buf)
	require.NoError(t, err)

	require.Len(t, row, len(values))
	require.Equal(t, int32(42), row[0].(int32))
	require.Equal(t, int64(123456789), row[1].(int64))
	require.True(t, row[2].(bool))

	// Float comparison with small epsilon
	require.InDelta(t, 3.14159, row[3].(float64), 1e-9)

	require.Equal(t, "hello", row[4].(string))
	require.Equal(t, []byte{0x01, 0x02, 0x03}, row[5].([]byte))
	require.Equal(t, "AB", row[6].(string))
}

func TestPackUnpackValues_Nullable(t *testing.T) {
	f := mustCompile(t, makeTestSchema())

	// Set nullable TEXT and BYTES to nil
	values := []any{
		int32(1),
		int64(2),
		false,
		1.5,
		nil, // name
		nil, // blob
		"",
	}

	buf, err := f.PackValues(values)
	require.NoError(t, err)

	row, err := f.UnpackValues(buf)
	require.NoError(t, err)

	require.Nil(t, row[4]) // name
	require.Nil(t, row[5]) // blob
	require.Equal(t, "", row[6])
}

func TestEncode_SchemaMismatch(t *testing.T) {
	f := mustCompile(t, makeTestSchema())

	t.Run("wrong number of values", func(t *testing.T) {
		_, err := f.Encode([]any{1, 2, 3}) // fewer than NumCols
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("non-nullable column is nil", func(t *testing.T) {
		values := []any{nil, int64(1), true, 1.0, "ok", []byte("abcd"), "x"}
		_, err := f.Encode(values)
		require.ErrorIs(t, err, ErrNullNotAllowed)
	})

	t.Run("wrong type for column", func(t *testing.T) {
		// id32 should be an integer but we pass string
		values := []any{"not-int32", int64(1), true, 1.0, "ok", []byte("abcd"), "x"}
		_, err := f.Encode(values)
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("int out of int32 range", func(t *testing.T) {
		values := []any{int64(math.MaxInt32) + 1, int64(1), true, 1.0, "ok", []byte("abcd"), "x"}
		_, err := f.Encode(values)
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})
}

func TestEncode_VarTooLong(t *testing.T) {
	f := mustCompile(t, Schema{
		Cols: []Column{
			{Name: "name", Type: ColText, Length: 10},
			{Name: "code", Type: ColChar, Length: 2},
			{Name: "tiny", Type: ColBytes, BlobPrefix: 1},
		},
	})

	_, err := f.Encode([]any{strings.Repeat("a", 11), "ab", []byte{}})
	require.ErrorIs(t, err, ErrVarTooLong)

	_, err = f.Encode([]any{"a", "abc", []byte{}})
	require.ErrorIs(t, err, ErrVarTooLong)

	_, err = f.Encode([]any{"a", "ab", make([]byte, 256)})
	require.ErrorIs(t, err, ErrVarTooLong)

	_, err = f.Encode([]any{"a", "ab", make([]byte, 255)})
	require.NoError(t, err)
}

func TestUnpackValues_BadBuffer(t *testing.T) {
	f := mustCompile(t, makeTestSchema())

	buf, err := f.PackValues([]any{int32(42), int64(99), true, 2.71828, "test", []byte{0xAA, 0xBB}, "k"})
	require.NoError(t, err)

	t.Run("truncated buffer", func(t *testing.T) {
		_, err := f.UnpackValues(buf[:len(buf)-3])
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})

	t.Run("too short for bitmaps", func(t *testing.T) {
		_, err := f.UnpackValues([]byte{0x00})
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})
}
