package record

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novarec/internal/storage/common"
)

func TestPack_FixedColumnOnly(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{{Name: "c", Type: ColFixed, Length: 3}}})
	require.Zero(t, f.FlagBytes())
	require.Zero(t, f.NullBytes())

	r := f.NewRow()
	r.Fields[0] = []byte("ABC")

	packed, err := f.Pack(r)
	require.NoError(t, err)
	require.Equal(t, []byte("ABC"), packed)

	out, err := f.Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, []byte("ABC"), out.Fields[0])
}

func TestPack_EmptyVarchar(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{{Name: "v", Type: ColText, Length: 20}}})

	r := f.NewRow()
	r.Fields[0] = []byte{}

	packed, err := f.Pack(r)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00}, packed)

	out, err := f.Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, []byte{}, out.Fields[0])
}

func TestPack_VarcharPrefixWidth(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{{Name: "v", Type: ColText, Length: 300}}})
	r := f.NewRow()
	r.Fields[0] = []byte("xyz")

	packed, err := f.Pack(r)
	require.NoError(t, err)
	require.Equal(t, []byte{3, 0, 'x', 'y', 'z'}, packed)
}

func TestPack_Strategies(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{
		{Name: "z", Type: ColInt32},                                    // SkipZero
		{Name: "e", Type: ColChar, Length: 10},                         // SkipEndspace
		{Name: "p", Type: ColChar, Length: 10, Strategy: SkipPrespace}, // SkipPrespace
		{Name: "b", Type: ColBytes, BlobPrefix: 2},                     // Blob
	}})
	require.Equal(t, 1, f.FlagBytes())

	t.Run("short forms", func(t *testing.T) {
		r := f.NewRow()
		r.Fields[0] = []byte{0, 0, 0, 0}
		r.Fields[1] = []byte("ab        ")
		r.Fields[2] = []byte("        cd")
		r.Fields[3] = []byte{}

		packed, err := f.Pack(r)
		require.NoError(t, err)
		// all four flags set; z and b omitted; e and p trimmed
		require.Equal(t, []byte{0x0F, 2, 'a', 'b', 2, 'c', 'd'}, packed)

		out, err := f.Unpack(packed)
		require.NoError(t, err)
		require.Equal(t, r, out)
	})

	t.Run("verbatim forms", func(t *testing.T) {
		r := f.NewRow()
		r.Fields[0] = []byte{1, 0, 0, 0}
		r.Fields[1] = []byte("abcdefghi ") // 9+1 prefix is not shorter than 10
		r.Fields[2] = []byte("abcdefghij")
		r.Fields[3] = []byte("blob")

		packed, err := f.Pack(r)
		require.NoError(t, err)
		require.Equal(t, byte(0), packed[0])
		require.Equal(t, 1+4+10+10+2+4, len(packed))

		out, err := f.Unpack(packed)
		require.NoError(t, err)
		require.Equal(t, r, out)
	})
}

func TestPack_LongTrimmedPrefix(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{{Name: "c", Type: ColChar, Length: 400}}})

	r := f.NewRow()
	r.Fields[0] = append(bytes.Repeat([]byte("x"), 200), bytes.Repeat([]byte(" "), 200)...)

	packed, err := f.Pack(r)
	require.NoError(t, err)
	// flag byte + 2-byte length + 200 payload bytes
	require.Len(t, packed, 1+2+200)
	assert.Equal(t, byte(200&127|128), packed[1])
	assert.Equal(t, byte(200>>7), packed[2])

	out, err := f.Unpack(packed)
	require.NoError(t, err)
	require.Equal(t, r.Fields[0], out.Fields[0])
}

func TestPack_NullColumns(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{
		{Name: "a", Type: ColInt64, Nullable: true},
		{Name: "b", Type: ColText, Length: 10, Nullable: true},
		{Name: "c", Type: ColBool},
	}})
	require.Equal(t, 1, f.NullBytes())

	r := f.NewRow()
	f.SetNull(r, 0, true)
	f.SetNull(r, 1, true)
	r.Fields[2] = []byte{1}

	packed, err := f.Pack(r)
	require.NoError(t, err)
	// flag byte, null byte, bool
	require.Equal(t, []byte{0x00, 0x03, 0x01}, packed)

	out, err := f.Unpack(packed)
	require.NoError(t, err)
	require.True(t, f.IsNull(out, 0))
	require.True(t, f.IsNull(out, 1))
	require.Nil(t, out.Fields[0])
	require.Equal(t, []byte{1}, out.Fields[2])
}

func TestPack_RejectsBadRows(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{
		{Name: "n", Type: ColFixed, Length: 4},
		{Name: "v", Type: ColText, Length: 3},
	}})

	r := f.NewRow()
	r.Fields[0] = []byte{1, 2, 3}
	r.Fields[1] = []byte("ok")
	_, err := f.Pack(r)
	require.ErrorIs(t, err, ErrFieldWidth)

	r.Fields[0] = []byte{1, 2, 3, 4}
	r.Fields[1] = []byte("long")
	_, err = f.Pack(r)
	require.ErrorIs(t, err, ErrVarTooLong)

	_, err = f.Pack(Row{Fields: make([][]byte, 1)})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestUnpack_WrongInRecord(t *testing.T) {
	f := mustCompile(t, Schema{Cols: []Column{
		{Name: "e", Type: ColChar, Length: 10},
		{Name: "v", Type: ColText, Length: 5},
		{Name: "n", Type: ColInt32, Nullable: true},
	}})

	cases := map[string][]byte{
		// flags, nulls (n is null), e trimmed "ab", v "xy"
		"extra trailing byte":         {0x01, 0x01, 2, 'a', 'b', 2, 'x', 'y', 0x99},
		"missing payload byte":        {0x01, 0x01, 2, 'a', 'b', 2, 'x'},
		"trimmed length too large":    {0x01, 0x01, 10, 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 0},
		"varchar length above max":    {0x01, 0x01, 2, 'a', 'b', 6, 'a', 'b', 'c', 'd', 'e', 'f'},
		"flag bit set on null":        {0x03, 0x01, 2, 'a', 'b', 0},
		"stray high flag bit":         {0x81, 0x01, 2, 'a', 'b', 0},
		"flag implies missing len":    {0x01, 0x01},
		"shorter than both bitmaps":   {0x01},
		"verbatim field is truncated": {0x00, 0x01, 'a', 'b'},
		"non-null int is missing":     {0x01, 0x00, 2, 'a', 'b', 2, 'x', 'y'},
	}
	for name, packed := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Unpack(packed)
			require.ErrorIs(t, err, common.ErrWrongInRecord)
		})
	}

	ok := []byte{0x01, 0x01, 2, 'a', 'b', 2, 'x', 'y'}
	_, err := f.Unpack(ok)
	require.NoError(t, err)
}

// randomRow fills every column with a random value valid for f.
func randomRow(rng *rand.Rand, f *Format) Row {
	r := f.NewRow()
	for i, fd := range f.fields {
		if fd.col.Nullable && rng.Intn(4) == 0 {
			f.SetNull(r, i, true)
			continue
		}
		switch fd.strategy {
		case Normal, SkipZero:
			b := make([]byte, fd.width)
			if rng.Intn(3) != 0 {
				rng.Read(b)
			}
			r.Fields[i] = b
		case SkipEndspace, SkipPrespace:
			n := rng.Intn(fd.width + 1)
			b := bytes.Repeat([]byte(" "), fd.width)
			for j := 0; j < n; j++ {
				c := byte('a' + rng.Intn(26))
				if fd.strategy == SkipEndspace {
					b[j] = c
				} else {
					b[fd.width-1-j] = c
				}
			}
			r.Fields[i] = b
		case Varchar:
			b := make([]byte, rng.Intn(fd.width+1))
			rng.Read(b)
			r.Fields[i] = b
		case Blob:
			b := make([]byte, rng.Intn(3)*rng.Intn(2000))
			rng.Read(b)
			r.Fields[i] = b
		}
	}
	return r
}

func TestPackUnpack_RandomRoundTrip(t *testing.T) {
	f := mustCompile(t, Schema{
		Cols: []Column{
			{Name: "id", Type: ColInt64},
			{Name: "flag", Type: ColBool, Nullable: true},
			{Name: "code", Type: ColChar, Length: 12},
			{Name: "wide", Type: ColChar, Length: 600, Strategy: SkipPrespace, Nullable: true},
			{Name: "raw", Type: ColFixed, Length: 5, Strategy: SkipZero},
			{Name: "name", Type: ColText, Length: 40, Nullable: true},
			{Name: "long_name", Type: ColText, Length: 1000},
			{Name: "score", Type: ColFloat64, Strategy: Normal},
			{Name: "b1", Type: ColBytes, BlobPrefix: 2, Nullable: true},
			{Name: "b2", Type: ColBytes},
		},
		Checksum: true,
	})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		r := randomRow(rng, f)
		packed, err := f.Pack(r)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(packed), f.MinPackedLen())

		out, err := f.Unpack(packed)
		require.NoError(t, err)
		require.Equal(t, r, out)
		require.True(t, f.VerifyChecksum(out, packed))
	}
}

func TestSchema_CompileErrors(t *testing.T) {
	cases := map[string]Schema{
		"no columns":            {},
		"text without length":   {Cols: []Column{{Name: "t", Type: ColText}}},
		"char too wide":         {Cols: []Column{{Name: "c", Type: ColChar, Length: 40000}}},
		"int as varchar":        {Cols: []Column{{Name: "i", Type: ColInt32, Strategy: Varchar}}},
		"bytes as skip zero":    {Cols: []Column{{Name: "b", Type: ColBytes, Strategy: SkipZero}}},
		"blob prefix too large": {Cols: []Column{{Name: "b", Type: ColBytes, BlobPrefix: 5}}},
		"text as normal":        {Cols: []Column{{Name: "t", Type: ColText, Length: 3, Strategy: Normal}}},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Compile()
			require.ErrorIs(t, err, ErrBadSchema)
		})
	}
}

func TestSchema_DefaultStrategies(t *testing.T) {
	f := mustCompile(t, makeTestSchema())
	assert.Equal(t, SkipZero, f.StrategyOf(0))
	assert.Equal(t, SkipZero, f.StrategyOf(1))
	assert.Equal(t, Normal, f.StrategyOf(2))
	assert.Equal(t, SkipZero, f.StrategyOf(3))
	assert.Equal(t, Varchar, f.StrategyOf(4))
	assert.Equal(t, Blob, f.StrategyOf(5))
	assert.Equal(t, SkipEndspace, f.StrategyOf(6))
	assert.True(t, f.HasBlobs())
}

func TestParseNames(t *testing.T) {
	st, err := ParseStrategy("skip_prespace")
	require.NoError(t, err)
	assert.Equal(t, SkipPrespace, st)

	st, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, st)

	_, err = ParseStrategy("zip")
	require.ErrorIs(t, err, ErrBadSchema)

	ct, err := ParseColumnType("char")
	require.NoError(t, err)
	assert.Equal(t, ColChar, ct)

	_, err = ParseColumnType("decimal")
	require.ErrorIs(t, err, ErrBadSchema)
}
