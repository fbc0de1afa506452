package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novarec/internal/storage/common"
)

func TestDefaultGeometry_Valid(t *testing.T) {
	require.NoError(t, DefaultGeometry().Validate())
}

func TestGeometry_Validate(t *testing.T) {
	cases := map[string]func(g *Geometry){
		"align not power of two": func(g *Geometry) { g.Align = 3 },
		"min below header":       func(g *Geometry) { g.MinBlockLen = 16 },
		"max above 24 bits":      func(g *Geometry) { g.MaxBlockLen = 1 << 24 },
		"max unaligned":          func(g *Geometry) { g.MaxBlockLen = 4097 },
		"extend too small":       func(g *Geometry) { g.ExtendLen = 16 },
		"extend unaligned":       func(g *Geometry) { g.ExtendLen = 22 },
		"split too small":        func(g *Geometry) { g.SplitLen = 30 },
		"split above gap byte":   func(g *Geometry) { g.SplitLen = 300 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			g := DefaultGeometry()
			mutate(&g)
			require.ErrorIs(t, g.Validate(), ErrBadGeometry)
		})
	}
}

func TestChoose(t *testing.T) {
	g := DefaultGeometry()

	t.Run("exact single", func(t *testing.T) {
		l := Choose(17, 20, true, g)
		assert.Equal(t, SingleShort, l.Kind)
		assert.Equal(t, uint32(17), l.DataLen)
		assert.Zero(t, l.Gap)
		assert.Zero(t, l.Split)
		assert.Equal(t, uint32(20), l.Used())
	})

	t.Run("single with gap", func(t *testing.T) {
		l := Choose(20, 24, true, g)
		assert.Equal(t, SingleGapShort, l.Kind)
		assert.Equal(t, uint32(20), l.DataLen)
		assert.Equal(t, uint32(0), l.Gap)
		assert.Equal(t, uint32(24), l.Used())
	})

	t.Run("too short starts a chain", func(t *testing.T) {
		l := Choose(100, 40, true, g)
		assert.Equal(t, FirstShort, l.Kind)
		assert.Equal(t, uint32(40-13), l.DataLen)
		assert.True(t, l.Kind.HasNext())
	})

	t.Run("continuation too short", func(t *testing.T) {
		l := Choose(100, 40, false, g)
		assert.Equal(t, MiddleShort, l.Kind)
		assert.Equal(t, uint32(40-11), l.DataLen)
	})

	t.Run("continuation exact and gap", func(t *testing.T) {
		assert.Equal(t, TailShort, Choose(37, 40, false, g).Kind)
		l := Choose(30, 40, false, g)
		assert.Equal(t, TailGapShort, l.Kind)
		assert.Equal(t, uint32(6), l.Gap)
	})

	t.Run("large block is split", func(t *testing.T) {
		l := Choose(20, 400, true, g)
		require.NotZero(t, l.Split)
		assert.Zero(t, l.Split%g.Align)
		assert.GreaterOrEqual(t, l.Split, g.MinBlockLen)
		assert.Equal(t, uint32(400), l.Used()+l.Split)
		assert.LessOrEqual(t, l.Used()-20, g.ExtendLen)
		assert.Equal(t, SingleGapShort, l.Kind)
	})

	t.Run("long lengths", func(t *testing.T) {
		l := Choose(70000, 70004, true, g)
		assert.Equal(t, SingleLong, l.Kind)

		l = Choose(200000, 70000, true, g)
		assert.Equal(t, FirstLong, l.Kind)
		assert.Equal(t, uint32(70000-15), l.DataLen)

		l = Choose(200000, 70000, false, g)
		assert.Equal(t, MiddleLong, l.Kind)
	})

	t.Run("huge record head", func(t *testing.T) {
		l := Choose(1<<25, g.MaxBlockLen, true, g)
		assert.Equal(t, FirstHuge, l.Kind)
		assert.Equal(t, g.MaxBlockLen-16, l.DataLen)
	})
}

func TestPutDecode_RoundTrip(t *testing.T) {
	g := DefaultGeometry()
	cases := []struct {
		remaining, blockLen uint32
		first               bool
	}{
		{17, 20, true},
		{20, 24, true},
		{100, 40, true},
		{70000, 70004, true},
		{70000, 70012, true},
		{200000, 70000, true},
		{1 << 25, g.MaxBlockLen, true},
		{37, 40, false},
		{30, 40, false},
		{100, 40, false},
		{70000, 70004, false},
		{70000, 70010, false},
		{200000, 70000, false},
	}

	for _, c := range cases {
		l := Choose(c.remaining, c.blockLen, c.first, g)
		buf := make([]byte, MaxHeaderLen)
		n := l.Put(buf, 4096)
		require.Equal(t, l.HeaderLen(), n, "kind %s", l.Kind)

		info, err := Decode(buf, 128, !c.first)
		require.NoError(t, err, "kind %s", l.Kind)
		assert.Equal(t, l.Kind, info.Kind)
		assert.Equal(t, l.DataLen, info.DataLen)
		assert.Equal(t, l.Used(), info.BlockLen)
		assert.Equal(t, int64(128)+int64(n), info.Body())
		if c.first {
			assert.Equal(t, c.remaining, info.RecLen)
			assert.True(t, info.First())
		}
		if l.Kind.HasNext() {
			assert.Equal(t, int64(4096), info.Next)
			assert.False(t, info.Last())
		} else {
			assert.Equal(t, common.NilPos, info.Next)
			assert.True(t, info.Last())
		}
	}
}

func TestDecode_Deleted(t *testing.T) {
	buf := make([]byte, DeleteHeaderLen)
	PutDeleted(buf, 48, 1000, common.NilPos)

	for _, cont := range []bool{false, true} {
		info, err := Decode(buf, 64, cont)
		require.NoError(t, err)
		assert.True(t, info.Deleted())
		assert.Equal(t, uint32(48), info.BlockLen)
		assert.Equal(t, int64(1000), info.Next)
		assert.Equal(t, common.NilPos, info.Prev)
		assert.Equal(t, int64(112), info.End())
	}

	t.Run("too short", func(t *testing.T) {
		PutDeleted(buf, 8, common.NilPos, common.NilPos)
		_, err := Decode(buf, 64, false)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})
}

func TestDecode_Errors(t *testing.T) {
	g := DefaultGeometry()

	t.Run("unknown tag", func(t *testing.T) {
		buf := make([]byte, MaxHeaderLen)
		buf[0] = byte(kindCount)
		_, err := Decode(buf, 0, false)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
		require.NotErrorIs(t, err, common.ErrSyncError)

		buf[0] = 0xFF
		_, err = Decode(buf, 0, false)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})

	t.Run("truncated", func(t *testing.T) {
		buf := make([]byte, MaxHeaderLen)
		l := Choose(100, 40, true, g)
		l.Put(buf, 0)
		_, err := Decode(buf[:5], 0, false)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil, 0, false)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})

	t.Run("head read as continuation", func(t *testing.T) {
		buf := make([]byte, MaxHeaderLen)
		Choose(17, 20, true, g).Put(buf, common.NilPos)
		info, err := Decode(buf, 256, true)
		require.ErrorIs(t, err, common.ErrSyncError)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
		assert.Equal(t, int64(276), info.End())
	})

	t.Run("continuation read as head", func(t *testing.T) {
		buf := make([]byte, MaxHeaderLen)
		Choose(100, 40, false, g).Put(buf, 512)
		info, err := Decode(buf, 256, false)
		require.ErrorIs(t, err, common.ErrSyncError)
		assert.Equal(t, int64(296), info.End())
	})

	t.Run("zero data length", func(t *testing.T) {
		buf := []byte{byte(SingleShort), 0, 0, 0}
		_, err := Decode(buf, 0, false)
		require.ErrorIs(t, err, common.ErrWrongInRecord)
	})
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "first-huge", FirstHuge.String())
	assert.Equal(t, "kind(200)", Kind(200).String())
}
