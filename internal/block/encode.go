package block

import (
	"github.com/tuannm99/novarec/internal/alias/bx"
)

// Layout is the plan for writing one chunk of a record into a block.
type Layout struct {
	Kind    Kind
	RecLen  uint32 // bytes of the record still to write, including this chunk
	DataLen uint32 // bytes this block carries
	Gap     uint32 // unused bytes left at the end of this block
	Split   uint32 // bytes cut off the end of the block for the delete chain
}

func (l Layout) HeaderLen() int { return l.Kind.HeaderLen() }

// Used is the block length after the split.
func (l Layout) Used() uint32 { return uint32(l.HeaderLen()) + l.DataLen + l.Gap }

// Choose picks the smallest header that places the next chunk of a record
// into a block of blockLen bytes. remaining is what is left of the record;
// first tells whether this is its head block.
//
// An exact fit wins. A block too short for the rest gets a header with a
// next pointer. Otherwise the record ends here with an unused tail, and a
// tail longer than SplitLen is cut off (keeping ExtendLen of slack).
func Choose(remaining, blockLen uint32, first bool, g Geometry) Layout {
	length := uint64(blockLen)
	rest := uint64(remaining)
	l := Layout{RecLen: remaining}

	if length > rest+uint64(g.SplitLen) {
		l.Split = uint32(g.AlignUp(length - rest - uint64(g.ExtendLen)))
		length -= uint64(l.Split)
	}

	var long uint64
	if length >= ShortLimit || rest >= ShortLimit {
		long = 1
	}

	switch {
	case length == rest+3+long:
		l.Kind = pick(first, SingleShort, SingleLong, TailShort, TailLong, long)
		l.DataLen = remaining

	case length-long < rest+4:
		switch {
		case !first:
			l.Kind = pick(false, 0, 0, MiddleShort, MiddleLong, long)
		case rest > maxU24:
			l.Kind = FirstHuge
		default:
			l.Kind = pick(true, FirstShort, FirstLong, 0, 0, long)
		}
		l.DataLen = uint32(length) - uint32(l.Kind.HeaderLen())

	default:
		l.Kind = pick(first, SingleGapShort, SingleGapLong, TailGapShort, TailGapLong, long)
		l.DataLen = remaining
		l.Gap = uint32(length) - remaining - uint32(l.Kind.HeaderLen())
	}
	return l
}

func pick(first bool, firstShort, firstLong, contShort, contLong Kind, long uint64) Kind {
	if first {
		if long == 1 {
			return firstLong
		}
		return firstShort
	}
	if long == 1 {
		return contLong
	}
	return contShort
}

// Put encodes the header of l into dst and returns its length. next is only
// stored by kinds that carry a next pointer.
func (l Layout) Put(dst []byte, next int64) int {
	lay := layouts[l.Kind]
	dst[0] = byte(l.Kind)
	off := 1
	if lay.recWidth > 0 {
		bx.PutUN(dst[off:], lay.recWidth, l.RecLen)
		off += lay.recWidth
	}
	if lay.dataWidth > 0 {
		bx.PutUN(dst[off:], lay.dataWidth, l.DataLen)
		off += lay.dataWidth
	}
	if lay.gap {
		dst[off] = byte(l.Gap)
		off++
	}
	if lay.next {
		bx.PutI64At(dst, off, next)
		off += 8
	}
	return off
}
