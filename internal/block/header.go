// Package block frames the chunks of the data file. Every block starts
// with a small header whose first byte selects one of a fixed set of
// layouts, so a block can be decoded from its offset alone.
package block

import (
	"fmt"

	"github.com/tuannm99/novarec/internal/alias/bx"
	"github.com/tuannm99/novarec/internal/storage/common"
)

const (
	// DeleteHeaderLen is the size of a delete-block header and the largest
	// header of any kind.
	DeleteHeaderLen = 20
	MaxHeaderLen    = DeleteHeaderLen

	// Offsets of the delete-chain links inside a delete-block header.
	DeletedNextOffset = 4
	DeletedPrevOffset = 12

	// ShortLimit is the first length that needs a long (3-byte) field.
	ShortLimit = 65520

	maxU24 = 1<<24 - 1
)

// Kind is the header layout of a block.
type Kind uint8

const (
	Deleted        Kind = iota
	SingleShort         // whole record, exact fit
	SingleLong          //
	SingleGapShort      // whole record + unused tail
	SingleGapLong       //
	FirstShort          // head of a chain
	FirstLong           //
	TailShort           // last block of a chain, exact fit
	TailLong            //
	TailGapShort        // last block of a chain + unused tail
	TailGapLong         //
	MiddleShort         // chain block followed by another one
	MiddleLong          //
	FirstHuge           // head of a chain, 4-byte record length
	kindCount
)

// Flag describes the role of a decoded block.
type Flag uint8

const (
	FlagFirst Flag = 1 << iota
	FlagLast
	FlagDeleted
)

type layout struct {
	name      string
	size      int // header bytes
	recWidth  int // record length field, 0 if absent
	dataWidth int // block data length field, 0 if equal to the record length
	gap       bool
	next      bool
	flags     Flag
}

var layouts = [kindCount]layout{
	Deleted:        {name: "deleted", size: DeleteHeaderLen, flags: FlagDeleted},
	SingleShort:    {name: "single", size: 3, recWidth: 2, flags: FlagFirst | FlagLast},
	SingleLong:     {name: "single-long", size: 4, recWidth: 3, flags: FlagFirst | FlagLast},
	SingleGapShort: {name: "single-gap", size: 4, recWidth: 2, gap: true, flags: FlagFirst | FlagLast},
	SingleGapLong:  {name: "single-gap-long", size: 5, recWidth: 3, gap: true, flags: FlagFirst | FlagLast},
	FirstShort:     {name: "first", size: 13, recWidth: 2, dataWidth: 2, next: true, flags: FlagFirst},
	FirstLong:      {name: "first-long", size: 15, recWidth: 3, dataWidth: 3, next: true, flags: FlagFirst},
	TailShort:      {name: "tail", size: 3, dataWidth: 2, flags: FlagLast},
	TailLong:       {name: "tail-long", size: 4, dataWidth: 3, flags: FlagLast},
	TailGapShort:   {name: "tail-gap", size: 4, dataWidth: 2, gap: true, flags: FlagLast},
	TailGapLong:    {name: "tail-gap-long", size: 5, dataWidth: 3, gap: true, flags: FlagLast},
	MiddleShort:    {name: "middle", size: 11, dataWidth: 2, next: true},
	MiddleLong:     {name: "middle-long", size: 12, dataWidth: 3, next: true},
	FirstHuge:      {name: "first-huge", size: 16, recWidth: 4, dataWidth: 3, next: true, flags: FlagFirst},
}

func (k Kind) String() string {
	if k >= kindCount {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return layouts[k].name
}

// HeaderLen returns the header size of k.
func (k Kind) HeaderLen() int { return layouts[k].size }

// Continuation reports whether k may only be reached through a chain link.
func (k Kind) Continuation() bool {
	return k != Deleted && layouts[k].flags&FlagFirst == 0
}

// HasNext reports whether k carries a next-block pointer.
func (k Kind) HasNext() bool { return layouts[k].next }

// NextOffset is the offset of the next pointer inside the header.
func (k Kind) NextOffset() int { return layouts[k].size - 8 }

// Info is a decoded block header.
type Info struct {
	Kind      Kind
	Flags     Flag
	Pos       int64 // block start
	HeaderLen int
	RecLen    uint32 // total record length, head blocks only
	DataLen   uint32 // payload bytes in this block
	BlockLen  uint32 // header + payload + unused tail
	Next      int64  // next chain block or delete-chain forward link
	Prev      int64  // delete-chain backward link
}

func (i Info) Deleted() bool { return i.Flags&FlagDeleted != 0 }
func (i Info) First() bool   { return i.Flags&FlagFirst != 0 }
func (i Info) Last() bool    { return i.Flags&FlagLast != 0 }

// Body is the file offset of the first payload byte.
func (i Info) Body() int64 { return i.Pos + int64(i.HeaderLen) }

// End is the offset right after the block.
func (i Info) End() int64 { return i.Pos + int64(i.BlockLen) }

// Decode parses the header in raw, read at pos. raw may be longer than the
// header. continuation tells whether pos was reached through a chain link;
// a mismatch with the decoded kind returns ErrSyncError together with the
// decoded Info, so callers can still step over the block.
func Decode(raw []byte, pos int64, continuation bool) (Info, error) {
	info := Info{Pos: pos, Next: common.NilPos, Prev: common.NilPos}
	if len(raw) == 0 {
		return info, fmt.Errorf("%w: empty header at %d", common.ErrWrongInRecord, pos)
	}
	k := Kind(raw[0])
	if k >= kindCount {
		return info, fmt.Errorf("%w: unknown block tag %d at %d", common.ErrWrongInRecord, raw[0], pos)
	}
	l := layouts[k]
	if len(raw) < l.size {
		return info, fmt.Errorf("%w: truncated %s header at %d", common.ErrWrongInRecord, k, pos)
	}
	info.Kind = k
	info.Flags = l.flags
	info.HeaderLen = l.size

	if k == Deleted {
		info.BlockLen = bx.U24At(raw, 1)
		info.Next = bx.I64At(raw, DeletedNextOffset)
		info.Prev = bx.I64At(raw, DeletedPrevOffset)
		if info.BlockLen < DeleteHeaderLen {
			return info, fmt.Errorf("%w: deleted block of %d bytes at %d", common.ErrWrongInRecord, info.BlockLen, pos)
		}
		return info, nil
	}

	off := 1
	if l.recWidth > 0 {
		info.RecLen = bx.UN(raw[off:], l.recWidth)
		off += l.recWidth
	}
	if l.dataWidth > 0 {
		info.DataLen = bx.UN(raw[off:], l.dataWidth)
		off += l.dataWidth
	} else {
		info.DataLen = info.RecLen
	}
	var gap uint32
	if l.gap {
		gap = uint32(raw[off])
		off++
	}
	if l.next {
		info.Next = bx.I64At(raw, off)
	}
	if info.DataLen == 0 || (info.First() && info.DataLen > info.RecLen) {
		return info, fmt.Errorf("%w: %s block at %d holds %d of %d bytes",
			common.ErrWrongInRecord, k, pos, info.DataLen, info.RecLen)
	}
	info.BlockLen = uint32(l.size) + info.DataLen + gap

	if k.Continuation() != continuation {
		return info, fmt.Errorf("%w: %s block at %d (continuation=%t)", common.ErrSyncError, k, pos, continuation)
	}
	return info, nil
}

// PutDeleted encodes a delete-block header into dst[:DeleteHeaderLen].
func PutDeleted(dst []byte, blockLen uint32, next, prev int64) {
	dst[0] = byte(Deleted)
	bx.PutU24At(dst, 1, blockLen)
	bx.PutI64At(dst, DeletedNextOffset, next)
	bx.PutI64At(dst, DeletedPrevOffset, prev)
}
