package heap

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novarec/internal/block"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// UpdateRow replaces the record at pos with packed, keeping pos as its
// position. Blocks of the old chain are reused in order, growing a block in
// place when it is the last one in the file or when a deleted block follows
// it; new blocks are allocated once the old chain runs out and leftover old
// blocks are freed.
func (t *Table) UpdateRow(pos int64, packed []byte) error {
	if len(packed) == 0 {
		return fmt.Errorf("%w: empty record", common.ErrInvalidOperation)
	}
	w := t.newChainWriter(packed)
	old := pos
	for !w.done() {
		if old == common.NilPos {
			bpos, length, err := t.allocate(uint32(len(w.data)))
			if err != nil {
				return err
			}
			if err := w.put(bpos, length, common.NilPos); err != nil {
				return err
			}
			continue
		}

		info, _, err := t.readBlock(old, !w.first)
		if err == nil && info.Deleted() {
			err = fmt.Errorf("%w: block %d is deleted", common.ErrSyncError, old)
		}
		if err != nil {
			if w.first && errors.Is(err, common.ErrSyncError) {
				return fmt.Errorf("%w: %d: %v", common.ErrRecordDeleted, pos, err)
			}
			return err
		}
		if w.first {
			if err := t.checkRoom(uint64(len(packed)), uint64(info.RecLen)); err != nil {
				return err
			}
		}
		old = info.Next

		length := info.BlockLen
		if remaining := uint32(len(w.data)); length < remaining {
			length, err = t.growBlock(info, remaining)
			if err != nil {
				return err
			}
		}
		if err := w.put(info.Pos, length, old); err != nil {
			return err
		}
	}

	if old != common.NilPos {
		if err := t.deleteChain(old, true); err != nil {
			return err
		}
	}
	return nil
}

// growBlock enlarges the block of info towards what a record with remaining
// bytes still needs and returns its new length. It extends the file when the
// block is the last one, or else absorbs a directly following delete block.
func (t *Table) growBlock(info block.Info, remaining uint32) (uint32, error) {
	g := t.opts.Geometry
	length := info.BlockLen

	need := uint64(remaining-length) + 3
	if remaining >= block.ShortLimit {
		need++
	}
	add := uint32(min(uint64(length)+g.AlignUp(need), uint64(g.MaxBlockLen)) - uint64(length))

	if info.End() == t.state.DataLength && t.state.DataLength+int64(add) <= t.opts.MaxDataLength {
		end := t.state.DataLength
		if err := t.grow(int64(add)); err != nil {
			return 0, err
		}
		if t.scanNext == end {
			t.scanNext += int64(add)
		}
		t.log.Debug("heap: extended last block", "pos", info.Pos, "len", length+add)
		return length + add, nil
	}

	if length >= g.MaxBlockLen-g.MinBlockLen {
		return length, nil
	}
	del, ok, err := t.deletedAt(info.End())
	if err != nil || !ok {
		return length, err
	}
	if err := t.unlink(del); err != nil {
		return 0, err
	}
	length += del.BlockLen
	if length > g.MaxBlockLen {
		rest := max(length-g.MaxBlockLen, g.MinBlockLen)
		length -= rest
		if err := t.free(info.Pos+int64(length), rest); err != nil {
			return 0, err
		}
		t.state.Splits++
	}
	t.log.Debug("heap: absorbed deleted block", "pos", info.Pos, "deleted", del.Pos, "len", length)
	return length, nil
}
