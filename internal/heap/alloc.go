package heap

import (
	"fmt"

	"github.com/tuannm99/novarec/internal/block"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// extendLen is the size of a new block at the end of the file for a record
// with remaining bytes left to write.
func (t *Table) extendLen(remaining uint32) uint32 {
	g := t.opts.Geometry
	need := uint64(remaining) + 3
	if remaining >= block.ShortLimit-3 {
		need++
	}
	if need < uint64(g.MinBlockLen) {
		return g.MinBlockLen
	}
	return uint32(min(g.AlignUp(need), uint64(g.MaxBlockLen)))
}

// useDelChain reports whether the next allocation pops the delete chain.
func (t *Table) useDelChain() bool {
	return !t.opts.AppendInsertAtEnd && t.state.DelLink != common.NilPos
}

// nextWritePos predicts where the next allocation will land.
func (t *Table) nextWritePos() int64 {
	if t.useDelChain() {
		return t.state.DelLink
	}
	return t.state.DataLength
}

// allocate returns a block for the next chunk of a record that still has
// remaining bytes to write: the head of the delete chain, or a new block at
// the end of the file. The caller owns the whole returned extent.
func (t *Table) allocate(remaining uint32) (int64, uint32, error) {
	if t.useDelChain() {
		info, _, err := t.readBlock(t.state.DelLink, false)
		if err != nil {
			return 0, 0, fmt.Errorf("delete chain head: %w", err)
		}
		if !info.Deleted() {
			t.log.Warn("heap: delete chain head is not a deleted block",
				"pos", info.Pos,
				"kind", info.Kind,
			)
			return 0, 0, fmt.Errorf("%w: delete chain head %d is a %s block",
				common.ErrWrongInRecord, info.Pos, info.Kind)
		}
		if err := t.detach(info); err != nil {
			return 0, 0, err
		}
		t.log.Debug("heap: reuse deleted block", "pos", info.Pos, "len", info.BlockLen)
		return info.Pos, info.BlockLen, nil
	}

	n := t.extendLen(remaining)
	if t.state.DataLength+int64(n) > t.opts.MaxDataLength {
		return 0, 0, fmt.Errorf("%w: %d + %d exceeds %d",
			common.ErrRecordFileFull, t.state.DataLength, n, t.opts.MaxDataLength)
	}
	pos := t.state.DataLength
	if err := t.grow(int64(n)); err != nil {
		return 0, 0, err
	}
	t.state.Splits++
	t.log.Debug("heap: new block at end", "pos", pos, "len", n)
	return pos, n, nil
}

// free turns [pos, pos+length) into a delete block at the head of the
// delete chain.
func (t *Table) free(pos int64, length uint32) error {
	var hdr [block.DeleteHeaderLen]byte
	block.PutDeleted(hdr[:], length, t.state.DelLink, common.NilPos)
	if err := t.writeAt(hdr[:], pos); err != nil {
		return err
	}
	if t.state.DelLink != common.NilPos {
		if err := t.putPos(t.state.DelLink+block.DeletedPrevOffset, pos); err != nil {
			return err
		}
	}
	t.state.DelLink = pos
	t.state.Deleted++
	t.state.Empty += uint64(length)
	return nil
}

// detach removes a delete block from the delete chain, fixing both
// neighbours.
func (t *Table) detach(info block.Info) error {
	if info.Prev == common.NilPos {
		if t.state.DelLink != info.Pos {
			return fmt.Errorf("%w: deleted block %d has no back link but is not the chain head",
				common.ErrWrongInRecord, info.Pos)
		}
		t.state.DelLink = info.Next
	} else if err := t.putPos(info.Prev+block.DeletedNextOffset, info.Next); err != nil {
		return err
	}
	if info.Next != common.NilPos {
		if err := t.putPos(info.Next+block.DeletedPrevOffset, info.Prev); err != nil {
			return err
		}
	}
	t.state.Deleted--
	t.state.Empty -= uint64(info.BlockLen)
	return nil
}

// unlink removes a delete block that is being merged into a neighbour. A
// live scan positioned on the block skips past it.
func (t *Table) unlink(info block.Info) error {
	if err := t.detach(info); err != nil {
		return err
	}
	t.state.Splits--
	if t.scanNext == info.Pos {
		t.scanNext += int64(info.BlockLen)
	}
	t.log.Debug("heap: unlinked deleted block", "pos", info.Pos, "len", info.BlockLen)
	return nil
}

// deletedAt returns the delete block starting at pos, if there is one.
func (t *Table) deletedAt(pos int64) (block.Info, bool, error) {
	if pos >= t.state.DataLength {
		return block.Info{}, false, nil
	}
	info, _, err := t.readBlock(pos, false)
	if err != nil {
		if common.IsCorruption(err) {
			// not a deleted block, whatever it is
			return info, false, nil
		}
		return info, false, err
	}
	return info, info.Deleted(), nil
}

// splitOnWrite returns the tail [pos, end) cut off a written block to the
// delete chain, merged with a deleted block that directly follows it.
func (t *Table) splitOnWrite(pos, end int64) error {
	length := uint32(end - pos)
	del, ok, err := t.deletedAt(end)
	if err != nil {
		return err
	}
	if ok && length+del.BlockLen <= t.opts.Geometry.MaxBlockLen {
		if err := t.unlink(del); err != nil {
			return err
		}
		length += del.BlockLen
		t.log.Debug("heap: merged split with next deleted block", "pos", pos, "len", length)
	}
	if err := t.free(pos, length); err != nil {
		return err
	}
	t.state.Splits++
	return nil
}
