package heap

import (
	"fmt"

	"github.com/tuannm99/novarec/internal/block"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// chainWriter lays a packed record out over a sequence of blocks.
//
// The next pointer of a block is written before the following block is
// known: it holds a prediction (the given hint, or nextWritePos) and link
// patches it when the following block lands elsewhere.
type chainWriter struct {
	t     *Table
	data  []byte // not yet written
	first bool
	head  int64

	linkOff int64 // offset of the last written next pointer, NilPos if none
	linkVal int64 // value stored there
}

func (t *Table) newChainWriter(data []byte) *chainWriter {
	return &chainWriter{t: t, data: data, first: true, head: common.NilPos, linkOff: common.NilPos}
}

func (w *chainWriter) done() bool { return len(w.data) == 0 }

// link makes the previous block of the chain point at pos.
func (w *chainWriter) link(pos int64) error {
	if w.linkOff == common.NilPos || w.linkVal == pos {
		return nil
	}
	w.t.log.Debug("heap: patch next pointer", "at", w.linkOff, "predicted", w.linkVal, "actual", pos)
	if err := w.t.putPos(w.linkOff, pos); err != nil {
		return err
	}
	w.linkVal = pos
	return nil
}

// put writes the next chunk into the block [pos, pos+blockLen). hint is the
// block the chunk continues in when the record does not end here; NilPos
// lets the writer predict it.
func (w *chainWriter) put(pos int64, blockLen uint32, hint int64) error {
	t := w.t
	if err := w.link(pos); err != nil {
		return err
	}
	l := block.Choose(uint32(len(w.data)), blockLen, w.first, t.opts.Geometry)

	next := common.NilPos
	if l.Kind.HasNext() {
		next = hint
		if next == common.NilPos {
			next = t.nextWritePos()
		}
	}

	buf := t.writeBuffer(int(l.Used()))
	h := l.Put(buf, next)
	copy(buf[h:], w.data[:l.DataLen])
	clear(buf[h+int(l.DataLen):])
	if err := t.writeAt(buf, pos); err != nil {
		return fmt.Errorf("write %s block at %d: %w", l.Kind, pos, err)
	}

	if w.first {
		w.head = pos
	}
	w.first = false
	w.data = w.data[l.DataLen:]
	w.linkOff, w.linkVal = common.NilPos, common.NilPos
	if l.Kind.HasNext() {
		w.linkOff, w.linkVal = pos+int64(l.Kind.NextOffset()), next
	}

	if l.Split > 0 {
		return t.splitOnWrite(pos+int64(l.Used()), pos+int64(blockLen))
	}
	return nil
}

// writeBuffer returns a scratch buffer for one block image. It is separate
// from the read scratch so an update can write while holding a read.
func (t *Table) writeBuffer(n int) []byte {
	if cap(t.wbuf) < n {
		t.wbuf = make([]byte, n)
	}
	return t.wbuf[:n]
}

// WriteRow stores a packed record and returns its position: the offset of
// its head block.
func (t *Table) WriteRow(packed []byte) (int64, error) {
	if len(packed) == 0 {
		return common.NilPos, fmt.Errorf("%w: empty record", common.ErrInvalidOperation)
	}
	if err := t.checkRoom(uint64(len(packed)), 0); err != nil {
		return common.NilPos, err
	}
	w := t.newChainWriter(packed)
	for !w.done() {
		pos, length, err := t.allocate(uint32(len(w.data)))
		if err != nil {
			return common.NilPos, err
		}
		if err := w.put(pos, length, common.NilPos); err != nil {
			return common.NilPos, err
		}
	}
	t.state.Records++
	return w.head, nil
}

// checkRoom fails early when a record of n bytes cannot fit even counting
// reusable deleted space and the reuse bytes of a record being replaced.
func (t *Table) checkRoom(n, reuse uint64) error {
	limit := t.opts.MaxDataLength
	if t.state.DataLength+int64(n)+block.MaxHeaderLen <= limit {
		return nil
	}
	room := limit - t.state.DataLength + int64(t.state.Empty) -
		int64(t.state.Deleted)*block.MaxHeaderLen + int64(reuse)
	if room < int64(n) {
		return fmt.Errorf("%w: %d bytes do not fit, %d available", common.ErrRecordFileFull, n, room)
	}
	return nil
}
