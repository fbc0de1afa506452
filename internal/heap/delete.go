package heap

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novarec/internal/storage/common"
)

// DeleteRow frees every block of the record at pos.
func (t *Table) DeleteRow(pos int64) error {
	info, _, err := t.readBlock(pos, false)
	if err != nil {
		if errors.Is(err, common.ErrSyncError) {
			return fmt.Errorf("%w: %d is a %s block", common.ErrRecordDeleted, pos, info.Kind)
		}
		return err
	}
	if info.Deleted() {
		return fmt.Errorf("%w: %d", common.ErrRecordDeleted, pos)
	}
	if err := t.deleteChain(pos, false); err != nil {
		return err
	}
	t.state.Records--
	return nil
}

// deleteChain frees the chain starting at pos. Each freed block first
// swallows a deleted block that directly follows it.
func (t *Table) deleteChain(pos int64, continuation bool) error {
	g := t.opts.Geometry
	maxHops := int(t.state.DataLength/int64(g.MinBlockLen)) + 1
	for hop := 0; pos != common.NilPos; hop++ {
		if hop > maxHops {
			return fmt.Errorf("%w: chain at %d does not terminate", common.ErrWrongInRecord, pos)
		}
		info, _, err := t.readBlock(pos, continuation)
		if err == nil && info.Deleted() {
			err = fmt.Errorf("%w: block %d is already deleted", common.ErrSyncError, pos)
		}
		if err != nil {
			return err
		}
		if info.BlockLen < g.MinBlockLen {
			return fmt.Errorf("%w: %s block at %d is %d bytes", common.ErrWrongInRecord, info.Kind, pos, info.BlockLen)
		}

		length := info.BlockLen
		del, ok, err := t.deletedAt(info.End())
		if err != nil {
			return err
		}
		if ok && length+del.BlockLen < g.MaxBlockLen {
			if err := t.unlink(del); err != nil {
				return err
			}
			length += del.BlockLen
		}
		if err := t.free(pos, length); err != nil {
			return err
		}
		t.log.Debug("heap: freed block", "pos", pos, "len", length)

		pos = info.Next
		continuation = true
	}
	return nil
}
