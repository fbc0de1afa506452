package heap

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novarec/internal/block"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// ReadRow returns a copy of the packed record whose head block is at pos.
// A deleted head, or a position that is no longer a head, reports
// ErrRecordDeleted.
func (t *Table) ReadRow(pos int64) ([]byte, error) {
	data, err := t.readRecord(pos)
	if err != nil {
		return nil, err
	}
	return clone(data), nil
}

// readRecord is ReadRow without the copy: the result aliases the scratch
// buffer and is valid until the next read.
func (t *Table) readRecord(pos int64) ([]byte, error) {
	info, raw, err := t.readBlock(pos, false)
	if err != nil {
		if errors.Is(err, common.ErrSyncError) {
			return nil, fmt.Errorf("%w: %d is a %s block", common.ErrRecordDeleted, pos, info.Kind)
		}
		return nil, err
	}
	if info.Deleted() {
		return nil, fmt.Errorf("%w: %d", common.ErrRecordDeleted, pos)
	}
	return t.readChain(info, raw)
}

// readChain collects the record that starts with head, whose header read is
// in raw.
func (t *Table) readChain(head block.Info, raw []byte) ([]byte, error) {
	if head.RecLen > t.opts.MaxRecordLength {
		return nil, fmt.Errorf("%w: record at %d is %d bytes, limit %d",
			common.ErrOutOfMemory, head.Pos, head.RecLen, t.opts.MaxRecordLength)
	}
	out := t.buffer(int(head.RecLen))

	info := head
	off := 0
	maxHops := int(t.state.DataLength/int64(t.opts.Geometry.MinBlockLen)) + 1
	for hop := 0; ; hop++ {
		left := len(out) - off
		if info.DataLen == 0 || int(info.DataLen) > left {
			return nil, fmt.Errorf("%w: %s block at %d holds %d bytes, %d left",
				common.ErrWrongInRecord, info.Kind, info.Pos, info.DataLen, left)
		}

		// payload that came in with the header read
		have := max(0, min(len(raw)-info.HeaderLen, int(info.DataLen)))
		copy(out[off:], raw[info.HeaderLen:info.HeaderLen+have])
		if have < int(info.DataLen) {
			if _, err := t.file.ReadAt(out[off+have:off+int(info.DataLen)], info.Body()+int64(have)); err != nil {
				return nil, err
			}
		}
		off += int(info.DataLen)
		if off == len(out) {
			return out, nil
		}

		if info.Next == common.NilPos || info.Last() {
			return nil, fmt.Errorf("%w: chain from %d ends at %d with %d bytes missing",
				common.ErrWrongInRecord, head.Pos, info.Pos, len(out)-off)
		}
		if hop >= maxHops {
			return nil, fmt.Errorf("%w: chain from %d does not terminate", common.ErrWrongInRecord, head.Pos)
		}

		next := info.Next
		var err error
		info, raw, err = t.readBlock(next, true)
		if err != nil {
			if errors.Is(err, common.ErrSyncError) {
				t.log.Warn("heap: chain pointer lands on wrong block",
					"head", head.Pos,
					"pos", next,
					"kind", info.Kind,
				)
			}
			return nil, err
		}
		if info.Deleted() {
			return nil, fmt.Errorf("%w: chain from %d reaches deleted block %d",
				common.ErrSyncError, head.Pos, next)
		}
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
