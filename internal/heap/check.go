package heap

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novarec/internal/storage"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// Report is what Check found in the data file.
type Report struct {
	Blocks        uint64 // physical blocks, live and deleted
	Records       uint64 // head blocks
	LinkedBlocks  uint64 // continuation blocks
	DeletedBlocks uint64
	DeletedBytes  uint64
	DataBytes     uint64 // payload bytes of live blocks
	LongestChain  int    // only with verifyRows
}

// Check walks the whole data file and the delete chain and compares both
// with the table state. With verifyRows every record is also read, unpacked
// and checksum-verified, and every continuation block must belong to
// exactly one chain.
//
// The first inconsistency is returned as ErrWrongInRecord.
func (t *Table) Check(verifyRows bool) (Report, error) {
	var rep Report
	var heads []int64
	linked := map[int64]bool{}
	deleted := map[int64]bool{}

	pos := int64(storage.HeaderLength)
	for pos < t.state.DataLength {
		info, _, err := t.readBlock(pos, false)
		switch {
		case errors.Is(err, common.ErrSyncError):
			rep.LinkedBlocks++
			rep.DataBytes += uint64(info.DataLen)
			linked[pos] = false
		case err != nil:
			return rep, t.corrupt("block walk", err)
		case info.Deleted():
			rep.DeletedBlocks++
			rep.DeletedBytes += uint64(info.BlockLen)
			deleted[pos] = false
		default:
			rep.Records++
			rep.DataBytes += uint64(info.DataLen)
			heads = append(heads, pos)
		}
		if info.BlockLen < t.opts.Geometry.MinBlockLen {
			return rep, t.corrupt("block walk", fmt.Errorf("%w: %s block at %d is %d bytes",
				common.ErrWrongInRecord, info.Kind, pos, info.BlockLen))
		}
		rep.Blocks++
		pos = info.End()
	}
	if pos != t.state.DataLength {
		return rep, t.corrupt("block walk", fmt.Errorf("%w: blocks end at %d, data length %d",
			common.ErrWrongInRecord, pos, t.state.DataLength))
	}

	if err := t.checkDelChain(deleted); err != nil {
		return rep, err
	}

	st := t.state
	switch {
	case rep.Records != st.Records:
		return rep, t.mismatch("records", rep.Records, st.Records)
	case rep.DeletedBlocks != st.Deleted:
		return rep, t.mismatch("deleted blocks", rep.DeletedBlocks, st.Deleted)
	case rep.DeletedBytes != st.Empty:
		return rep, t.mismatch("deleted bytes", rep.DeletedBytes, st.Empty)
	case rep.Blocks != st.Splits:
		return rep, t.mismatch("blocks", rep.Blocks, st.Splits)
	}

	if !verifyRows {
		return rep, nil
	}
	for _, head := range heads {
		n, err := t.checkRecord(head, linked)
		if err != nil {
			return rep, t.corrupt("record check", err)
		}
		rep.LongestChain = max(rep.LongestChain, n)
	}
	for p, seen := range linked {
		if !seen {
			return rep, t.corrupt("record check", fmt.Errorf("%w: block %d belongs to no record",
				common.ErrWrongInRecord, p))
		}
	}
	return rep, nil
}

// checkDelChain walks the delete chain from its head. deleted holds every
// delete block of the file; each must be visited once.
func (t *Table) checkDelChain(deleted map[int64]bool) error {
	prev := common.NilPos
	var n uint64
	for pos := t.state.DelLink; pos != common.NilPos; {
		seen, ok := deleted[pos]
		switch {
		case !ok:
			return t.corrupt("delete chain", fmt.Errorf("%w: link to %d is not a delete block",
				common.ErrWrongInRecord, pos))
		case seen:
			return t.corrupt("delete chain", fmt.Errorf("%w: %d visited twice",
				common.ErrWrongInRecord, pos))
		}
		deleted[pos] = true
		n++

		info, _, err := t.readBlock(pos, false)
		if err != nil {
			return t.corrupt("delete chain", err)
		}
		if info.Prev != prev {
			return t.corrupt("delete chain", fmt.Errorf("%w: block %d links back to %d, want %d",
				common.ErrWrongInRecord, pos, info.Prev, prev))
		}
		prev, pos = pos, info.Next
	}
	if n != uint64(len(deleted)) {
		return t.corrupt("delete chain", fmt.Errorf("%w: chain holds %d of %d delete blocks",
			common.ErrWrongInRecord, n, len(deleted)))
	}
	return nil
}

// checkRecord reads the record at head, marks its continuation blocks in
// linked and returns the chain length.
func (t *Table) checkRecord(head int64, linked map[int64]bool) (int, error) {
	info, _, err := t.readBlock(head, false)
	if err != nil {
		return 0, err
	}
	n := 1
	for next := info.Next; next != common.NilPos; n++ {
		seen, ok := linked[next]
		if !ok || seen {
			return n, fmt.Errorf("%w: record %d links to block %d twice or outside the file",
				common.ErrWrongInRecord, head, next)
		}
		linked[next] = true
		b, _, err := t.readBlock(next, true)
		if err != nil {
			return n, err
		}
		next = b.Next
	}

	data, err := t.readRecord(head)
	if err != nil {
		return n, err
	}
	row, err := t.format.Unpack(data)
	if err != nil {
		return n, fmt.Errorf("record %d: %w", head, err)
	}
	if !t.format.VerifyChecksum(row, data) {
		return n, fmt.Errorf("%w: record %d checksum mismatch", common.ErrWrongInRecord, head)
	}
	return n, nil
}

func (t *Table) corrupt(stage string, err error) error {
	t.log.Warn("heap: check failed", "stage", stage, "err", err)
	return fmt.Errorf("check %s: %w", stage, err)
}

func (t *Table) mismatch(what string, found, want uint64) error {
	return t.corrupt("state", fmt.Errorf("%w: found %d %s, state says %d",
		common.ErrWrongInRecord, found, what, want))
}
