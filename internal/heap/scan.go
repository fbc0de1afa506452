package heap

import (
	"errors"

	"github.com/tuannm99/novarec/internal/storage"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// ScanState is the cursor of a sequential scan. Pos is the record last
// returned, Next the offset the following ScanNext resumes from.
type ScanState struct {
	Pos  int64
	Next int64
}

// ScanInit starts a sequential scan at the first block.
func (t *Table) ScanInit() ScanState {
	t.scanIssued = storage.HeaderLength
	t.scanNext = storage.HeaderLength
	return ScanState{Pos: common.NilPos, Next: storage.HeaderLength}
}

// ScanNext returns the next record in file order, skipping deleted blocks
// and blocks that continue another record. The resume offset is the end of
// the returned record's head block, however long its chain is. When
// deletes or updates since the previous call merged the block the scan was
// about to read, the scan continues after it. The returned bytes are a copy.
func (t *Table) ScanNext(s ScanState) ([]byte, ScanState, error) {
	pos := s.Next
	if s.Next == t.scanIssued && t.scanNext != common.NilPos {
		pos = t.scanNext
	}

	for pos < t.state.DataLength {
		info, raw, err := t.readBlock(pos, false)
		if err != nil {
			if errors.Is(err, common.ErrSyncError) {
				pos = info.End()
				continue
			}
			return nil, s, err
		}
		if info.Deleted() {
			pos = info.End()
			continue
		}

		data, err := t.readChain(info, raw)
		if err != nil {
			return nil, s, err
		}
		next := info.End()
		t.scanIssued, t.scanNext = next, next
		return clone(data), ScanState{Pos: pos, Next: next}, nil
	}
	return nil, s, common.ErrEndOfFile
}
