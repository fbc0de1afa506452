package heap

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novarec/internal/storage/common"
)

// Insert packs values with the table format and stores them.
func (t *Table) Insert(values []any) (int64, error) {
	packed, err := t.format.PackValues(values)
	if err != nil {
		return common.NilPos, err
	}
	return t.WriteRow(packed)
}

// Get reads the row at pos and decodes it to Go values.
func (t *Table) Get(pos int64) ([]any, error) {
	data, err := t.readRecord(pos)
	if err != nil {
		return nil, err
	}
	return t.decode(pos, data)
}

// Update replaces the row at pos.
func (t *Table) Update(pos int64, values []any) error {
	packed, err := t.format.PackValues(values)
	if err != nil {
		return err
	}
	return t.UpdateRow(pos, packed)
}

// Delete removes the row at pos.
func (t *Table) Delete(pos int64) error {
	return t.DeleteRow(pos)
}

// ErrStopScan ends Scan early without an error.
var ErrStopScan = errors.New("heap: stop scan")

// Scan calls fn for every row in file order. Returning ErrStopScan from fn
// stops the scan and Scan returns nil; any other error is returned as is.
func (t *Table) Scan(fn func(pos int64, row []any) error) error {
	s := t.ScanInit()
	for {
		data, next, err := t.ScanNext(s)
		if errors.Is(err, common.ErrEndOfFile) {
			return nil
		}
		if err != nil {
			return err
		}
		row, err := t.decode(next.Pos, data)
		if err != nil {
			return err
		}
		if err := fn(next.Pos, row); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
		s = next
	}
}

func (t *Table) decode(pos int64, data []byte) ([]any, error) {
	r, err := t.format.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", pos, err)
	}
	if !t.format.VerifyChecksum(r, data) {
		t.log.Warn("heap: checksum mismatch", "pos", pos)
		return nil, fmt.Errorf("%w: record %d checksum mismatch", common.ErrWrongInRecord, pos)
	}
	return t.format.Decode(r)
}
