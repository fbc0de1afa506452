package common

import (
	"errors"
	"fmt"
)

const (
	OneB  = 1
	OneKB = 1024
	OneMB = OneKB * 1024
	OneGB = OneMB * 1024
)

const (
	FileMode0644 = 0o644
	FileMode0664 = 0o664
	FileMode0755 = 0o755
)

// NilPos marks "no block": an empty delete chain, the last link of a chain.
// It is stored on disk as eight 0xFF bytes.
const NilPos int64 = -1

var (
	// ErrRecordDeleted is returned when a position no longer holds a row.
	ErrRecordDeleted = errors.New("rowstore: record deleted")
	// ErrRecordFileFull is returned when the data file cannot grow further.
	ErrRecordFileFull = errors.New("rowstore: record file is full")
	// ErrWrongInRecord reports corruption: bad header, short chain or a
	// packed record that does not match its schema.
	ErrWrongInRecord = errors.New("rowstore: wrong in record")
	// ErrSyncError reports a chain pointer that landed on a block that
	// cannot continue the chain. It wraps ErrWrongInRecord.
	ErrSyncError = fmt.Errorf("%w: block sync error", ErrWrongInRecord)
	// ErrOutOfMemory is returned when a record needs a scratch buffer larger
	// than the table allows.
	ErrOutOfMemory = errors.New("rowstore: out of memory for record buffer")
	// ErrEndOfFile ends a sequential scan.
	ErrEndOfFile = errors.New("rowstore: end of file")

	ErrStorageIO        = errors.New("storage: I/O error")
	ErrInvalidOperation = errors.New("storage: invalid operation")
	ErrBadMagic         = errors.New("storage: bad data file magic")
	ErrBadHeader        = errors.New("storage: data file header checksum mismatch")
)

// IsCorruption reports whether err means the table needs check/repair.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrWrongInRecord)
}
