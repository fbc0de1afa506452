package record

import (
	"github.com/cespare/xxhash/v2"
)

// Checksum folds an xxhash64 of the null bitmap and every non-null column
// payload (blob and varchar bodies without their length prefix) into 32
// bits. Null columns are skipped.
func (f *Format) Checksum(r Row) uint32 {
	d := xxhash.New()
	_, _ = d.Write(r.Nulls)
	for i := range f.fields {
		if f.IsNull(r, i) {
			continue
		}
		_, _ = d.Write(r.Fields[i])
	}
	return Fold32(d.Sum64())
}

// Fold32 xors the two halves of a 64-bit hash.
func Fold32(s uint64) uint32 { return uint32(s>>32) ^ uint32(s) }

// VerifyChecksum compares the checksum byte stored in packed with the one
// computed from r. Formats without checksums always verify.
func (f *Format) VerifyChecksum(r Row, packed []byte) bool {
	if !f.schema.Checksum {
		return true
	}
	if len(packed) == 0 {
		return false
	}
	return packed[len(packed)-1] == byte(f.Checksum(r))
}
