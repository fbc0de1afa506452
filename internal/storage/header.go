package storage

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/tuannm99/novarec/internal/alias/bx"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// Data file header layout (HeaderLength bytes, little-endian):
//
//	[0..3]   magic "NVRF"
//	[4..5]   version
//	[6..7]   reserved
//	[8..11]  header length (first block offset)
//	[12..15] xxhash64 of [16..64) folded to 32 bits
//	[16..23] delete chain head
//	[24..31] deleted block count
//	[32..39] reclaimable bytes
//	[40..47] record count
//	[48..55] data length
//	[56..63] split count
const (
	HeaderLength  = 64
	headerMagic   = "NVRF"
	headerVersion = 1
)

// FileHeader is the table state kept at the start of the data file.
type FileHeader struct {
	DelLink    int64
	Deleted    uint64
	Empty      uint64
	Records    uint64
	DataLength int64
	Splits     uint64
}

// NewFileHeader returns the state of an empty table.
func NewFileHeader() FileHeader {
	return FileHeader{DelLink: common.NilPos, DataLength: HeaderLength}
}

func (h FileHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderLength)
	copy(buf[0:4], headerMagic)
	bx.PutU16At(buf, 4, headerVersion)
	bx.PutU32At(buf, 8, HeaderLength)
	bx.PutI64At(buf, 16, h.DelLink)
	bx.PutU64At(buf, 24, h.Deleted)
	bx.PutU64At(buf, 32, h.Empty)
	bx.PutU64At(buf, 40, h.Records)
	bx.PutI64At(buf, 48, h.DataLength)
	bx.PutU64At(buf, 56, h.Splits)
	bx.PutU32At(buf, 12, fold32(xxhash.Sum64(buf[16:])))
	return buf, nil
}

func (h *FileHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderLength || string(buf[0:4]) != headerMagic {
		return common.ErrBadMagic
	}
	if v := bx.U16At(buf, 4); v != headerVersion {
		return fmt.Errorf("%w: version %d", common.ErrBadMagic, v)
	}
	if n := bx.U32At(buf, 8); n != HeaderLength {
		return fmt.Errorf("%w: header length %d", common.ErrBadHeader, n)
	}
	if bx.U32At(buf, 12) != fold32(xxhash.Sum64(buf[16:HeaderLength])) {
		return common.ErrBadHeader
	}
	h.DelLink = bx.I64At(buf, 16)
	h.Deleted = bx.U64At(buf, 24)
	h.Empty = bx.U64At(buf, 32)
	h.Records = bx.U64At(buf, 40)
	h.DataLength = bx.I64At(buf, 48)
	h.Splits = bx.U64At(buf, 56)
	return nil
}

// ReadHeader loads the table state from the start of the file.
func (d *DataFile) ReadHeader() (FileHeader, error) {
	var h FileHeader
	buf := make([]byte, HeaderLength)
	if _, err := d.ReadAt(buf, 0); err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := h.UnmarshalBinary(buf); err != nil {
		return h, err
	}
	return h, nil
}

// WriteHeader stores the table state at the start of the file.
func (d *DataFile) WriteHeader(h FileHeader) error {
	buf, _ := h.MarshalBinary()
	if err := d.Extend(HeaderLength); err != nil {
		return err
	}
	_, err := d.WriteAt(buf, 0)
	return err
}

func fold32(s uint64) uint32 { return uint32(s>>32) ^ uint32(s) }
