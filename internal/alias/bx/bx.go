// stand for bytes helper
package bx

import "encoding/binary"

var LE = binary.LittleEndian

// --- LE: read ---
func U16(b []byte) uint16 { return LE.Uint16(b) }
func U32(b []byte) uint32 { return LE.Uint32(b) }
func U64(b []byte) uint64 { return LE.Uint64(b) }
func I64(b []byte) int64  { return int64(U64(b)) }

// U24 reads a 3-byte little-endian integer (block lengths).
func U24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// --- LE: write ---
func PutU16(b []byte, v uint16) { LE.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }
func PutI64(b []byte, v int64)  { PutU64(b, uint64(v)) }

func PutU24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// UN reads an n-byte (1..4) little-endian length prefix.
func UN(b []byte, n int) uint32 {
	var v uint32
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

// PutUN writes the low n bytes (1..4) of v.
func PutUN(b []byte, n int, v uint32) {
	for i := 0; i < n; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// --- LE: At (offset) ---
func U16At(b []byte, off int) uint16       { return U16(b[off:]) }
func U24At(b []byte, off int) uint32       { return U24(b[off:]) }
func U32At(b []byte, off int) uint32       { return U32(b[off:]) }
func U64At(b []byte, off int) uint64       { return U64(b[off:]) }
func I64At(b []byte, off int) int64        { return I64(b[off:]) }
func PutU16At(b []byte, off int, v uint16) { PutU16(b[off:], v) }
func PutU24At(b []byte, off int, v uint32) { PutU24(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { PutU32(b[off:], v) }
func PutU64At(b []byte, off int, v uint64) { PutU64(b[off:], v) }
func PutI64At(b []byte, off int, v int64)  { PutI64(b[off:], v) }
