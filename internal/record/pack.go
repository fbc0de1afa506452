package record

import (
	"fmt"

	"github.com/tuannm99/novarec/internal/alias/bx"
	"github.com/tuannm99/novarec/internal/storage/common"
)

// Row is a logical row in its fixed layout: the null-indicator bytes and
// one value per column. Fixed columns hold exactly their width, TEXT holds
// its payload and BYTES its blob. A null column holds nil.
type Row struct {
	Nulls  []byte
	Fields [][]byte
}

// NewRow returns an all-null-clear row with room for every column.
func (f *Format) NewRow() Row {
	return Row{
		Nulls:  make([]byte, f.nullBytes),
		Fields: make([][]byte, len(f.fields)),
	}
}

// IsNull reports whether column i is null in r.
func (f *Format) IsNull(r Row, i int) bool {
	bit := f.fields[i].nullBit
	return bit >= 0 && r.Nulls[bit/8]&(1<<(uint(bit)&7)) != 0
}

// SetNull sets or clears the null bit of column i.
func (f *Format) SetNull(r Row, i int, null bool) {
	bit := f.fields[i].nullBit
	if bit < 0 {
		return
	}
	if null {
		r.Nulls[bit/8] |= 1 << (uint(bit) & 7)
	} else {
		r.Nulls[bit/8] &^= 1 << (uint(bit) & 7)
	}
}

// Pack encodes r as
//
//	[flag bitmap][null bitmap][column payloads][checksum byte?]
//
// A flag bit is spent by every SkipZero, SkipEndspace, SkipPrespace and Blob
// column, in column order, and is set when the short form was used (for a
// blob: when it is empty). Null columns write nothing.
func (f *Format) Pack(r Row) ([]byte, error) {
	if len(r.Fields) != len(f.fields) || len(r.Nulls) != f.nullBytes {
		return nil, ErrSchemaMismatch
	}

	flags := make([]byte, f.flagBytes)
	fw := newFlagWriter(flags)
	out := make([]byte, f.flagBytes, f.flagBytes+f.nullBytes+f.maxPacked)
	out = append(out, r.Nulls...)

	for i, fd := range f.fields {
		v := r.Fields[i]
		if f.IsNull(r, i) {
			if fd.flag {
				fw.put(false)
			}
			continue
		}

		switch fd.strategy {
		case Normal:
			if len(v) != fd.width {
				return nil, fmt.Errorf("column %q: %w", fd.col.Name, ErrFieldWidth)
			}
			out = append(out, v...)

		case SkipZero:
			if len(v) != fd.width {
				return nil, fmt.Errorf("column %q: %w", fd.col.Name, ErrFieldWidth)
			}
			zero := allZero(v)
			fw.put(zero)
			if !zero {
				out = append(out, v...)
			}

		case SkipEndspace, SkipPrespace:
			if len(v) != fd.width {
				return nil, fmt.Errorf("column %q: %w", fd.col.Name, ErrFieldWidth)
			}
			trimmed := trimSpaces(v, fd.strategy == SkipEndspace)
			n := len(trimmed)
			long := fd.width > 255 && n > 127
			prefix := 1
			if long {
				prefix = 2
			}
			if n+prefix >= fd.width {
				fw.put(false)
				out = append(out, v...)
				break
			}
			fw.put(true)
			if long {
				out = append(out, byte(n&127)|128, byte(n>>7))
			} else {
				out = append(out, byte(n))
			}
			out = append(out, trimmed...)

		case Varchar:
			if len(v) > fd.width {
				return nil, fmt.Errorf("column %q: %w", fd.col.Name, ErrVarTooLong)
			}
			var l [2]byte
			bx.PutUN(l[:], fd.prefix, uint32(len(v)))
			out = append(out, l[:fd.prefix]...)
			out = append(out, v...)

		case Blob:
			if uint64(len(v)) > maxBlobLen(fd.prefix) {
				return nil, fmt.Errorf("column %q: %w", fd.col.Name, ErrVarTooLong)
			}
			fw.put(len(v) == 0)
			if len(v) == 0 {
				break
			}
			var l [4]byte
			bx.PutUN(l[:], fd.prefix, uint32(len(v)))
			out = append(out, l[:fd.prefix]...)
			out = append(out, v...)
		}
	}

	copy(out, flags)
	if f.schema.Checksum {
		out = append(out, byte(f.Checksum(r)))
	}
	return out, nil
}

// Unpack decodes a packed record. Any disagreement between the flags, the
// prefixes and the buffer length is ErrWrongInRecord: the input cursor must
// land exactly on the end of the payload and every fixed column must come
// out at its declared width.
func (f *Format) Unpack(packed []byte) (Row, error) {
	end := len(packed)
	if f.schema.Checksum {
		end--
	}
	if len(packed) < f.minPacked {
		return Row{}, wrongInRecord("record of %d bytes, need at least %d", len(packed), f.minPacked)
	}

	fr := newFlagReader(packed[:f.flagBytes])
	pos := f.flagBytes
	r := Row{
		Nulls:  clone(packed[pos : pos+f.nullBytes]),
		Fields: make([][]byte, len(f.fields)),
	}
	pos += f.nullBytes

	// take returns the next n payload bytes
	take := func(n int) ([]byte, bool) {
		if n < 0 || pos+n > end {
			return nil, false
		}
		b := packed[pos : pos+n]
		pos += n
		return b, true
	}

	for i, fd := range f.fields {
		if f.IsNull(r, i) {
			if fd.flag && fr.next() {
				return Row{}, wrongInRecord("column %q: flag set on null column", fd.col.Name)
			}
			continue
		}

		switch fd.strategy {
		case Normal:
			b, ok := take(fd.width)
			if !ok {
				return Row{}, wrongInRecord("column %q: truncated", fd.col.Name)
			}
			r.Fields[i] = clone(b)

		case SkipZero:
			if fr.next() {
				r.Fields[i] = make([]byte, fd.width)
				break
			}
			b, ok := take(fd.width)
			if !ok {
				return Row{}, wrongInRecord("column %q: truncated", fd.col.Name)
			}
			r.Fields[i] = clone(b)

		case SkipEndspace, SkipPrespace:
			if !fr.next() {
				b, ok := take(fd.width)
				if !ok {
					return Row{}, wrongInRecord("column %q: truncated", fd.col.Name)
				}
				r.Fields[i] = clone(b)
				break
			}
			if pos >= end {
				return Row{}, wrongInRecord("column %q: missing length", fd.col.Name)
			}
			n := int(packed[pos])
			pos++
			if fd.width > 255 && n&128 != 0 {
				if pos >= end {
					return Row{}, wrongInRecord("column %q: missing length", fd.col.Name)
				}
				n = n&127 | int(packed[pos])<<7
				pos++
			}
			if n >= fd.width {
				return Row{}, wrongInRecord("column %q: trimmed length %d >= %d", fd.col.Name, n, fd.width)
			}
			b, ok := take(n)
			if !ok {
				return Row{}, wrongInRecord("column %q: truncated", fd.col.Name)
			}
			r.Fields[i] = padSpaces(b, fd.width, fd.strategy == SkipEndspace)

		case Varchar:
			l, ok := take(fd.prefix)
			if !ok {
				return Row{}, wrongInRecord("column %q: missing length", fd.col.Name)
			}
			n := int(bx.UN(l, fd.prefix))
			if n > fd.width {
				return Row{}, wrongInRecord("column %q: length %d > %d", fd.col.Name, n, fd.width)
			}
			b, ok := take(n)
			if !ok {
				return Row{}, wrongInRecord("column %q: truncated", fd.col.Name)
			}
			r.Fields[i] = clone(b)

		case Blob:
			if fr.next() {
				r.Fields[i] = []byte{}
				break
			}
			l, ok := take(fd.prefix)
			if !ok {
				return Row{}, wrongInRecord("column %q: missing blob length", fd.col.Name)
			}
			b, ok := take(int(bx.UN(l, fd.prefix)))
			if !ok {
				return Row{}, wrongInRecord("column %q: truncated blob", fd.col.Name)
			}
			r.Fields[i] = clone(b)
		}
	}

	if pos != end {
		return Row{}, wrongInRecord("record ends at %d, payload at %d", end, pos)
	}
	if !fr.clean() {
		return Row{}, wrongInRecord("stray pack flags")
	}
	return r, nil
}

func wrongInRecord(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{common.ErrWrongInRecord}, args...)...)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func trimSpaces(b []byte, trailing bool) []byte {
	if trailing {
		end := len(b)
		for end > 0 && b[end-1] == ' ' {
			end--
		}
		return b[:end]
	}
	start := 0
	for start < len(b) && b[start] == ' ' {
		start++
	}
	return b[start:]
}

func padSpaces(b []byte, width int, trailing bool) []byte {
	out := make([]byte, width)
	for i := range out {
		out[i] = ' '
	}
	if trailing {
		copy(out, b)
	} else {
		copy(out[width-len(b):], b)
	}
	return out
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
