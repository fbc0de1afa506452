package record

import (
	"bytes"
	"fmt"
	"math"

	"github.com/tuannm99/novarec/internal/alias/bx"
)

// ---- Encode(values) -> Row ----
// INT32/INT64/FLOAT64: little-endian fixed bytes
// BOOL: 1 byte
// CHAR: space padded to Length
// FIXED: zero padded to Length
// TEXT/BYTES: payload as is
func (f *Format) Encode(values []any) (Row, error) {
	if len(values) != len(f.fields) {
		return Row{}, ErrSchemaMismatch
	}
	r := f.NewRow()
	for i, fd := range f.fields {
		v := values[i]
		if v == nil {
			if !fd.col.Nullable {
				return Row{}, fmt.Errorf("column %q: %w", fd.col.Name, ErrNullNotAllowed)
			}
			f.SetNull(r, i, true)
			continue
		}
		b, err := encodeValue(fd, v)
		if err != nil {
			return Row{}, fmt.Errorf("column %q: %w", fd.col.Name, err)
		}
		r.Fields[i] = b
	}
	return r, nil
}

func encodeValue(fd field, v any) ([]byte, error) {
	switch fd.col.Type {
	case ColInt32:
		x, ok := asInt32(v)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		b := make([]byte, 4)
		bx.PutU32(b, uint32(x))
		return b, nil

	case ColInt64:
		x, ok := asInt64(v)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		b := make([]byte, 8)
		bx.PutU64(b, uint64(x))
		return b, nil

	case ColBool:
		x, ok := v.(bool)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case ColFloat64:
		x, ok := asFloat64(v)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		b := make([]byte, 8)
		bx.PutU64(b, math.Float64bits(x))
		return b, nil

	case ColChar:
		str, ok := v.(string)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		if len(str) > fd.width {
			return nil, ErrVarTooLong
		}
		b := bytes.Repeat([]byte{' '}, fd.width)
		copy(b, str)
		return b, nil

	case ColFixed:
		bs, ok := asBytes(v)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		if len(bs) > fd.width {
			return nil, ErrVarTooLong
		}
		b := make([]byte, fd.width)
		copy(b, bs)
		return b, nil

	case ColText:
		// expect string -> UTF-8 bytes
		str, ok := v.(string)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		if len(str) > fd.width {
			return nil, ErrVarTooLong
		}
		return []byte(str), nil

	case ColBytes:
		bs, ok := v.([]byte)
		if !ok {
			return nil, ErrSchemaMismatch
		}
		if uint64(len(bs)) > maxBlobLen(fd.prefix) {
			return nil, ErrVarTooLong
		}
		return clone(bs), nil
	}
	return nil, ErrUnsupportedType
}

// ---- Decode(Row) -> values ----
func (f *Format) Decode(r Row) ([]any, error) {
	if len(r.Fields) != len(f.fields) || len(r.Nulls) != f.nullBytes {
		return nil, ErrSchemaMismatch
	}
	out := make([]any, len(f.fields))
	for i, fd := range f.fields {
		if f.IsNull(r, i) {
			continue
		}
		b := r.Fields[i]
		if fd.strategy != Varchar && fd.strategy != Blob && len(b) != fd.width {
			return nil, fmt.Errorf("column %q: %w", fd.col.Name, ErrFieldWidth)
		}
		switch fd.col.Type {
		case ColInt32:
			out[i] = int32(bx.U32(b))
		case ColInt64:
			out[i] = int64(bx.U64(b))
		case ColBool:
			out[i] = b[0] != 0
		case ColFloat64:
			out[i] = math.Float64frombits(bx.U64(b))
		case ColChar:
			out[i] = string(bytes.TrimRight(b, " "))
		case ColFixed:
			out[i] = clone(b)
		case ColText:
			out[i] = string(b) // UTF-8
		case ColBytes:
			// copy so callers never alias the row buffers
			out[i] = clone(b)
		default:
			return nil, ErrUnsupportedType
		}
	}
	return out, nil
}

// PackValues encodes and packs values in one step.
func (f *Format) PackValues(values []any) ([]byte, error) {
	r, err := f.Encode(values)
	if err != nil {
		return nil, err
	}
	return f.Pack(r)
}

// UnpackValues unpacks and decodes a packed record in one step.
func (f *Format) UnpackValues(packed []byte) ([]any, error) {
	r, err := f.Unpack(packed)
	if err != nil {
		return nil, err
	}
	return f.Decode(r)
}

// ---- small helpers to accept multiple numeric types on encode ----
func asInt32(v any) (int32, bool) {
	switch x := v.(type) {
	case int32:
		return x, true
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	case int64:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return int32(x), true
		}
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func asBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	}
	return nil, false
}
