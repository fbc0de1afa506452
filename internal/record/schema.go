package record

import (
	"errors"
	"fmt"
	"math"
)

type ColumnType uint8

const (
	ColInt32 ColumnType = iota
	ColInt64
	ColBool
	ColFloat64
	ColText  // UTF-8, up to Length bytes
	ColBytes // opaque bytes
	ColChar  // fixed-width text, space padded
	ColFixed // fixed-width raw bytes
)

func (t ColumnType) String() string {
	switch t {
	case ColInt32:
		return "int32"
	case ColInt64:
		return "int64"
	case ColBool:
		return "bool"
	case ColFloat64:
		return "float64"
	case ColText:
		return "text"
	case ColBytes:
		return "bytes"
	case ColChar:
		return "char"
	case ColFixed:
		return "fixed"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Strategy is how a column is packed.
type Strategy uint8

const (
	StrategyAuto Strategy = iota // derived from the column type
	Normal                       // verbatim fixed bytes
	SkipZero                     // omitted when all zero
	SkipEndspace                 // trailing spaces trimmed
	SkipPrespace                 // leading spaces trimmed
	Varchar                      // length prefix + payload
	Blob                         // fixed-width length prefix + payload
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case Normal:
		return "normal"
	case SkipZero:
		return "skip_zero"
	case SkipEndspace:
		return "skip_endspace"
	case SkipPrespace:
		return "skip_prespace"
	case Varchar:
		return "varchar"
	case Blob:
		return "blob"
	default:
		return fmt.Sprintf("strategy(%d)", uint8(s))
	}
}

// ParseStrategy maps a configuration name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	for st := StrategyAuto; st <= Blob; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	if s == "" {
		return StrategyAuto, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrBadSchema, s)
}

// ParseColumnType maps a configuration name to a ColumnType.
func ParseColumnType(s string) (ColumnType, error) {
	for ct := ColInt32; ct <= ColFixed; ct++ {
		if ct.String() == s {
			return ct, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown column type %q", ErrBadSchema, s)
}

type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// Length is the width of CHAR/FIXED columns and the maximum byte length
	// of TEXT columns.
	Length   int
	Strategy Strategy
	// BlobPrefix is the width (1..4) of a BYTES length prefix; 0 means 4.
	BlobPrefix int
}

type Schema struct {
	Cols []Column
	// Checksum appends the low byte of the row checksum to packed rows.
	Checksum bool
}

func (s Schema) NumCols() int { return len(s.Cols) }

var (
	ErrBadSchema       = errors.New("record: invalid schema")
	ErrSchemaMismatch  = errors.New("record: schema/values mismatch")
	ErrNullNotAllowed  = errors.New("record: null value in non-nullable column")
	ErrVarTooLong      = errors.New("record: value exceeds column length")
	ErrUnsupportedType = errors.New("record: unsupported type")
	ErrFieldWidth      = errors.New("record: fixed field has wrong width")
)

const (
	maxVarcharLen      = math.MaxUint16
	maxFixedWidth      = math.MaxInt16 // trimmed lengths use at most 15 bits
	shortVarcharMaxLen = 255
	defaultBlobPrefix  = 4
)

var fixedWidthOfNumeric = map[ColumnType]int{ColInt32: 4, ColInt64: 8, ColFloat64: 8, ColBool: 1}

// field is a compiled column.
type field struct {
	col      Column
	strategy Strategy
	width    int  // fixed width, or max length for Varchar
	prefix   int  // length prefix bytes of Varchar/Blob
	nullBit  int  // bit in the null bitmap, -1 when not nullable
	flag     bool // consumes a bit of the flag bitmap
}

// Format is a compiled Schema: the packer's view of a row.
type Format struct {
	schema    Schema
	fields    []field
	flagBits  int
	flagBytes int
	nullBytes int
	// minPacked is the shortest packed record the schema can produce.
	minPacked int
	// maxPacked bounds packed rows without blob payloads.
	maxPacked int
}

// Compile validates s and resolves its packing strategies.
func (s Schema) Compile() (*Format, error) {
	if len(s.Cols) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrBadSchema)
	}
	f := &Format{schema: s, fields: make([]field, len(s.Cols))}
	nulls := 0
	for i, col := range s.Cols {
		fd, err := compileColumn(col)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name, err)
		}
		fd.nullBit = -1
		if col.Nullable {
			fd.nullBit = nulls
			nulls++
		}
		if fd.flag {
			f.flagBits++
		}
		switch fd.strategy {
		case Normal:
			if !col.Nullable {
				f.minPacked += fd.width
			}
			f.maxPacked += fd.width
		case SkipZero, SkipEndspace, SkipPrespace:
			f.maxPacked += fd.width
		case Varchar:
			if !col.Nullable {
				f.minPacked += fd.prefix
			}
			f.maxPacked += fd.prefix + fd.width
		case Blob:
			f.maxPacked += fd.prefix
		}
		f.fields[i] = fd
	}
	f.flagBytes = (f.flagBits + 7) / 8
	f.nullBytes = (nulls + 7) / 8
	f.minPacked += f.flagBytes + f.nullBytes
	f.maxPacked += f.flagBytes + f.nullBytes
	if s.Checksum {
		f.minPacked++
		f.maxPacked++
	}
	return f, nil
}

func compileColumn(col Column) (field, error) {
	fd := field{col: col, strategy: col.Strategy}
	switch col.Type {
	case ColInt32, ColInt64, ColFloat64, ColBool:
		fd.width = fixedWidthOfNumeric[col.Type]
		if fd.strategy == StrategyAuto {
			fd.strategy = SkipZero
			if col.Type == ColBool {
				fd.strategy = Normal
			}
		}
		if fd.strategy != Normal && fd.strategy != SkipZero {
			return fd, fmt.Errorf("%w: %s cannot use %s", ErrBadSchema, col.Type, fd.strategy)
		}

	case ColChar, ColFixed:
		if col.Length <= 0 || col.Length > maxFixedWidth {
			return fd, fmt.Errorf("%w: %s length %d", ErrBadSchema, col.Type, col.Length)
		}
		fd.width = col.Length
		if fd.strategy == StrategyAuto {
			fd.strategy = Normal
			if col.Type == ColChar {
				fd.strategy = SkipEndspace
			}
		}
		if fd.strategy == Varchar || fd.strategy == Blob {
			return fd, fmt.Errorf("%w: %s cannot use %s", ErrBadSchema, col.Type, fd.strategy)
		}

	case ColText:
		if col.Length <= 0 || col.Length > maxVarcharLen {
			return fd, fmt.Errorf("%w: text length %d", ErrBadSchema, col.Length)
		}
		if fd.strategy != StrategyAuto && fd.strategy != Varchar {
			return fd, fmt.Errorf("%w: text cannot use %s", ErrBadSchema, fd.strategy)
		}
		fd.strategy = Varchar
		fd.width = col.Length
		fd.prefix = 1
		if col.Length > shortVarcharMaxLen {
			fd.prefix = 2
		}

	case ColBytes:
		if fd.strategy != StrategyAuto && fd.strategy != Blob {
			return fd, fmt.Errorf("%w: bytes cannot use %s", ErrBadSchema, fd.strategy)
		}
		fd.strategy = Blob
		fd.prefix = col.BlobPrefix
		if fd.prefix == 0 {
			fd.prefix = defaultBlobPrefix
		}
		if fd.prefix < 1 || fd.prefix > 4 {
			return fd, fmt.Errorf("%w: blob prefix %d", ErrBadSchema, fd.prefix)
		}

	default:
		return fd, ErrUnsupportedType
	}

	switch fd.strategy {
	case SkipZero, SkipEndspace, SkipPrespace, Blob:
		fd.flag = true
	}
	return fd, nil
}

func (f *Format) Schema() Schema { return f.schema }

// NumFields returns the number of columns.
func (f *Format) NumFields() int { return len(f.fields) }

// FlagBytes is the size of the pack-flag bitmap.
func (f *Format) FlagBytes() int { return f.flagBytes }

// NullBytes is the size of the null bitmap.
func (f *Format) NullBytes() int { return f.nullBytes }

// MinPackedLen is the shortest packed record of this format.
func (f *Format) MinPackedLen() int { return f.minPacked }

// MaxPackedLen bounds packed records, not counting blob payloads.
func (f *Format) MaxPackedLen() int { return f.maxPacked }

// HasBlobs reports whether packed rows can be of unbounded length.
func (f *Format) HasBlobs() bool {
	for _, fd := range f.fields {
		if fd.strategy == Blob {
			return true
		}
	}
	return false
}

// StrategyOf returns the resolved strategy of column i.
func (f *Format) StrategyOf(i int) Strategy { return f.fields[i].strategy }

// maxBlobLen is the largest payload a blob prefix of n bytes can describe.
func maxBlobLen(n int) uint64 { return 1<<(8*uint(n)) - 1 }
