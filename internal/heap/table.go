package heap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/novarec/internal/alias/bx"
	"github.com/tuannm99/novarec/internal/block"
	"github.com/tuannm99/novarec/internal/record"
	"github.com/tuannm99/novarec/internal/storage"
	"github.com/tuannm99/novarec/internal/storage/common"
)

const (
	DefaultMaxDataLength   = int64(1) << 40
	DefaultMaxRecordLength = 64 * common.OneMB
	DefaultMmapSize        = 64 * common.OneMB
)

// Options tune a table. Zero values are replaced by the defaults.
type Options struct {
	Geometry block.Geometry
	// MaxDataLength caps the logical data file length.
	MaxDataLength int64
	// MaxRecordLength caps the scratch buffer of a single read.
	MaxRecordLength uint32
	// AppendInsertAtEnd makes inserts ignore the delete chain.
	AppendInsertAtEnd bool
	Storage           storage.Options
	Logger            *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Geometry:        block.DefaultGeometry(),
		MaxDataLength:   DefaultMaxDataLength,
		MaxRecordLength: DefaultMaxRecordLength,
		Storage: storage.Options{
			MmapSize:  DefaultMmapSize,
			GrowChunk: storage.DefaultGrowChunk,
		},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Geometry == (block.Geometry{}) {
		o.Geometry = def.Geometry
	}
	if o.MaxDataLength <= 0 {
		o.MaxDataLength = def.MaxDataLength
	}
	if o.MaxRecordLength == 0 {
		o.MaxRecordLength = def.MaxRecordLength
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Table is a heap of variable-length records stored as chains of blocks in
// one data file. Free blocks form a doubly linked delete chain whose head
// lives in the file header.
//
// A Table is not safe for concurrent use; callers serialize access.
type Table struct {
	Name   string
	log    *slog.Logger
	file   *storage.DataFile
	format *record.Format
	opts   Options
	state  storage.FileHeader

	hdr     [block.MaxHeaderLen]byte
	scratch []byte
	wbuf    []byte

	// live scan: scanIssued is the resume position handed out last,
	// scanNext the same position after unlinks moved it.
	scanIssued int64
	scanNext   int64
}

// Create makes a new empty table in fs. An existing non-empty data file is
// an error.
func Create(fs storage.LocalFileSet, format *record.Format, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	f, err := storage.Open(fs, true, opts.Storage)
	if err != nil {
		return nil, err
	}
	if f.Size() > 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: table %s already exists", common.ErrInvalidOperation, fs.Base)
	}
	t := newTable(fs.Base, f, format, opts, storage.NewFileHeader())
	if err := f.WriteHeader(t.state); err != nil {
		_ = f.Close()
		return nil, err
	}
	t.log.Debug("heap: created table", "file", f.Name())
	return t, nil
}

// Open opens an existing table in fs.
func Open(fs storage.LocalFileSet, format *record.Format, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	f, err := storage.Open(fs, false, opts.Storage)
	if err != nil {
		return nil, err
	}
	h, err := f.ReadHeader()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open table %s: %w", fs.Base, err)
	}
	if h.DataLength < storage.HeaderLength || h.DataLength > f.Size() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: data length %d, file size %d", common.ErrBadHeader, h.DataLength, f.Size())
	}
	t := newTable(fs.Base, f, format, opts, h)
	t.log.Debug("heap: opened table",
		"file", f.Name(),
		"records", h.Records,
		"dataLength", h.DataLength,
		"deleted", h.Deleted,
	)
	return t, nil
}

func newTable(name string, f *storage.DataFile, format *record.Format, opts Options, h storage.FileHeader) *Table {
	return &Table{
		Name:       name,
		log:        opts.Logger.With("table", name),
		file:       f,
		format:     format,
		opts:       opts,
		state:      h,
		scanIssued: common.NilPos,
		scanNext:   common.NilPos,
	}
}

// Format returns the record format rows are packed with.
func (t *Table) Format() *record.Format { return t.format }

// State returns a copy of the table counters.
func (t *Table) State() storage.FileHeader { return t.state }

func (t *Table) Geometry() block.Geometry { return t.opts.Geometry }

// SetAppendInsertAtEnd switches allocation between reusing the delete
// chain and always growing the file.
func (t *Table) SetAppendInsertAtEnd(on bool) { t.opts.AppendInsertAtEnd = on }

// Flush writes the table state and syncs the data file.
func (t *Table) Flush() error {
	if err := t.file.WriteHeader(t.state); err != nil {
		return err
	}
	return t.file.Sync()
}

// Close flushes the table and trims the physical file to its data length.
func (t *Table) Close() error {
	err := t.Flush()
	if terr := t.file.Truncate(t.state.DataLength); err == nil {
		err = terr
	}
	if cerr := t.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// readBlock reads and decodes the block header at pos. The returned slice
// holds the header followed by whatever payload fit into the same read.
func (t *Table) readBlock(pos int64, continuation bool) (block.Info, []byte, error) {
	if pos < storage.HeaderLength || pos >= t.state.DataLength {
		return block.Info{Pos: pos}, nil, fmt.Errorf("%w: block position %d outside [%d, %d)",
			common.ErrWrongInRecord, pos, storage.HeaderLength, t.state.DataLength)
	}
	n := min(int64(len(t.hdr)), t.state.DataLength-pos)
	raw := t.hdr[:n]
	if _, err := t.file.ReadAt(raw, pos); err != nil {
		return block.Info{Pos: pos}, nil, err
	}
	info, err := block.Decode(raw, pos, continuation)
	if err != nil && !errors.Is(err, common.ErrSyncError) {
		return info, nil, err
	}
	if info.End() > t.state.DataLength {
		return info, nil, fmt.Errorf("%w: %s block at %d ends at %d past data length %d",
			common.ErrWrongInRecord, info.Kind, pos, info.End(), t.state.DataLength)
	}
	return info, raw, err
}

func (t *Table) writeAt(p []byte, off int64) error {
	_, err := t.file.WriteAt(p, off)
	return err
}

// putPos stores a block pointer at off.
func (t *Table) putPos(off, pos int64) error {
	var b [8]byte
	bx.PutI64(b[:], pos)
	return t.writeAt(b[:], off)
}

// grow moves the logical end of the data file.
func (t *Table) grow(n int64) error {
	if err := t.file.Extend(t.state.DataLength + n); err != nil {
		return err
	}
	t.state.DataLength += n
	return nil
}

// buffer returns the scratch buffer resized to n bytes.
func (t *Table) buffer(n int) []byte {
	if cap(t.scratch) < n {
		t.scratch = make([]byte, n)
	}
	return t.scratch[:n]
}
