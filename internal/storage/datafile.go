package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tuannm99/novarec/internal/alias/util"
	"github.com/tuannm99/novarec/internal/storage/common"
)

const (
	DataFileExt      = ".nrd"
	DefaultGrowChunk = 64 * common.OneKB
)

// LocalFileSet represents a local directory + base table name.
// The data file is stored as Dir/Base.nrd.
type LocalFileSet struct {
	Dir  string
	Base string
}

func (lfs LocalFileSet) DataPath() string {
	return filepath.Join(lfs.Dir, lfs.Base+DataFileExt)
}

// OpenData opens (and optionally creates) the table data file.
func (lfs LocalFileSet) OpenData(create bool) (*os.File, error) {
	flags := os.O_RDWR
	if create {
		if err := os.MkdirAll(lfs.Dir, common.FileMode0755); err != nil {
			return nil, err
		}
		flags |= os.O_CREATE
	}
	// RDWR (| CREATE), never truncate
	return os.OpenFile(lfs.DataPath(), flags, common.FileMode0644)
}

// Options tune the byte store.
type Options struct {
	// MmapSize bounds the memory mapping; 0 disables the mapped fast path.
	MmapSize int64
	// GrowChunk is the granularity used when the physical file grows.
	GrowChunk int64
}

// DataFile is the byte store under a table: positioned I/O plus a bounded
// shared mapping of the file prefix.
//
// Ordinary mapped reads and writes hold mu for reading; growing the mapping
// holds it for writing, so nobody dereferences a mapping mid-resize.
type DataFile struct {
	f    *os.File
	opts Options
	size atomic.Int64 // physical file size

	mu     sync.RWMutex
	mapped []byte
}

// NewDataFile wraps an already opened file.
func NewDataFile(f *os.File, opts Options) (*DataFile, error) {
	if opts.GrowChunk <= 0 {
		opts.GrowChunk = DefaultGrowChunk
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	d := &DataFile{f: f, opts: opts}
	d.size.Store(info.Size())
	if err := d.remap(); err != nil {
		return nil, err
	}
	return d, nil
}

// Open opens the data file of fs.
func Open(fs LocalFileSet, create bool, opts Options) (*DataFile, error) {
	f, err := fs.OpenData(create)
	if err != nil {
		return nil, err
	}
	d, err := NewDataFile(f, opts)
	if err != nil {
		util.CloseFileFunc(f)
		return nil, err
	}
	return d, nil
}

func (d *DataFile) Name() string { return d.f.Name() }

// Size returns the physical file size, which may run ahead of the table's
// logical data length.
func (d *DataFile) Size() int64 { return d.size.Load() }

// Mapped returns the length of the current mapping.
func (d *DataFile) Mapped() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.mapped))
}

// ReadAt reads len(p) bytes at off, through the mapping when the whole
// range is mapped.
func (d *DataFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, common.ErrInvalidOperation
	}
	d.mu.RLock()
	if end := off + int64(len(p)); end <= int64(len(d.mapped)) {
		n := copy(p, d.mapped[off:end])
		d.mu.RUnlock()
		return n, nil
	}
	d.mu.RUnlock()

	n, err := d.f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read %d@%d: %v", common.ErrStorageIO, len(p), off, err)
	}
	return n, err
}

// WriteAt writes p at off, through the mapping when the whole range is
// mapped.
func (d *DataFile) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, common.ErrInvalidOperation
	}
	end := off + int64(len(p))
	d.mu.RLock()
	if end <= int64(len(d.mapped)) {
		n := copy(d.mapped[off:end], p)
		d.mu.RUnlock()
		return n, nil
	}
	d.mu.RUnlock()

	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%w: write %d@%d: %v", common.ErrStorageIO, len(p), off, err)
	}
	if n != len(p) {
		return n, io.ErrShortWrite
	}
	for {
		cur := d.size.Load()
		if end <= cur || d.size.CompareAndSwap(cur, end) {
			break
		}
	}
	return n, nil
}

// Extend makes sure the physical file covers [0, newLen). The file grows in
// GrowChunk steps and the mapping follows it up to MmapSize.
func (d *DataFile) Extend(newLen int64) error {
	if newLen <= d.size.Load() {
		return nil
	}
	target := (newLen + d.opts.GrowChunk - 1) / d.opts.GrowChunk * d.opts.GrowChunk
	if err := d.f.Truncate(target); err != nil {
		return fmt.Errorf("%w: extend to %d: %v", common.ErrStorageIO, target, err)
	}
	d.size.Store(target)
	slog.Debug("datafile: extended", "file", d.f.Name(), "size", target)
	return d.remap()
}

// Truncate sets the physical size to n, dropping the mapping first.
func (d *DataFile) Truncate(n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.unmapLocked(); err != nil {
		return err
	}
	if err := d.f.Truncate(n); err != nil {
		return fmt.Errorf("%w: truncate to %d: %v", common.ErrStorageIO, n, err)
	}
	d.size.Store(n)
	return nil
}

// Sync flushes the mapping and the file.
func (d *DataFile) Sync() error {
	d.mu.RLock()
	if len(d.mapped) > 0 {
		if err := msyncFile(d.mapped); err != nil {
			d.mu.RUnlock()
			return fmt.Errorf("%w: msync: %v", common.ErrStorageIO, err)
		}
	}
	d.mu.RUnlock()
	return d.f.Sync()
}

func (d *DataFile) Close() error {
	d.mu.Lock()
	err := d.unmapLocked()
	d.mu.Unlock()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// remap grows the mapping to min(size, MmapSize) when that is larger than
// what is mapped now.
func (d *DataFile) remap() error {
	want := min(d.size.Load(), d.opts.MmapSize)
	if want <= 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if want <= int64(len(d.mapped)) {
		return nil
	}
	if err := d.unmapLocked(); err != nil {
		return err
	}
	m, err := mmapFile(d.f, int(want))
	if err != nil {
		// positioned I/O still works, only the fast path is lost
		slog.Warn("datafile: mmap failed, using positioned I/O",
			"file", d.f.Name(),
			"size", want,
			"err", err,
		)
		return nil
	}
	d.mapped = m
	slog.Debug("datafile: remapped", "file", d.f.Name(), "mapped", want)
	return nil
}

func (d *DataFile) unmapLocked() error {
	if d.mapped == nil {
		return nil
	}
	err := munmapFile(d.mapped)
	d.mapped = nil
	if err != nil {
		return fmt.Errorf("%w: munmap: %v", common.ErrStorageIO, err)
	}
	return nil
}
