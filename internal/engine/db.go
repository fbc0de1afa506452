package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tuannm99/novarec/internal/heap"
	"github.com/tuannm99/novarec/internal/record"
	"github.com/tuannm99/novarec/internal/storage"
	"github.com/tuannm99/novarec/internal/storage/common"
)

var (
	ErrDatabaseClosed = errors.New("novarec: database is closed")
	ErrTableExists    = errors.New("novarec: table already exists")
	ErrNoSuchTable    = errors.New("novarec: no such table")
)

type DatabaseOperation interface {
	CreateTable(name string, schema record.Schema) (*heap.Table, error)
	OpenTable(name string) (*heap.Table, error)
	Close() error
}

// TableMeta is kept next to the data file; the data file itself only knows
// blocks, not columns.
type TableMeta struct {
	Name      string        `json:"name"`
	Schema    record.Schema `json:"schema"`
	Records   uint64        `json:"records"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

var _ DatabaseOperation = (*Database)(nil)

// Database is a directory of heap tables. Opened tables are cached until
// Close.
type Database struct {
	DataDir string
	opts    heap.Options
	log     *slog.Logger
	tables  map[string]*heap.Table
	closed  bool
}

// NewDatabase creates a new database handle without touching the filesystem.
func NewDatabase(dataDir string, opts heap.Options) *Database {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Database{
		DataDir: dataDir,
		opts:    opts,
		log:     log,
		tables:  make(map[string]*heap.Table),
	}
}

func (db *Database) tableDir() string {
	return filepath.Join(db.DataDir, "tables")
}

func (db *Database) tableMetaPath(name string) string {
	return filepath.Join(db.tableDir(), name+".meta.json")
}

func (db *Database) tableFileSet(name string) storage.LocalFileSet {
	return storage.LocalFileSet{
		Dir:  db.tableDir(),
		Base: name,
	}
}

// writeTableMeta stamps UpdatedAt and replaces the meta file.
func (db *Database) writeTableMeta(meta *TableMeta) error {
	path := db.tableMetaPath(meta.Name)

	if err := os.MkdirAll(db.tableDir(), common.FileMode0755); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, common.FileMode0644)
}

func (db *Database) readTableMeta(name string) (*TableMeta, error) {
	path := db.tableMetaPath(name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
		}
		return nil, err
	}

	var meta TableMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("table %s meta: %w", name, err)
	}
	return &meta, nil
}

func (db *Database) CreateTable(name string, schema record.Schema) (*heap.Table, error) {
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if _, err := os.Stat(db.tableMetaPath(name)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, name)
	}
	format, err := schema.Compile()
	if err != nil {
		return nil, err
	}

	tbl, err := heap.Create(db.tableFileSet(name), format, db.opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	meta := &TableMeta{
		Name:      name,
		Schema:    schema,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.writeTableMeta(meta); err != nil {
		_ = tbl.Close()
		return nil, err
	}

	db.tables[name] = tbl
	db.log.Info("engine: created table", "table", name, "columns", len(schema.Cols))
	return tbl, nil
}

func (db *Database) OpenTable(name string) (*heap.Table, error) {
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if tbl, ok := db.tables[name]; ok {
		return tbl, nil
	}

	meta, err := db.readTableMeta(name)
	if err != nil {
		return nil, err
	}
	format, err := meta.Schema.Compile()
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}

	tbl, err := heap.Open(db.tableFileSet(name), format, db.opts)
	if err != nil {
		return nil, err
	}
	if st := tbl.State(); st.Records != meta.Records {
		// the meta snapshot is only refreshed on close
		db.log.Info("engine: record count differs from meta",
			"table", name,
			"meta", meta.Records,
			"file", st.Records,
		)
	}

	db.tables[name] = tbl
	return tbl, nil
}

// Tables lists the tables that have a meta file.
func (db *Database) Tables() ([]string, error) {
	entries, err := os.ReadDir(db.tableDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".meta.json"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SyncTableMeta stores the current record count of tbl in its meta file.
func (db *Database) SyncTableMeta(tbl *heap.Table) error {
	meta, err := db.readTableMeta(tbl.Name)
	if err != nil {
		return err
	}
	meta.Records = tbl.State().Records
	return db.writeTableMeta(meta)
}

// Close syncs meta files and closes every opened table.
func (db *Database) Close() error {
	if db.closed {
		return ErrDatabaseClosed
	}
	db.closed = true

	var errs []error
	for name, tbl := range db.tables {
		if err := db.SyncTableMeta(tbl); err != nil {
			errs = append(errs, fmt.Errorf("table %s meta: %w", name, err))
		}
		if err := tbl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("table %s: %w", name, err))
		}
	}
	db.tables = nil
	return errors.Join(errs...)
}
