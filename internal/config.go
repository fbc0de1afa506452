package internal

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/tuannm99/novarec/internal/block"
	"github.com/tuannm99/novarec/internal/heap"
	"github.com/tuannm99/novarec/internal/record"
	"github.com/tuannm99/novarec/internal/storage"
)

const EnvPrefix = "NOVAREC"

type ColumnConfig struct {
	Name       string `mapstructure:"name"`
	Type       string `mapstructure:"type"`
	Nullable   bool   `mapstructure:"nullable"`
	Length     int    `mapstructure:"length"`
	Strategy   string `mapstructure:"strategy"`
	BlobPrefix int    `mapstructure:"blob_prefix"`
}

type NovaRecConfig struct {
	AppName string `mapstructure:"app_name"`

	Storage struct {
		Workdir   string `mapstructure:"workdir"`
		MmapSize  int64  `mapstructure:"mmap_size"`
		GrowChunk int64  `mapstructure:"grow_chunk"`
	} `mapstructure:"storage"`

	Table struct {
		Name              string         `mapstructure:"name"`
		MaxDataLength     int64          `mapstructure:"max_data_length"`
		MaxRecordLength   uint32         `mapstructure:"max_record_length"`
		AppendInsertAtEnd bool           `mapstructure:"append_insert_at_end"`
		Checksum          bool           `mapstructure:"checksum"`
		Columns           []ColumnConfig `mapstructure:"columns"`

		Geometry struct {
			Align       uint32 `mapstructure:"align"`
			MinBlockLen uint32 `mapstructure:"min_block_len"`
			MaxBlockLen uint32 `mapstructure:"max_block_len"`
			SplitLen    uint32 `mapstructure:"split_len"`
			ExtendLen   uint32 `mapstructure:"extend_len"`
		} `mapstructure:"geometry"`
	} `mapstructure:"table"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	def := heap.DefaultOptions()
	g := def.Geometry

	v.SetDefault("app_name", "novarec")
	v.SetDefault("storage.workdir", "./data")
	v.SetDefault("storage.mmap_size", def.Storage.MmapSize)
	v.SetDefault("storage.grow_chunk", def.Storage.GrowChunk)

	v.SetDefault("table.name", "rows")
	v.SetDefault("table.max_data_length", def.MaxDataLength)
	v.SetDefault("table.max_record_length", def.MaxRecordLength)
	v.SetDefault("table.append_insert_at_end", false)
	v.SetDefault("table.checksum", true)
	v.SetDefault("table.geometry.align", g.Align)
	v.SetDefault("table.geometry.min_block_len", g.MinBlockLen)
	v.SetDefault("table.geometry.max_block_len", g.MaxBlockLen)
	v.SetDefault("table.geometry.split_len", g.SplitLen)
	v.SetDefault("table.geometry.extend_len", g.ExtendLen)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads the YAML file at path on top of the defaults. An empty
// path uses defaults only. NOVAREC_* environment variables override both,
// e.g. NOVAREC_TABLE_NAME.
func LoadConfig(path string) (*NovaRecConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg NovaRecConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// TableOptions converts the table and storage sections to heap options.
func (c *NovaRecConfig) TableOptions(log *slog.Logger) heap.Options {
	g := c.Table.Geometry
	return heap.Options{
		Geometry: block.Geometry{
			Align:       g.Align,
			MinBlockLen: g.MinBlockLen,
			MaxBlockLen: g.MaxBlockLen,
			SplitLen:    g.SplitLen,
			ExtendLen:   g.ExtendLen,
		},
		MaxDataLength:     c.Table.MaxDataLength,
		MaxRecordLength:   c.Table.MaxRecordLength,
		AppendInsertAtEnd: c.Table.AppendInsertAtEnd,
		Storage: storage.Options{
			MmapSize:  c.Storage.MmapSize,
			GrowChunk: c.Storage.GrowChunk,
		},
		Logger: log,
	}
}

// Schema converts the configured columns.
func (c *NovaRecConfig) Schema() (record.Schema, error) {
	s := record.Schema{Checksum: c.Table.Checksum}
	for _, cc := range c.Table.Columns {
		typ, err := record.ParseColumnType(cc.Type)
		if err != nil {
			return record.Schema{}, fmt.Errorf("column %q: %w", cc.Name, err)
		}
		st, err := record.ParseStrategy(cc.Strategy)
		if err != nil {
			return record.Schema{}, fmt.Errorf("column %q: %w", cc.Name, err)
		}
		s.Cols = append(s.Cols, record.Column{
			Name:       cc.Name,
			Type:       typ,
			Nullable:   cc.Nullable,
			Length:     cc.Length,
			Strategy:   st,
			BlobPrefix: cc.BlobPrefix,
		})
	}
	return s, nil
}

// NewLogger builds the slog logger described by the log section.
func NewLogger(c *NovaRecConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("log format %q: want text or json", c.Log.Format)
	}
	return slog.New(h).With("app", c.AppName), nil
}
