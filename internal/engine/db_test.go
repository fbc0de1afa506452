package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novarec/internal/heap"
	"github.com/tuannm99/novarec/internal/record"
)

func usersSchema() record.Schema {
	return record.Schema{
		Cols: []record.Column{
			{Name: "id", Type: record.ColInt64},
			{Name: "name", Type: record.ColText, Length: 64},
		},
		Checksum: true,
	}
}

func TestDatabase_CreateReopen(t *testing.T) {
	dir := t.TempDir()

	db := NewDatabase(dir, heap.DefaultOptions())
	tbl, err := db.CreateTable("users", usersSchema())
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		_, err := tbl.Insert([]any{i, "user"})
		require.NoError(t, err)
	}

	_, err = db.CreateTable("users", usersSchema())
	require.ErrorIs(t, err, ErrTableExists)

	same, err := db.OpenTable("users")
	require.NoError(t, err)
	require.Same(t, tbl, same)

	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), ErrDatabaseClosed)
	_, err = db.OpenTable("users")
	require.ErrorIs(t, err, ErrDatabaseClosed)

	db2 := NewDatabase(dir, heap.DefaultOptions())
	defer func() { require.NoError(t, db2.Close()) }()

	names, err := db2.Tables()
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, names)

	meta, err := db2.readTableMeta("users")
	require.NoError(t, err)
	require.Equal(t, uint64(5), meta.Records)
	require.Equal(t, usersSchema(), meta.Schema)

	tbl2, err := db2.OpenTable("users")
	require.NoError(t, err)

	var n int
	require.NoError(t, tbl2.Scan(func(pos int64, row []any) error {
		n++
		require.Equal(t, "user", row[1])
		return nil
	}))
	require.Equal(t, 5, n)
}

func TestDatabase_OpenMissing(t *testing.T) {
	db := NewDatabase(t.TempDir(), heap.DefaultOptions())
	defer func() { require.NoError(t, db.Close()) }()

	_, err := db.OpenTable("nope")
	require.ErrorIs(t, err, ErrNoSuchTable)

	names, err := db.Tables()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestDatabase_CreateRejectsBadSchema(t *testing.T) {
	db := NewDatabase(t.TempDir(), heap.DefaultOptions())
	defer func() { require.NoError(t, db.Close()) }()

	_, err := db.CreateTable("bad", record.Schema{})
	require.ErrorIs(t, err, record.ErrBadSchema)
}
