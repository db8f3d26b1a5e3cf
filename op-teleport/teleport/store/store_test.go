package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T, s *Store) {
	ctx := context.Background()
	tbl := s.Table("messages").Sub("l2-l1")

	_, err := tbl.Get(ctx, "a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tbl.Put(ctx, "a", []byte("1")))
	ok, err := tbl.Has(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tbl.PutAll(ctx,
		Entry{Key: "c", Value: []byte("3")},
		Entry{Key: "b", Value: []byte("2")},
	))
	entries, err := tbl.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
		{Key: "c", Value: []byte("3")},
	}, entries)

	// other tables do not see the entries
	other, err := s.Table("messages").Sub("l1-l2").List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, other)

	require.NoError(t, tbl.Delete(ctx, "a"))
	ok, err = tbl.Has(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tbl.PutUint64(ctx, "nonce", 42))
	n, err := tbl.GetUint64(ctx, "nonce")
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)

	type rec struct{ Name string }
	require.NoError(t, tbl.PutJSON(ctx, "rec", rec{Name: "x"}))
	var got rec
	require.NoError(t, tbl.GetJSON(ctx, "rec", &got))
	require.Equal(t, "x", got.Name)
}

func TestMemoryStore(t *testing.T) {
	s, err := Open(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	testTable(t, s)
}

func TestLevelDBStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(dir)
	require.NoError(t, err)
	testTable(t, s)
	require.NoError(t, s.Close())

	// reopened store keeps records
	s, err = Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	n, err := s.Table("messages").Sub("l2-l1").GetUint64(context.Background(), "nonce")
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
