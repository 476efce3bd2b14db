package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

type storeCase struct {
	name string
	open func(t *testing.T) Store
}

func storeCases() []storeCase {
	return []storeCase{
		{"memory", func(*testing.T) Store { return NewMemory() }},
		{"sqlite", func(t *testing.T) Store { return openSQLite(t, false) }},
		{"sqlite-versioned", func(t *testing.T) Store { return openSQLite(t, true) }},
	}
}

func openSQLite(t *testing.T, versioned bool) Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), versioned)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func write(t *testing.T, s Store, fn func(tx Tx)) {
	t.Helper()
	tx, err := s.Begin(context.Background(), true)
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit())
}

func read(t *testing.T, s Store, fn func(tx Tx)) {
	t.Helper()
	tx, err := s.Begin(context.Background(), false)
	require.NoError(t, err)
	defer tx.Cancel()
	fn(tx)
}

// =============================================================================
// Records
// =============================================================================

func TestStore_PutGet(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			write(t, s, func(tx Tx) {
				require.NoError(t, tx.Put("test", "test", "person", "tobie", map[string]any{"name": "Tobie"}))
			})
			read(t, s, func(tx Tx) {
				data, ok, err := tx.Get("test", "test", "person", "tobie")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "Tobie", data["name"])

				_, ok, err = tx.Get("test", "other", "person", "tobie")
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

func TestStore_ScanOrdersIDs(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			write(t, s, func(tx Tx) {
				for _, id := range []any{"b", int64(10), "a", int64(2)} {
					require.NoError(t, tx.Put("ns", "db", "tb", id, map[string]any{"v": id}))
				}
			})
			read(t, s, func(tx Tx) {
				records, err := tx.Scan("ns", "db", "tb", nil)
				require.NoError(t, err)
				ids := make([]any, len(records))
				for i, r := range records {
					ids[i] = r.ID
				}
				assert.Equal(t, []any{int64(2), int64(10), "a", "b"}, ids)
			})
		})
	}
}

func TestStore_DeleteAndTruncate(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			write(t, s, func(tx Tx) {
				require.NoError(t, tx.Put("ns", "db", "a", int64(1), map[string]any{}))
				require.NoError(t, tx.Put("ns", "db", "a", int64(2), map[string]any{}))
				require.NoError(t, tx.Put("ns", "db", "b", int64(1), map[string]any{}))
			})
			write(t, s, func(tx Tx) {
				require.NoError(t, tx.Delete("ns", "db", "a", int64(1)))
				require.NoError(t, tx.Truncate("ns", "db", "b"))
			})
			read(t, s, func(tx Tx) {
				a, err := tx.Scan("ns", "db", "a", nil)
				require.NoError(t, err)
				require.Len(t, a, 1)
				assert.Equal(t, int64(2), a[0].ID)

				b, err := tx.Scan("ns", "db", "b", nil)
				require.NoError(t, err)
				assert.Empty(t, b)
			})
		})
	}
}

func TestStore_CancelDiscardsWrites(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			tx, err := s.Begin(context.Background(), true)
			require.NoError(t, err)
			require.NoError(t, tx.Put("ns", "db", "tb", "x", map[string]any{"a": int64(1)}))

			data, ok, err := tx.Get("ns", "db", "tb", "x")
			require.NoError(t, err)
			require.True(t, ok, "writes are visible inside the transaction")
			assert.Equal(t, int64(1), data["a"])

			require.NoError(t, tx.Cancel())
			assert.ErrorIs(t, tx.Commit(), ErrTxDone)

			read(t, s, func(tx Tx) {
				_, ok, err := tx.Get("ns", "db", "tb", "x")
				require.NoError(t, err)
				assert.False(t, ok)
			})
		})
	}
}

// =============================================================================
// Definitions
// =============================================================================

func TestStore_Definitions(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			write(t, s, func(tx Tx) {
				require.NoError(t, tx.PutDef(DefKey{Kind: KindTable, NS: "ns", DB: "db", Name: "person"}, []byte{1}))
				require.NoError(t, tx.PutDef(DefKey{Kind: KindTable, NS: "ns", DB: "db", Name: "animal"}, []byte{2}))
				require.NoError(t, tx.PutDef(DefKey{Kind: KindUser, Name: "root"}, []byte{3}))
			})
			write(t, s, func(tx Tx) {
				require.NoError(t, tx.DeleteDef(DefKey{Kind: KindTable, NS: "ns", DB: "db", Name: "person"}))
			})
			read(t, s, func(tx Tx) {
				defs, err := tx.ListDefs(KindTable, "ns", "db")
				require.NoError(t, err)
				require.Len(t, defs, 1)
				assert.Equal(t, "animal", defs[0].Name)

				v, ok, err := tx.GetDef(DefKey{Kind: KindUser, Name: "root"})
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, []byte{3}, v)
			})
		})
	}
}

func TestStore_ReadOnlyRejectsWrites(t *testing.T) {
	for _, tc := range storeCases() {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t)
			read(t, s, func(tx Tx) {
				assert.ErrorIs(t, tx.Put("ns", "db", "tb", "x", map[string]any{}), ErrReadOnly)
				assert.ErrorIs(t, tx.PutDef(DefKey{Kind: KindTable, Name: "x"}, nil), ErrReadOnly)
			})
		})
	}
}

// =============================================================================
// Versioning
// =============================================================================

func TestSQLite_Versioned_ScanAt(t *testing.T) {
	s := openSQLite(t, true)
	require.True(t, s.Versioned())

	write(t, s, func(tx Tx) {
		require.NoError(t, tx.Put("ns", "db", "tb", int64(1), map[string]any{"v": "old"}))
	})
	time.Sleep(2 * time.Millisecond)
	between := time.Now()
	time.Sleep(2 * time.Millisecond)
	write(t, s, func(tx Tx) {
		require.NoError(t, tx.Put("ns", "db", "tb", int64(1), map[string]any{"v": "new"}))
		require.NoError(t, tx.Put("ns", "db", "tb", int64(2), map[string]any{"v": "later"}))
	})

	read(t, s, func(tx Tx) {
		then, err := tx.Scan("ns", "db", "tb", &between)
		require.NoError(t, err)
		require.Len(t, then, 1)
		assert.Equal(t, "old", then[0].Data["v"])

		now, err := tx.Scan("ns", "db", "tb", nil)
		require.NoError(t, err)
		require.Len(t, now, 2)
		assert.Equal(t, "new", now[0].Data["v"])
	})
}

func TestSQLite_Versioned_DeleteKeepsHistory(t *testing.T) {
	s := openSQLite(t, true)
	write(t, s, func(tx Tx) {
		require.NoError(t, tx.Put("ns", "db", "tb", "x", map[string]any{"v": int64(1)}))
	})
	time.Sleep(2 * time.Millisecond)
	before := time.Now()
	time.Sleep(2 * time.Millisecond)
	write(t, s, func(tx Tx) {
		require.NoError(t, tx.Delete("ns", "db", "tb", "x"))
	})

	read(t, s, func(tx Tx) {
		_, ok, err := tx.Get("ns", "db", "tb", "x")
		require.NoError(t, err)
		assert.False(t, ok)

		then, err := tx.Scan("ns", "db", "tb", &before)
		require.NoError(t, err)
		assert.Len(t, then, 1)
	})
}

func TestOpenSQLite_ModeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mode.db")
	s, err := OpenSQLite(path, true)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenSQLite(path, false)
	assert.Error(t, err)

	again, err := OpenSQLite(path, true)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestSQLite_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	s, err := OpenSQLite(path, false)
	require.NoError(t, err)
	write(t, s, func(tx Tx) {
		require.NoError(t, tx.Put("ns", "db", "tb", "k", map[string]any{"n": int64(7)}))
	})
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path, false)
	require.NoError(t, err)
	defer reopened.Close()
	read(t, reopened, func(tx Tx) {
		data, ok, err := tx.Get("ns", "db", "tb", "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(7), data["n"])
	})
}

func TestMemory_ClosedRejectsBegin(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	_, err := m.Begin(context.Background(), false)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCompareIDs(t *testing.T) {
	t.Parallel()

	assert.Negative(t, CompareIDs(int64(2), int64(10)))
	assert.Negative(t, CompareIDs(int64(99), "a"))
	assert.Positive(t, CompareIDs("b", "a"))
	assert.Zero(t, CompareIDs("a", "a"))
	assert.Negative(t, CompareIDs("z", []any{int64(1)}))
}
