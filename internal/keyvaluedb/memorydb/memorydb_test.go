package memorydb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/stakepool/internal/keyvaluedb"
)

func isEmpty(t *testing.T, db *MemoryDB) bool {
	empty, err := keyvaluedb.IsEmpty(db)
	require.NoError(t, err)
	return empty
}

func TestMemDB_IsEmpty(t *testing.T) {
	db := New()
	require.True(t, isEmpty(t, db))
	require.True(t, db.Empty())
	require.NoError(t, db.Write([]byte("foo"), "test"))
	require.False(t, isEmpty(t, db))
	empty, err := keyvaluedb.IsEmpty(nil)
	require.ErrorContains(t, err, "db is nil")
	require.True(t, empty)
}

func TestMemDB_InvalidWriteAndRead(t *testing.T) {
	db := New()
	var p *uint64
	require.Error(t, db.Write([]byte("k"), p))
	require.Error(t, db.Write([]byte(""), "x"))
	require.Error(t, db.Write(nil, uint64(1)))
	found, err := db.Read(nil, new(uint64))
	require.Error(t, err)
	require.False(t, found)
	require.Error(t, db.Delete(nil))
}

func TestMemDB_ReadWriteDelete(t *testing.T) {
	db := New()
	require.NoError(t, db.Write([]byte("k"), []uint64{1, 2, 3}))
	var v []uint64
	found, err := db.Read([]byte("k"), &v)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []uint64{1, 2, 3}, v)
	require.NoError(t, db.Delete([]byte("k")))
	found, err = db.Read([]byte("k"), &v)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemDB_Iterator(t *testing.T) {
	db := New()
	for _, k := range []string{"p2", "p1", "q", "a"} {
		require.NoError(t, db.Write([]byte(k), k))
	}
	it := db.Find([]byte("p"))
	defer func() { require.NoError(t, it.Close()) }()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, []string{"p1", "p2", "q"}, got)
	require.Nil(t, it.Key())
	require.Error(t, it.Value(new(string)))
}

func TestMemDB_Tx(t *testing.T) {
	db := New()
	require.NoError(t, db.Write([]byte("a"), "1"))

	tx, err := db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("b"), "2"))
	require.NoError(t, tx.Delete([]byte("a")))
	// not visible before commit
	found, err := db.Read([]byte("b"), new(string))
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, tx.Commit())
	require.ErrorContains(t, tx.Write([]byte("c"), "3"), "tx closed")

	found, err = db.Read([]byte("a"), new(string))
	require.NoError(t, err)
	require.False(t, found)
	found, err = db.Read([]byte("b"), new(string))
	require.NoError(t, err)
	require.True(t, found)

	tx, err = db.StartTx()
	require.NoError(t, err)
	require.NoError(t, tx.Write([]byte("c"), "3"))
	require.NoError(t, tx.Rollback())
	found, err = db.Read([]byte("c"), new(string))
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemDB_MockWriteError(t *testing.T) {
	db := New()
	db.MockWriteError(errors.New("disk full"))
	require.EqualError(t, db.Write([]byte("k"), "v"), "disk full")
	tx, err := db.StartTx()
	require.NoError(t, err)
	require.EqualError(t, tx.Write([]byte("k"), "v"), "disk full")
	require.NoError(t, tx.Rollback())
	db.MockWriteError(nil)
	require.NoError(t, db.Write([]byte("k"), "v"))
}
