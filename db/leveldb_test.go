package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"pos-ledger/db"
)

func TestLevelDB_PutGetDelete(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()

	require.NoError(t, ldb.Put([]byte("a"), []byte("1")))
	got, err := ldb.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)

	ok, err := ldb.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ldb.Delete([]byte("a")))
	_, err = ldb.Get([]byte("a"))
	require.True(t, db.IsNotFound(err))
}

func TestLevelDB_BatchAndPrefix(t *testing.T) {
	ldb, err := db.NewMemLevelDB()
	require.NoError(t, err)
	defer ldb.Close()

	batch := new(leveldb.Batch)
	batch.Put([]byte("state:x"), []byte("1"))
	batch.Put([]byte("state:y"), []byte("2"))
	batch.Put([]byte("block:0"), []byte("g"))
	require.NoError(t, ldb.Write(batch))

	iter := ldb.NewPrefixIterator([]byte("state:"))
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	require.NoError(t, iter.Error())
	require.Equal(t, []string{"state:x", "state:y"}, keys)
}

func TestLevelDB_ReopenKeepsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")

	ldb, err := db.NewLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, ldb.Put([]byte("block:1"), []byte("payload")))
	require.NoError(t, ldb.Close())

	ldb, err = db.NewLevelDB(path)
	require.NoError(t, err)
	defer ldb.Close()
	got, err := ldb.Get([]byte("block:1"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestLevelDB_OpenReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")

	_, err := db.OpenReadOnly(path)
	require.Error(t, err, "a missing database is not created")
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	ldb, err := db.NewLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, ldb.Put([]byte("state:a"), []byte("1")))
	require.NoError(t, ldb.Close())

	ro, err := db.OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()
	got, err := ro.Get([]byte("state:a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), got)
	require.Error(t, ro.Put([]byte("state:b"), []byte("2")))
}
