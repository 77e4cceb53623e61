package db

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = leveldb.ErrNotFound

// syncWrites makes every write durable before the call returns.
var syncWrites = &opt.WriteOptions{Sync: true}

// LevelDB wraps the actual LevelDB connection
type LevelDB struct {
	conn *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB instance at the given path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// OpenReadOnly opens an existing LevelDB without creating or modifying it.
// Writes through the returned handle fail.
func OpenReadOnly(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// NewMemLevelDB opens a LevelDB instance backed by memory, for tests and
// throwaway nodes.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{conn: db}, nil
}

// Close safely closes the LevelDB connection
func (l *LevelDB) Close() error {
	return l.conn.Close()
}

// Put inserts or updates a key-value pair and syncs it to disk
func (l *LevelDB) Put(key, value []byte) error {
	return l.conn.Put(key, value, syncWrites)
}

// Get retrieves the value for a given key
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.conn.Get(key, nil)
}

// Has reports whether key exists
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.conn.Has(key, nil)
}

// Delete removes key; deleting a missing key is not an error
func (l *LevelDB) Delete(key []byte) error {
	return l.conn.Delete(key, syncWrites)
}

// Write applies a batch atomically and syncs it to disk
func (l *LevelDB) Write(batch *leveldb.Batch) error {
	return l.conn.Write(batch, syncWrites)
}

// NewIterator returns an iterator to loop over all key-value pairs
func (l *LevelDB) NewIterator() iterator.Iterator {
	return l.conn.NewIterator(nil, nil)
}

// NewPrefixIterator loops over the key-value pairs whose key starts with prefix
func (l *LevelDB) NewPrefixIterator(prefix []byte) iterator.Iterator {
	return l.conn.NewIterator(util.BytesPrefix(prefix), nil)
}

// IsNotFound reports whether err means the key is absent
func IsNotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}
