package cache

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelDB is an ArtifactCache backed by an embedded LevelDB database. Every
// write is synced before returning.
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database in dir.
func OpenLevelDB(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &LevelDB{db: db}, nil
}

// NewLevelDBInMemory returns a LevelDB cache that lives only in memory.
func NewLevelDBInMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb memstorage: %w", err)
	}
	return &LevelDB{db: db}, nil
}

// Lookup returns the handle stored for key.
func (c *LevelDB) Lookup(key string) (string, bool) {
	v, err := c.db.Get([]byte(key), nil)
	if err != nil {
		return "", false
	}
	return string(v), true
}

// Put stores handle under key.
func (c *LevelDB) Put(key, handle string) error {
	if err := c.db.Put([]byte(key), []byte(handle), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Invalidate removes key. Missing keys are not an error.
func (c *LevelDB) Invalidate(key string) error {
	err := c.db.Delete([]byte(key), &opt.WriteOptions{Sync: true})
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

// Len counts stored entries by iterating the keyspace.
func (c *LevelDB) Len() int {
	iter := c.db.NewIterator(nil, nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

// Close releases the database.
func (c *LevelDB) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close leveldb: %w", err)
	}
	return nil
}
