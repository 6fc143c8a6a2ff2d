package storage

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
)

// ErrKeyNotFound is returned by Get when the key is absent.
var ErrKeyNotFound = errors.New("storage: key not found")

// Database is a generic interface for the node's key-value store. The plain
// Put/Get keyspace holds node metadata (committed state root, block height)
// while TrieDB exposes the backing database used by the state trie.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Close()
	TrieDB() *triedb.Database
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu      sync.RWMutex
	data    map[string][]byte
	backing ethdb.Database
	trieDB  *triedb.Database
}

func NewMemDB() *MemDB {
	backing := rawdb.NewMemoryDatabase()
	return &MemDB{
		data:    make(map[string][]byte),
		backing: backing,
		trieDB:  triedb.NewDatabase(backing, triedb.HashDefaults),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	_ = db.backing.Close()
}

func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store. Node metadata lives in a plain
// LevelDB instance under <path>/meta; trie nodes live in a separate instance
// under <path>/state managed through go-ethereum's database layers.
type LevelDB struct {
	meta    *leveldb.DB
	backing ethdb.Database
	trieDB  *triedb.Database
}

// NewLevelDB creates or opens the databases rooted at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	meta, err := leveldb.OpenFile(filepath.Join(path, "meta"), nil)
	if err != nil {
		return nil, err
	}
	stateKV, err := gethleveldb.New(filepath.Join(path, "state"), 128, 512, "nftmarket", false)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	backing := rawdb.NewDatabase(stateKV)
	return &LevelDB{
		meta:    meta,
		backing: backing,
		trieDB:  triedb.NewDatabase(backing, triedb.HashDefaults),
	}, nil
}

// Put inserts or updates a key-value pair in the metadata store.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.meta.Put(key, value, nil)
}

// Get retrieves a value for a given key from the metadata store.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.meta.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Has reports whether the metadata store contains the key.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.meta.Has(key, nil)
}

// Close closes both database handles.
func (ldb *LevelDB) Close() {
	_ = ldb.meta.Close()
	_ = ldb.backing.Close()
}

func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}
