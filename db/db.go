// Package db defines the key-value database abstraction used by the node.
// Backends live in subpackages (pebbledb, leveldb, mongodb, inmemory) and are
// selected at runtime through metadb.
package db

import (
	"errors"
	"io"
)

const (
	TypePebble   = "pebble"
	TypeLevelDB  = "leveldb"
	TypeMongo    = "mongodb"
	TypeInMemory = "inmemory"
)

var (
	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrConflict is returned by Commit when a key read by the transaction
	// was modified by another transaction committed in the meantime.
	ErrConflict = errors.New("transaction conflict")
	// ErrTxDone is returned when operating on a committed or discarded
	// transaction.
	ErrTxDone = errors.New("transaction already committed or discarded")
)

// Options configures a database backend.
type Options struct {
	// Path is the directory for file based backends and the database name
	// for MongoDB.
	Path string
	// MongoURL is the connection string used by the MongoDB backend.
	MongoURL string
}

// Reader is the read-only side of a database or a transaction.
type Reader interface {
	// Get returns a copy of the value stored under key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key starting with prefix, in
	// lexicographic order. The key passed to the callback has the prefix
	// removed. Iteration stops when the callback returns false. The slices
	// are only valid during the callback.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx buffers writes until Commit. Reads observe the transaction's own
// pending writes.
type WriteTx interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	// Commit atomically applies the buffered writes. It returns ErrConflict
	// if a key read through this transaction changed after it was read.
	Commit() error
	// Discard drops the buffered writes. It is safe to call after Commit.
	Discard()
}

// Database is a key-value store with transactional writes.
type Database interface {
	io.Closer
	Reader
	WriteTx() WriteTx
	Compact() error
}

// PrefixEnd returns the smallest key greater than every key that starts with
// prefix, or nil if there is no such key (empty or all 0xff prefix).
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
