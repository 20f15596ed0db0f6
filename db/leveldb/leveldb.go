// Package leveldb implements db.Database on top of syndtr/goleveldb.
package leveldb

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/internal/txbuf"
)

// LevelDB is a goleveldb store. Commits are serialized to validate read sets.
type LevelDB struct {
	db       *leveldb.DB
	commitMu sync.Mutex
}

var _ db.Database = (*LevelDB)(nil)

// New opens (or creates) a leveldb database in opts.Path.
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDB{db: ldb}, nil
}

func (d *LevelDB) Close() error {
	if err := d.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return err
	}
	return nil
}

func (d *LevelDB) Compact() error {
	return d.db.CompactRange(util.Range{})
}

func (d *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	return value, err
}

func (d *LevelDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !callback(bytes.Clone(iter.Key()[len(prefix):]), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, buf: txbuf.New()}
}

// WriteTx buffers writes and applies them as one leveldb.Batch.
type WriteTx struct {
	db  *LevelDB
	buf *txbuf.Buffer
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	return tx.buf.Get(key, tx.db.Get)
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return tx.buf.Iterate(prefix, tx.db.Iterate, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	return tx.buf.Set(key, value)
}

func (tx *WriteTx) Delete(key []byte) error {
	return tx.buf.Delete(key)
}

func (tx *WriteTx) Commit() error {
	if tx.buf.Done() {
		return db.ErrTxDone
	}
	defer tx.buf.Finish()
	tx.db.commitMu.Lock()
	defer tx.db.commitMu.Unlock()
	if err := tx.buf.Validate(tx.db.Get); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	if err := tx.buf.Writes(func(key, value []byte) error {
		if value == nil {
			batch.Delete(key)
		} else {
			batch.Put(key, value)
		}
		return nil
	}); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.db.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (tx *WriteTx) Discard() {
	tx.buf.Finish()
}
