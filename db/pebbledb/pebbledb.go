// Package pebbledb implements db.Database on top of cockroachdb/pebble.
package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/internal/txbuf"
)

// PebbleDB serializes commits with commitMu so that the read sets of
// concurrent transactions can be validated against the committed state.
type PebbleDB struct {
	db        *pebble.DB
	commitMu  sync.Mutex
	closeOnce sync.Once
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (or creates) a pebble database in opts.Path.
func New(opts db.Options) (*PebbleDB, error) {
	if err := os.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create pebble dir: %w", err)
	}
	pdb, err := pebble.Open(opts.Path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleDB{db: pdb}, nil
}

func (d *PebbleDB) Close() error {
	var err error
	d.closeOnce.Do(func() { err = d.db.Close() })
	return err
}

func (d *PebbleDB) Compact() error {
	iter, err := d.db.NewIter(nil)
	if err != nil {
		return err
	}
	var first, last []byte
	if iter.First() {
		first = bytes.Clone(iter.Key())
	}
	if iter.Last() {
		last = bytes.Clone(iter.Key())
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if first == nil || last == nil {
		return nil
	}
	return d.db.Compact(first, append(last, 0xff), true)
}

func (d *PebbleDB) Get(key []byte) ([]byte, error) {
	value, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = closer.Close() }()
	return bytes.Clone(value), nil
}

func (d *PebbleDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: db.PrefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return iter.Close()
}

func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d, buf: txbuf.New()}
}

// WriteTx buffers writes in memory and applies them as a single pebble batch.
type WriteTx struct {
	db  *PebbleDB
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
	if tx.buf.Len() == 0 {
		return nil
	}
	batch := tx.db.db.NewBatch()
	defer func() { _ = batch.Close() }()
	if err := tx.buf.Writes(func(key, value []byte) error {
		if value == nil {
			return batch.Delete(key, nil)
		}
		return batch.Set(key, value, nil)
	}); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (tx *WriteTx) Discard() {
	tx.buf.Finish()
}
