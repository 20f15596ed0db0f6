// Package inmemory implements an ephemeral db.Database with optimistic
// concurrency control based on per-key versions.
package inmemory

import (
	"bytes"
	"slices"
	"sync"

	"github.com/vocdoni/anonvote-node/db"
)

type entry struct {
	value   []byte
	version uint64
	deleted bool
}

// InMemoryDB keeps every key in a map guarded by a RWMutex. Each committed
// write bumps a global version counter that is stored with the key.
type InMemoryDB struct {
	mu      sync.RWMutex
	data    map[string]entry
	version uint64
}

var _ db.Database = (*InMemoryDB)(nil)

// New returns a new in-memory database. Options are ignored.
func New(_ db.Options) (*InMemoryDB, error) {
	return &InMemoryDB{data: make(map[string]entry)}, nil
}

func (d *InMemoryDB) Close() error { return nil }

func (d *InMemoryDB) Compact() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, ent := range d.data {
		if ent.deleted {
			delete(d.data, k)
		}
	}
	return nil
}

func (d *InMemoryDB) WriteTx() db.WriteTx {
	return &WriteTx{
		db:     d,
		writes: make(map[string]*[]byte),
		reads:  make(map[string]uint64),
	}
}

func (d *InMemoryDB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ent, ok := d.data[string(key)]
	if !ok || ent.deleted {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

func (d *InMemoryDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	return iterateSorted(d.snapshot(prefix, nil), callback)
}

// snapshot copies the live entries under prefix, keyed without the prefix.
// If versions is not nil, the version of each copied key is stored in it.
func (d *InMemoryDB) snapshot(prefix []byte, versions map[string]uint64) map[string][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make(map[string][]byte)
	for k, ent := range d.data {
		if ent.deleted || !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		entries[k[len(prefix):]] = bytes.Clone(ent.value)
		if versions != nil {
			versions[k] = ent.version
		}
	}
	return entries
}

// versionOf must be called with d.mu held.
func (d *InMemoryDB) versionOf(key string) uint64 {
	return d.data[key].version
}

// WriteTx records the version of every key it reads or writes. Commit fails
// with db.ErrConflict if any of those versions changed.
type WriteTx struct {
	db     *InMemoryDB
	writes map[string]*[]byte
	reads  map[string]uint64
	done   bool
}

var _ db.WriteTx = (*WriteTx)(nil)

func (tx *WriteTx) track(key string) {
	if _, ok := tx.reads[key]; ok {
		return
	}
	tx.db.mu.RLock()
	tx.reads[key] = tx.db.versionOf(key)
	tx.db.mu.RUnlock()
}

func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if tx.done {
		return nil, db.ErrTxDone
	}
	k := string(key)
	if pending, ok := tx.writes[k]; ok {
		if pending == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*pending), nil
	}
	tx.db.mu.RLock()
	ent, ok := tx.db.data[k]
	if _, seen := tx.reads[k]; !seen {
		tx.reads[k] = ent.version
	}
	tx.db.mu.RUnlock()
	if !ok || ent.deleted {
		return nil, db.ErrKeyNotFound
	}
	return bytes.Clone(ent.value), nil
}

func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	if tx.done {
		return db.ErrTxDone
	}
	versions := make(map[string]uint64)
	entries := tx.db.snapshot(prefix, versions)
	for k, v := range tx.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(entries, k[len(prefix):])
			continue
		}
		entries[k[len(prefix):]] = bytes.Clone(*v)
	}
	for k, ver := range versions {
		if _, ok := tx.reads[k]; !ok {
			tx.reads[k] = ver
		}
	}
	return iterateSorted(entries, callback)
}

func (tx *WriteTx) Set(key, value []byte) error {
	if tx.done {
		return db.ErrTxDone
	}
	k := string(key)
	tx.track(k)
	v := bytes.Clone(value)
	tx.writes[k] = &v
	return nil
}

func (tx *WriteTx) Delete(key []byte) error {
	if tx.done {
		return db.ErrTxDone
	}
	k := string(key)
	tx.track(k)
	tx.writes[k] = nil
	return nil
}

func (tx *WriteTx) Commit() error {
	if tx.done {
		return db.ErrTxDone
	}
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for k, ver := range tx.reads {
		if tx.db.versionOf(k) != ver {
			return db.ErrConflict
		}
	}
	for k, v := range tx.writes {
		tx.db.version++
		ent := entry{version: tx.db.version, deleted: v == nil}
		if v != nil {
			ent.value = bytes.Clone(*v)
		}
		tx.db.data[k] = ent
	}
	tx.done = true
	return nil
}

func (tx *WriteTx) Discard() {
	tx.writes = map[string]*[]byte{}
	tx.reads = map[string]uint64{}
	tx.done = true
}

func iterateSorted(entries map[string][]byte, callback func(key, value []byte) bool) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !callback([]byte(k), entries[k]) {
			break
		}
	}
	return nil
}
