// Package txbuf implements the write buffer and read set shared by the
// persistent database backends. A Buffer keeps the pending writes of a
// transaction, answers reads from them first, and remembers what the
// transaction read from the database so that Validate can detect conflicts
// at commit time.
package txbuf

import (
	"bytes"
	"errors"
	"slices"

	"github.com/vocdoni/anonvote-node/db"
)

type readRecord struct {
	value []byte
	found bool
}

// Buffer is not safe for concurrent use, like the transactions built on it.
type Buffer struct {
	writes map[string]*[]byte
	reads  map[string]readRecord
	done   bool
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{
		writes: make(map[string]*[]byte),
		reads:  make(map[string]readRecord),
	}
}

// Done reports whether the buffer was finished by Finish.
func (b *Buffer) Done() bool {
	return b.done
}

// Finish drops all state and marks the buffer as done.
func (b *Buffer) Finish() {
	b.writes = map[string]*[]byte{}
	b.reads = map[string]readRecord{}
	b.done = true
}

// Get returns the pending value for key if there is one, otherwise it reads
// through fetch and records the result in the read set.
func (b *Buffer) Get(key []byte, fetch func([]byte) ([]byte, error)) ([]byte, error) {
	if b.done {
		return nil, db.ErrTxDone
	}
	k := string(key)
	if pending, ok := b.writes[k]; ok {
		if pending == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*pending), nil
	}
	value, err := fetch(key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		if _, ok := b.reads[k]; !ok {
			b.reads[k] = readRecord{}
		}
		return nil, db.ErrKeyNotFound
	case err != nil:
		return nil, err
	}
	if _, ok := b.reads[k]; !ok {
		b.reads[k] = readRecord{value: bytes.Clone(value), found: true}
	}
	return value, nil
}

// Set buffers a write.
func (b *Buffer) Set(key, value []byte) error {
	if b.done {
		return db.ErrTxDone
	}
	v := bytes.Clone(value)
	b.writes[string(key)] = &v
	return nil
}

// Delete buffers a deletion.
func (b *Buffer) Delete(key []byte) error {
	if b.done {
		return db.ErrTxDone
	}
	b.writes[string(key)] = nil
	return nil
}

// Iterate merges the entries returned by base with the pending writes and
// calls callback in key order. Keys given to the callback have the prefix
// removed, as base is expected to do as well.
func (b *Buffer) Iterate(prefix []byte, base func([]byte, func(k, v []byte) bool) error,
	callback func(key, value []byte) bool,
) error {
	if b.done {
		return db.ErrTxDone
	}
	entries := make(map[string][]byte)
	if err := base(prefix, func(k, v []byte) bool {
		entries[string(k)] = bytes.Clone(v)
		return true
	}); err != nil {
		return err
	}
	for k, v := range b.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		local := k[len(prefix):]
		if v == nil {
			delete(entries, local)
			continue
		}
		entries[local] = bytes.Clone(*v)
	}
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

// Validate compares every recorded read against the current database
// content and returns db.ErrConflict on the first difference. The caller must
// hold the backend commit lock.
func (b *Buffer) Validate(fetch func([]byte) ([]byte, error)) error {
	for k, rec := range b.reads {
		current, err := fetch([]byte(k))
		found := true
		if errors.Is(err, db.ErrKeyNotFound) {
			found = false
		} else if err != nil {
			return err
		}
		if found != rec.found || !bytes.Equal(current, rec.value) {
			return db.ErrConflict
		}
	}
	return nil
}

// Writes calls fn for each pending write in key order. A nil value means the
// key is deleted.
func (b *Buffer) Writes(fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(b.writes))
	for k := range b.writes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		var value []byte
		if v := b.writes[k]; v != nil {
			value = *v
			if value == nil {
				value = []byte{}
			}
		}
		if err := fn([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of pending writes.
func (b *Buffer) Len() int {
	return len(b.writes)
}
