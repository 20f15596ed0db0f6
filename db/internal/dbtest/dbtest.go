// Package dbtest holds conformance tests shared by every db.Database backend.
package dbtest

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/db"
)

// TestWriteTx checks basic reads, writes and the commit/discard lifecycle.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	_, err := tx.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)

	c.Assert(tx.Set([]byte("a"), []byte("b")), qt.IsNil)
	v, err := tx.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	// not visible outside the transaction before commit
	_, err = database.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)

	c.Assert(tx.Commit(), qt.IsNil)
	tx.Discard()

	v, err = database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("b"))

	c.Assert(tx.Commit(), qt.ErrorIs, db.ErrTxDone)

	discarded := database.WriteTx()
	c.Assert(discarded.Set([]byte("z"), []byte("1")), qt.IsNil)
	discarded.Discard()
	_, err = database.Get([]byte("z"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)

	del := database.WriteTx()
	c.Assert(del.Delete([]byte("a")), qt.IsNil)
	_, err = del.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)
	c.Assert(del.Commit(), qt.IsNil)
	_, err = database.Get([]byte("a"))
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)
}

// TestIterate checks prefix iteration order, prefix stripping, early stop,
// and that transactions see their own pending writes.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	for i := range 20 {
		c.Assert(tx.Set(fmt.Appendf(nil, "p/%02d", i), fmt.Appendf(nil, "v%d", i)), qt.IsNil)
	}
	c.Assert(tx.Set([]byte("q/00"), []byte("other")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	var keys []string
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.HasLen, 20)
	c.Assert(keys[0], qt.Equals, "00")
	c.Assert(keys[19], qt.Equals, "19")

	count := 0
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		count++
		return count < 5
	}), qt.IsNil)
	c.Assert(count, qt.Equals, 5)

	tx = database.WriteTx()
	defer tx.Discard()
	c.Assert(tx.Delete([]byte("p/00")), qt.IsNil)
	c.Assert(tx.Set([]byte("p/20"), []byte("v20")), qt.IsNil)
	keys = nil
	c.Assert(tx.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.HasLen, 20)
	c.Assert(keys[0], qt.Equals, "01")
	c.Assert(keys[19], qt.Equals, "20")
}

// TestPrefixed checks that a prefixed view writes under its namespace and
// does not see keys outside of it.
func TestPrefixed(t *testing.T, database, prefixed db.Database, prefix []byte) {
	c := qt.New(t)

	tx := prefixed.WriteTx()
	c.Assert(tx.Set([]byte("key"), []byte("value")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	v, err := database.Get(append(append([]byte{}, prefix...), "key"...))
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte("value"))

	raw := database.WriteTx()
	c.Assert(raw.Set([]byte("outside"), []byte("x")), qt.IsNil)
	c.Assert(raw.Commit(), qt.IsNil)

	var keys []string
	c.Assert(prefixed.Iterate(nil, func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	}), qt.IsNil)
	c.Assert(keys, qt.DeepEquals, []string{"key"})
}

// TestConcurrentWriteTx runs read-modify-write transactions on one counter
// from several goroutines. Conflicting commits must fail with ErrConflict and
// the final value must equal the number of successful commits. Extra handles
// opened on the same storage share the work, as separate processes would.
func TestConcurrentWriteTx(t *testing.T, database db.Database, others ...db.Database) {
	c := qt.New(t)
	key := []byte("counter")
	handles := append([]db.Database{database}, others...)

	var wg sync.WaitGroup
	var committed atomic.Int64
	for i := range 10 {
		handle := handles[i%len(handles)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				tx := handle.WriteTx()
				v, err := tx.Get(key)
				n := 0
				if err == nil {
					n = int(v[0])
				}
				if err := tx.Set(key, []byte{byte(n + 1)}); err != nil {
					t.Error(err)
					return
				}
				err = tx.Commit()
				tx.Discard()
				switch {
				case err == nil:
					committed.Add(1)
				case errors.Is(err, db.ErrConflict):
				default:
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, err := database.Get(key)
	c.Assert(err, qt.IsNil)
	c.Assert(int64(v[0]), qt.Equals, committed.Load())
}

// TestConflictLeavesNoWrites commits a transaction whose read set was changed
// by another commit. The commit must fail with ErrConflict and none of its
// writes may be visible, including keys that sort before the conflicting one.
func TestConflictLeavesNoWrites(t *testing.T, database db.Database) {
	c := qt.New(t)
	marker, total := []byte("n/marker"), []byte("t/total")

	loser := database.WriteTx()
	_, err := loser.Get(marker)
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)
	_, err = loser.Get(total)
	c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue)

	winner := database.WriteTx()
	c.Assert(winner.Set(total, []byte{1}), qt.IsNil)
	c.Assert(winner.Commit(), qt.IsNil)

	c.Assert(loser.Set([]byte("a/first"), []byte{1}), qt.IsNil)
	c.Assert(loser.Set(marker, []byte{1}), qt.IsNil)
	c.Assert(loser.Set(total, []byte{2}), qt.IsNil)
	c.Assert(loser.Commit(), qt.ErrorIs, db.ErrConflict)
	loser.Discard()

	for _, key := range [][]byte{[]byte("a/first"), marker} {
		_, err := database.Get(key)
		c.Assert(errors.Is(err, db.ErrKeyNotFound), qt.IsTrue, qt.Commentf("key %s", key))
	}
	v, err := database.Get(total)
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.DeepEquals, []byte{1})
}
