package leveldb

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/internal/dbtest"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
)

func newTestDB(t *testing.T) *LevelDB {
	database, err := New(db.Options{Path: t.TempDir()})
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { qt.Check(t, database.Close(), qt.IsNil) })
	return database
}

func TestWriteTx(t *testing.T) {
	dbtest.TestWriteTx(t, newTestDB(t))
}

func TestIterate(t *testing.T) {
	dbtest.TestIterate(t, newTestDB(t))
}

func TestPrefixed(t *testing.T) {
	database := newTestDB(t)
	prefix := []byte("one")
	dbtest.TestPrefixed(t, database, prefixeddb.NewPrefixedDatabase(database, prefix), prefix)
}

func TestConcurrentWriteTx(t *testing.T) {
	dbtest.TestConcurrentWriteTx(t, newTestDB(t))
}

func TestCompact(t *testing.T) {
	database := newTestDB(t)
	tx := database.WriteTx()
	qt.Assert(t, tx.Set([]byte("k"), []byte("v")), qt.IsNil)
	qt.Assert(t, tx.Commit(), qt.IsNil)
	qt.Assert(t, database.Compact(), qt.IsNil)
}

func TestConflictLeavesNoWrites(t *testing.T) {
	dbtest.TestConflictLeavesNoWrites(t, newTestDB(t))
}
