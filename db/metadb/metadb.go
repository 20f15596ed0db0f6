// Package metadb opens a db.Database by backend name.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/inmemory"
	"github.com/vocdoni/anonvote-node/db/leveldb"
	"github.com/vocdoni/anonvote-node/db/mongodb"
	"github.com/vocdoni/anonvote-node/db/pebbledb"
)

// New opens a database of the given type. For file based backends dir is the
// data directory; for mongodb it is the database name.
func New(typ, dir string) (db.Database, error) {
	return NewWithOptions(typ, db.Options{Path: dir})
}

// NewWithOptions is like New but takes the full backend options.
func NewWithOptions(typ string, opts db.Options) (db.Database, error) {
	var database db.Database
	var err error
	switch typ {
	case db.TypePebble:
		database, err = pebbledb.New(opts)
	case db.TypeLevelDB:
		database, err = leveldb.New(opts)
	case db.TypeMongo:
		database, err = mongodb.New(opts)
	case db.TypeInMemory:
		database, err = inmemory.New(opts)
	default:
		return nil, fmt.Errorf("invalid database type: %q", typ)
	}
	if err != nil {
		return nil, err
	}
	return database, nil
}

// ForTest returns the backend used by tests, $DB_TYPE or pebble.
func ForTest() string {
	return cmp.Or(os.Getenv("DB_TYPE"), db.TypePebble)
}

// NewTest opens a ForTest database in a temporary directory that is closed
// when the test finishes.
func NewTest(tb testing.TB) db.Database {
	tb.Helper()
	path := tb.TempDir()
	if ForTest() == db.TypeMongo {
		path = fmt.Sprintf("test%x", os.Getpid()) + sanitize(tb.Name())
	}
	database, err := New(ForTest(), path)
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Error(err)
		}
	})
	return database
}

func sanitize(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name) && len(out) < 40; i++ {
		ch := name[i]
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			out = append(out, ch)
		}
	}
	return string(out)
}
