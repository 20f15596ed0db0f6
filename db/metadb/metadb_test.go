package metadb

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/anonvote-node/db"
)

func TestNew(t *testing.T) {
	c := qt.New(t)

	for _, typ := range []string{db.TypePebble, db.TypeLevelDB, db.TypeInMemory} {
		c.Run(typ, func(c *qt.C) {
			database, err := New(typ, c.TempDir())
			c.Assert(err, qt.IsNil)
			tx := database.WriteTx()
			c.Assert(tx.Set([]byte("k"), []byte("v")), qt.IsNil)
			c.Assert(tx.Commit(), qt.IsNil)
			v, err := database.Get([]byte("k"))
			c.Assert(err, qt.IsNil)
			c.Assert(v, qt.DeepEquals, []byte("v"))
			c.Assert(database.Close(), qt.IsNil)
		})
	}

	_, err := New("badger", c.TempDir())
	c.Assert(err, qt.ErrorMatches, `invalid database type: "badger"`)
}

func TestNewTest(t *testing.T) {
	database := NewTest(t)
	_, err := database.Get([]byte("missing"))
	qt.Assert(t, err, qt.ErrorIs, db.ErrKeyNotFound)
}
