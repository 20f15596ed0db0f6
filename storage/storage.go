// Package storage persists the voting state on a single db.Database. All the
// records are CBOR encoded and live under the following prefixes:
//
//	pc                   : proposal counter (uint64 big endian)
//	p/ + id              : proposalID → Proposal
//	n/ + id + nullifier  : consumed nullifier marker
//	t/ + id              : proposalID → option tallies
//	r                    : membership root slot (root, history, nonce)
//	m/ + index           : member index → identity commitment
//	mc/ + commitment     : identity commitment → member index
//
// Proposal ids and member indexes are encoded as 8 byte big endian integers
// and field elements as 32 byte big endian integers, so prefix iteration
// returns them in numeric order.
package storage

import (
	"encoding/binary"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/types"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrProposalNotFound      = errors.New("proposal not found")
	ErrNullifierAlreadyUsed  = errors.New("nullifier already used")
	ErrOptionIndexOutOfRange = errors.New("option index out of range")
	ErrMemberExists          = errors.New("member already registered")

	// Prefixes
	proposalCounterKey = []byte("pc")
	proposalPrefix     = []byte("p/")
	nullifierPrefix    = []byte("n/")
	tallyPrefix        = []byte("t/")
	rootSlotKey        = []byte("r")
	memberPrefix       = []byte("m/")
	memberIndexPrefix  = []byte("mc/")
)

const proposalCacheSize = 256

// Storage manages proposals, nullifiers, tallies and the membership registry
// state.
type Storage struct {
	db           db.Database
	proposalLock sync.Mutex // serializes proposal id allocation
	cache        *lru.Cache[uint64, *types.Proposal]
}

// New creates a new Storage instance on top of database.
func New(database db.Database) *Storage {
	cache, err := lru.New[uint64, *types.Proposal](proposalCacheSize)
	if err != nil {
		log.Fatalf("failed to create LRU cache: %v", err)
	}
	return &Storage{
		db:    database,
		cache: cache,
	}
}

// DB returns the underlying database.
func (s *Storage) DB() db.Database {
	return s.db
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

func uint64Key(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

func fieldKey(v *types.BigInt) []byte {
	b := v.Bytes32()
	return b[:]
}

// getRecord reads and decodes the record stored under key. It returns
// ErrNotFound if the key does not exist.
func getRecord(r db.Reader, key []byte, out any) error {
	data, err := r.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return DecodeRecord(data, out)
}

func setRecord(w db.WriteTx, key []byte, record any) error {
	data, err := EncodeRecord(record)
	if err != nil {
		return err
	}
	return w.Set(key, data)
}
