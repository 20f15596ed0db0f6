package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

// RootSlot is the persisted state of the membership registry. History keeps
// the most recently superseded roots, newest first.
type RootSlot struct {
	Root    *types.BigInt   `cbor:"0,keyasint"`
	History []*types.BigInt `cbor:"1,keyasint,omitempty"`
	Nonce   uint64          `cbor:"2,keyasint"`
}

// Rotate returns the slot that results from replacing the current root with
// root, keeping at most historySize superseded roots.
func (rs *RootSlot) Rotate(root *types.BigInt, historySize int) *RootSlot {
	next := &RootSlot{
		Root:  root,
		Nonce: rs.Nonce + 1,
	}
	if historySize > 0 && rs.Root != nil {
		next.History = append([]*types.BigInt{rs.Root}, rs.History...)
		if len(next.History) > historySize {
			next.History = next.History[:historySize]
		}
	}
	return next
}

// RootSlot returns the stored root slot, or ErrNotFound if the registry was
// never initialized.
func (s *Storage) RootSlot() (*RootSlot, error) {
	slot := &RootSlot{}
	if err := getRecord(s.db, rootSlotKey, slot); err != nil {
		return nil, err
	}
	return slot, nil
}

// SetRootSlot replaces the stored root slot.
func (s *Storage) SetRootSlot(slot *RootSlot) error {
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	if err := setRecord(wtx, rootSlotKey, slot); err != nil {
		return fmt.Errorf("failed to store root slot: %w", err)
	}
	return wtx.Commit()
}

// AddMembers stores commitments as members start, start+1, ... and the new
// root slot in a single transaction. It fails with ErrMemberExists if any
// commitment is already registered, in which case nothing is written.
func (s *Storage) AddMembers(start uint64, commitments []*types.BigInt, slot *RootSlot) error {
	wtx := s.db.WriteTx()
	defer wtx.Discard()
	members := prefixeddb.NewPrefixedWriteTx(wtx, memberPrefix)
	indexes := prefixeddb.NewPrefixedWriteTx(wtx, memberIndexPrefix)
	for i, c := range commitments {
		if _, err := indexes.Get(fieldKey(c)); err == nil {
			return fmt.Errorf("%w: %s", ErrMemberExists, c)
		}
		index := uint64Key(start + uint64(i))
		if err := members.Set(index, fieldKey(c)); err != nil {
			return err
		}
		if err := indexes.Set(fieldKey(c), index); err != nil {
			return err
		}
	}
	if err := setRecord(wtx, rootSlotKey, slot); err != nil {
		return fmt.Errorf("failed to store root slot: %w", err)
	}
	if err := wtx.Commit(); err != nil {
		return fmt.Errorf("failed to commit members: %w", err)
	}
	return nil
}

// Members returns every registered commitment in insertion order.
func (s *Storage) Members() ([]*types.BigInt, error) {
	var list []*types.BigInt
	var expected uint64
	var gapErr error
	reader := prefixeddb.NewPrefixedReader(s.db, memberPrefix)
	if err := reader.Iterate(nil, func(k, v []byte) bool {
		if binary.BigEndian.Uint64(k) != expected {
			gapErr = fmt.Errorf("member index %d is missing", expected)
			return false
		}
		expected++
		list = append(list, new(types.BigInt).SetBytes(v))
		return true
	}); err != nil {
		return nil, err
	}
	if gapErr != nil {
		return nil, gapErr
	}
	return list, nil
}

// MemberIndex returns the insertion index of the commitment, or ErrNotFound.
func (s *Storage) MemberIndex(commitment *types.BigInt) (uint64, error) {
	v, err := prefixeddb.NewPrefixedReader(s.db, memberIndexPrefix).Get(fieldKey(commitment))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}
