package storage

import (
	"errors"
	"fmt"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

func nullifierKey(proposalID uint64, nullifier *types.BigInt) []byte {
	return append(uint64Key(proposalID), fieldKey(nullifier)...)
}

func isNullifierConsumed(r db.Reader, proposalID uint64, nullifier *types.BigInt) (bool, error) {
	if _, err := r.Get(nullifierKey(proposalID, nullifier)); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check nullifier: %w", err)
	}
	return true, nil
}

// IsNullifierConsumed reports whether the nullifier was already used to vote
// on the proposal.
func (s *Storage) IsNullifierConsumed(proposalID uint64, nullifier *types.BigInt) (bool, error) {
	return isNullifierConsumed(prefixeddb.NewPrefixedReader(s.db, nullifierPrefix), proposalID, nullifier)
}

// ConsumeNullifier marks the nullifier as used in its own transaction. Votes
// use Tx.ConsumeNullifier instead, to commit it together with the tally.
func (s *Storage) ConsumeNullifier(proposalID uint64, nullifier *types.BigInt) error {
	tx := s.NewTx()
	defer tx.Discard()
	if err := tx.ConsumeNullifier(proposalID, nullifier); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return ErrNullifierAlreadyUsed
		}
		return err
	}
	return nil
}

// CountNullifiers returns the number of nullifiers consumed on the proposal.
func (s *Storage) CountNullifiers(proposalID uint64) (uint64, error) {
	var n uint64
	reader := prefixeddb.NewPrefixedReader(s.db, nullifierPrefix)
	if err := reader.Iterate(uint64Key(proposalID), func(_, _ []byte) bool {
		n++
		return true
	}); err != nil {
		return 0, err
	}
	return n, nil
}
