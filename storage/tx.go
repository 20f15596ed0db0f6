package storage

import (
	"errors"
	"fmt"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

// Tx groups the writes of a vote so that the nullifier consumption and the
// tally increment are committed together or not at all. A Tx must always be
// discarded, even after a successful Commit.
type Tx struct {
	wtx        db.WriteTx
	nullifiers *prefixeddb.PrefixedWriteTx
	tallies    *prefixeddb.PrefixedWriteTx
}

// NewTx opens a write transaction over the nullifier and tally namespaces.
func (s *Storage) NewTx() *Tx {
	wtx := s.db.WriteTx()
	return &Tx{
		wtx:        wtx,
		nullifiers: prefixeddb.NewPrefixedWriteTx(wtx, nullifierPrefix),
		tallies:    prefixeddb.NewPrefixedWriteTx(wtx, tallyPrefix),
	}
}

// IsNullifierConsumed reads the nullifier marker through the transaction.
// The read is tracked, so Commit fails with db.ErrConflict if another
// transaction consumes the same nullifier before this one commits.
func (t *Tx) IsNullifierConsumed(proposalID uint64, nullifier *types.BigInt) (bool, error) {
	return isNullifierConsumed(t.nullifiers, proposalID, nullifier)
}

// ConsumeNullifier marks the nullifier as used for the proposal. It returns
// ErrNullifierAlreadyUsed if the marker is already present.
func (t *Tx) ConsumeNullifier(proposalID uint64, nullifier *types.BigInt) error {
	consumed, err := t.IsNullifierConsumed(proposalID, nullifier)
	if err != nil {
		return err
	}
	if consumed {
		return ErrNullifierAlreadyUsed
	}
	if err := t.nullifiers.Set(nullifierKey(proposalID, nullifier), []byte{1}); err != nil {
		return fmt.Errorf("failed to consume nullifier: %w", err)
	}
	return nil
}

// IncrementTally adds one to the counter of the option. The proposal is
// needed to know the number of options.
func (t *Tx) IncrementTally(proposal *types.Proposal, optionIndex uint64) error {
	if optionIndex >= uint64(len(proposal.Options)) {
		return fmt.Errorf("%w: %d of %d", ErrOptionIndexOutOfRange, optionIndex, len(proposal.Options))
	}
	counts, err := readTallies(t.tallies, proposal)
	if err != nil {
		return err
	}
	incrementSaturating(counts[optionIndex])
	return writeTallies(t.tallies, proposal.ID, counts)
}

// Commit applies the transaction. A conflict with a concurrent transaction
// is returned wrapping db.ErrConflict.
func (t *Tx) Commit() error {
	if err := t.wtx.Commit(); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return fmt.Errorf("vote transaction: %w", err)
		}
		return fmt.Errorf("failed to commit vote transaction: %w", err)
	}
	return nil
}

// Discard drops the pending writes. It is safe to call after Commit.
func (t *Tx) Discard() {
	t.wtx.Discard()
}
