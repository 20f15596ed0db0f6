package storage

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

// tallyRecord stores one 32 byte big endian counter per option.
type tallyRecord struct {
	Counts [][]byte `cbor:"0,keyasint"`
}

// readTallies returns the counters of the proposal. A proposal without votes
// has no record and all its counters are zero.
func readTallies(r db.Reader, proposal *types.Proposal) ([]*uint256.Int, error) {
	counts := make([]*uint256.Int, len(proposal.Options))
	for i := range counts {
		counts[i] = new(uint256.Int)
	}
	record := &tallyRecord{}
	if err := getRecord(r, uint64Key(proposal.ID), record); err != nil {
		if errors.Is(err, ErrNotFound) {
			return counts, nil
		}
		return nil, fmt.Errorf("failed to read tallies: %w", err)
	}
	if len(record.Counts) != len(counts) {
		return nil, fmt.Errorf("tallies of proposal %d have %d counters, want %d",
			proposal.ID, len(record.Counts), len(counts))
	}
	for i, c := range record.Counts {
		counts[i].SetBytes(c)
	}
	return counts, nil
}

func writeTallies(w db.WriteTx, proposalID uint64, counts []*uint256.Int) error {
	record := &tallyRecord{Counts: make([][]byte, len(counts))}
	for i, c := range counts {
		b := c.Bytes32()
		record.Counts[i] = b[:]
	}
	return setRecord(w, uint64Key(proposalID), record)
}

// incrementSaturating adds one to c unless it already holds 2^256-1.
func incrementSaturating(c *uint256.Int) {
	if _, overflow := c.AddOverflow(c, uint256.NewInt(1)); overflow {
		c.SetAllOne()
	}
}

// IncrementTally adds one vote to the option in its own transaction.
func (s *Storage) IncrementTally(proposalID, optionIndex uint64) error {
	proposal, err := s.Proposal(proposalID)
	if err != nil {
		return err
	}
	tx := s.NewTx()
	defer tx.Discard()
	if err := tx.IncrementTally(proposal, optionIndex); err != nil {
		return err
	}
	return tx.Commit()
}

// Tallies returns the counters of the options in [from, to). The range is
// clamped to the number of options; from > to is ErrOptionIndexOutOfRange.
func (s *Storage) Tallies(proposalID, from, to uint64) ([]*uint256.Int, error) {
	if from > to {
		return nil, fmt.Errorf("%w: from %d is greater than to %d", ErrOptionIndexOutOfRange, from, to)
	}
	proposal, err := s.Proposal(proposalID)
	if err != nil {
		return nil, err
	}
	counts, err := readTallies(prefixeddb.NewPrefixedReader(s.db, tallyPrefix), proposal)
	if err != nil {
		return nil, err
	}
	n := uint64(len(counts))
	to = min(to, n)
	from = min(from, to)
	return counts[from:to], nil
}
