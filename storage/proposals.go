package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

// ProposalBuilder builds the proposal that will be stored with id. Returning
// an error aborts the creation and the id is not consumed.
type ProposalBuilder func(id uint64) (*types.Proposal, error)

// NewProposal allocates the next proposal id and stores the proposal built
// for it. The counter and the proposal are committed in one transaction, so
// ids are sequential, start at 1, and are never reused.
func (s *Storage) NewProposal(build ProposalBuilder) (*types.Proposal, error) {
	s.proposalLock.Lock()
	defer s.proposalLock.Unlock()

	wtx := s.db.WriteTx()
	defer wtx.Discard()

	count, err := proposalCount(wtx)
	if err != nil {
		return nil, err
	}
	id := count + 1
	proposal, err := build(id)
	if err != nil {
		return nil, err
	}
	if proposal.ID != id {
		return nil, fmt.Errorf("built proposal has id %d, expected %d", proposal.ID, id)
	}
	if err := setRecord(prefixeddb.NewPrefixedWriteTx(wtx, proposalPrefix), uint64Key(id), proposal); err != nil {
		return nil, fmt.Errorf("failed to store proposal: %w", err)
	}
	if err := wtx.Set(proposalCounterKey, uint64Key(id)); err != nil {
		return nil, fmt.Errorf("failed to store proposal counter: %w", err)
	}
	if err := wtx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit proposal %d: %w", id, err)
	}
	s.cache.Add(id, proposal.Clone())
	return proposal, nil
}

func proposalCount(r db.Reader) (uint64, error) {
	data, err := r.Get(proposalCounterKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read proposal counter: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid proposal counter of %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// ProposalCount returns the number of proposals created so far, which is
// also the id of the last one.
func (s *Storage) ProposalCount() (uint64, error) {
	return proposalCount(s.db)
}

// Proposal returns the proposal with the given id, or ErrProposalNotFound.
// Proposals are immutable once stored, so they are served from a cache. The
// caller gets its own copy.
func (s *Storage) Proposal(id uint64) (*types.Proposal, error) {
	if p, ok := s.cache.Get(id); ok {
		return p.Clone(), nil
	}
	p := &types.Proposal{}
	if err := getRecord(prefixeddb.NewPrefixedReader(s.db, proposalPrefix), uint64Key(id), p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrProposalNotFound, id)
		}
		return nil, fmt.Errorf("failed to read proposal %d: %w", id, err)
	}
	s.cache.Add(id, p)
	return p.Clone(), nil
}

// Proposals returns the proposals with ids in [from, to), in id order.
// Missing ids are skipped.
func (s *Storage) Proposals(from, to uint64) ([]*types.Proposal, error) {
	var list []*types.Proposal
	var decodeErr error
	reader := prefixeddb.NewPrefixedReader(s.db, proposalPrefix)
	if err := reader.Iterate(nil, func(k, v []byte) bool {
		if len(k) != 8 {
			return true
		}
		id := binary.BigEndian.Uint64(k)
		if id < from {
			return true
		}
		if id >= to {
			return false
		}
		p := &types.Proposal{}
		if decodeErr = DecodeRecord(v, p); decodeErr != nil {
			return false
		}
		list = append(list, p)
		return true
	}); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return list, nil
}

// IsProposalOpen reports whether the proposal accepts votes at instant now.
func (s *Storage) IsProposalOpen(id uint64, now time.Time) (bool, error) {
	p, err := s.Proposal(id)
	if err != nil {
		return false, err
	}
	return p.IsOpen(now), nil
}
