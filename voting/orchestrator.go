// Package voting sequences anonymous votes and proposal creation over the
// registry, the proof verifier and the storage.
package voting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vocdoni/anonvote-node/crypto/signatures/ethereum"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/verifier"
)

// commitRetries bounds the attempts to commit a vote that conflicts with a
// transaction of another process sharing the database.
const commitRetries = 3

// maxDuration keeps closesAt representable.
const maxDuration = uint64(math.MaxInt64 / int64(time.Second))

var fieldModulus = fr.Modulus()

// RootRegistry is the part of the commitment registry the orchestrator
// reads.
type RootRegistry interface {
	CurrentRoot() *types.BigInt
	IsAcceptedRoot(root *types.BigInt) bool
}

// ProofVerifier verifies membership proofs.
type ProofVerifier interface {
	Verify(proof types.Proof, signals verifier.PublicSignals) (bool, error)
}

// Config holds the orchestrator options.
type Config struct {
	// Proposers is the allow-list of proposal creators. Empty means anyone
	// may create proposals.
	Proposers []common.Address
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// EventsHistory and SubscriberBuffer size the event hub.
	EventsHistory    int
	SubscriberBuffer int
}

// Orchestrator is the entry point of the voting core. It is safe for
// concurrent use.
type Orchestrator struct {
	storage   *storage.Storage
	registry  RootRegistry
	verifier  ProofVerifier
	events    *Events
	clock     func() time.Time
	proposers map[common.Address]struct{}
	locks     sync.Map // proposalID -> *sync.Mutex
}

// New creates an orchestrator. The collaborators are owned by the caller.
func New(st *storage.Storage, reg RootRegistry, v ProofVerifier, cfg Config) *Orchestrator {
	o := &Orchestrator{
		storage:   st,
		registry:  reg,
		verifier:  v,
		events:    NewEvents(cfg.EventsHistory, cfg.SubscriberBuffer),
		clock:     cfg.Clock,
		proposers: make(map[common.Address]struct{}, len(cfg.Proposers)),
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	for _, p := range cfg.Proposers {
		o.proposers[p] = struct{}{}
	}
	return o
}

// Events returns the event hub.
func (o *Orchestrator) Events() *Events {
	return o.events
}

func (o *Orchestrator) proposalLock(id uint64) *sync.Mutex {
	l, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// MaterializeOptions validates the options for the mode and returns the
// ones the proposal will have.
func MaterializeOptions(mode types.OptionsMode, options []string) ([]string, error) {
	switch mode {
	case types.OptionsModeYesNo:
		return append([]string(nil), types.YesNoOptions...), nil
	case types.OptionsModeMultiple:
		var out []string
		for _, opt := range options {
			if opt = strings.TrimSpace(opt); opt != "" {
				out = append(out, opt)
			}
		}
		if len(out) < 2 {
			return nil, fmt.Errorf("%w: at least 2 non-empty options are required, got %d",
				ErrInvalidOptionsList, len(out))
		}
		if len(out) > types.MaxOptions {
			return nil, fmt.Errorf("%w: at most %d options are allowed, got %d",
				ErrInvalidOptionsList, types.MaxOptions, len(out))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown options mode %d", ErrInvalidProposal, mode)
	}
}

func validateParams(params *types.ProposalParams) ([]string, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: missing parameters", ErrInvalidProposal)
	}
	if strings.TrimSpace(params.Title) == "" {
		return nil, fmt.Errorf("%w: empty title", ErrInvalidProposal)
	}
	if params.CountingMode != types.CountingSimple {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCountingMode, params.CountingMode)
	}
	if params.Duration == 0 || params.Duration > maxDuration {
		return nil, fmt.Errorf("%w: %d seconds", ErrInvalidDuration, params.Duration)
	}
	return MaterializeOptions(params.OptionsMode, params.Options)
}

// CreateProposal validates params and stores a new proposal open from now
// for params.Duration seconds. When an allow-list of proposers is
// configured, signature must be made by one of them over
// params.SignaturePayload for the id the proposal gets.
func (o *Orchestrator) CreateProposal(ctx context.Context, params *types.ProposalParams,
	signature *ethereum.ECDSASignature,
) (*types.Proposal, error) {
	options, err := validateParams(params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := o.clock().UTC().Truncate(time.Second)
	proposal, err := o.storage.NewProposal(func(id uint64) (*types.Proposal, error) {
		payload, err := params.SignaturePayload(id, options)
		if err != nil {
			return nil, err
		}
		proposer, err := o.authorizeProposer(payload, signature)
		if err != nil {
			return nil, err
		}
		metadata, err := types.MetadataCID(params.Title, params.Description, options)
		if err != nil {
			return nil, err
		}
		return &types.Proposal{
			ID:           id,
			Title:        params.Title,
			Description:  params.Description,
			OptionsMode:  params.OptionsMode,
			CountingMode: params.CountingMode,
			Options:      options,
			OpensAt:      now,
			ClosesAt:     now.Add(time.Duration(params.Duration) * time.Second),
			Proposer:     proposer,
			MetadataCID:  metadata.String(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Infow("proposal created",
		"id", proposal.ID,
		"mode", proposal.OptionsMode.String(),
		"options", len(proposal.Options),
		"closesAt", proposal.ClosesAt)
	o.events.publish(EventProposalCreated, proposal.ID, nil, now)
	return proposal, nil
}

func (o *Orchestrator) authorizeProposer(payload []byte, signature *ethereum.ECDSASignature) (common.Address, error) {
	if !signature.Valid() {
		if len(o.proposers) > 0 {
			return common.Address{}, fmt.Errorf("%w: a proposer signature is required", ErrUnauthorized)
		}
		return common.Address{}, nil
	}
	addr, err := ethereum.AddrFromSignature(payload, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if len(o.proposers) > 0 {
		if _, ok := o.proposers[addr]; !ok {
			return common.Address{}, fmt.Errorf("%w: %s is not an allowed proposer", ErrUnauthorized, addr.Hex())
		}
	}
	return addr, nil
}

// Vote verifies and records an anonymous vote. Either the nullifier is
// consumed and the tally incremented, or nothing changes.
func (o *Orchestrator) Vote(ctx context.Context, vote *types.Vote) error {
	if vote == nil {
		return fmt.Errorf("%w: empty vote", ErrInvalidFieldElement)
	}
	if vote.NullifierHash == nil || vote.MerkleRoot == nil {
		return fmt.Errorf("%w: missing nullifier hash or merkle root", ErrInvalidFieldElement)
	}
	signals := verifier.PublicSignals{
		Root:              vote.MerkleRoot,
		NullifierHash:     vote.NullifierHash,
		SignalHash:        vote.SignalHash,
		ExternalNullifier: types.NewInt(vote.ProposalID),
	}
	// the signal hash is recomputed below, a missing one is checked as zero
	if signals.SignalHash == nil {
		signals.SignalHash = types.NewInt(0)
	}
	for _, e := range vote.Proof {
		if e == nil {
			return fmt.Errorf("%w: missing proof element", ErrInvalidFieldElement)
		}
	}
	if err := verifier.CheckFieldElements(vote.Proof, signals); err != nil {
		return err
	}

	proposal, err := o.storage.Proposal(vote.ProposalID)
	if err != nil {
		return err
	}
	now := o.clock()
	if !proposal.IsOpen(now) {
		return fmt.Errorf("%w: proposal %d", ErrVotingClosed, proposal.ID)
	}
	if !o.registry.IsAcceptedRoot(vote.MerkleRoot) {
		return fmt.Errorf("%w: %s", ErrStaleMembershipRoot, vote.MerkleRoot)
	}
	if vote.OptionIndex >= uint64(len(proposal.Options)) {
		return fmt.Errorf("%w: %d of %d", ErrOptionIndexOutOfRange, vote.OptionIndex, len(proposal.Options))
	}
	consumed, err := o.storage.IsNullifierConsumed(proposal.ID, vote.NullifierHash)
	if err != nil {
		return err
	}
	if consumed {
		return fmt.Errorf("%w: proposal %d", ErrNullifierAlreadyUsed, proposal.ID)
	}

	expected, err := SignalHash(proposal.ID, vote.OptionIndex)
	if err != nil {
		return err
	}
	if !expected.Equal(signals.SignalHash) {
		log.Debugw("vote rejected", "proposalId", proposal.ID, "reason", "signal hash mismatch")
		return ErrInvalidProof
	}
	valid, err := o.verifier.Verify(vote.Proof, signals)
	if err != nil {
		return err
	}
	if !valid {
		log.Debugw("vote rejected", "proposalId", proposal.ID, "reason", "proof verification failed")
		return ErrInvalidProof
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.record(proposal, vote); err != nil {
		return err
	}
	log.Infow("vote recorded", "proposalId", proposal.ID, "option", vote.OptionIndex)
	log.Debugw("nullifier consumed", "proposalId", proposal.ID, "nullifier", vote.NullifierHash.String())

	option := vote.OptionIndex
	o.events.publish(EventProofVerified, proposal.ID, nil, now)
	o.events.publish(EventVoteRecorded, proposal.ID, &option, now)
	return nil
}

// record consumes the nullifier and increments the tally in one
// transaction, under the proposal lock. The nullifier is checked again
// inside the transaction, so a concurrent vote with the same nullifier
// either makes it fail here or makes the commit conflict.
func (o *Orchestrator) record(proposal *types.Proposal, vote *types.Vote) error {
	lock := o.proposalLock(proposal.ID)
	lock.Lock()
	defer lock.Unlock()

	for range commitRetries {
		err := o.recordTx(proposal, vote)
		if !errors.Is(err, db.ErrConflict) {
			return err
		}
		log.Debugw("vote transaction conflict, retrying", "proposalId", proposal.ID)
	}
	return fmt.Errorf("could not record vote on proposal %d: %w", proposal.ID, db.ErrConflict)
}

func (o *Orchestrator) recordTx(proposal *types.Proposal, vote *types.Vote) error {
	tx := o.storage.NewTx()
	defer tx.Discard()
	if err := tx.ConsumeNullifier(proposal.ID, vote.NullifierHash); err != nil {
		if errors.Is(err, storage.ErrNullifierAlreadyUsed) {
			return fmt.Errorf("%w: proposal %d", ErrNullifierAlreadyUsed, proposal.ID)
		}
		return err
	}
	if err := tx.IncrementTally(proposal, vote.OptionIndex); err != nil {
		return err
	}
	return tx.Commit()
}

// GetProposal returns the proposal or ErrProposalNotFound.
func (o *Orchestrator) GetProposal(id uint64) (*types.Proposal, error) {
	return o.storage.Proposal(id)
}

// ProposalCount returns the number of proposals created.
func (o *Orchestrator) ProposalCount() (uint64, error) {
	return o.storage.ProposalCount()
}

// Proposals returns the proposals with ids in [from, to).
func (o *Orchestrator) Proposals(from, to uint64) ([]*types.Proposal, error) {
	return o.storage.Proposals(from, to)
}

// IsOpen reports whether the proposal accepts votes now.
func (o *Orchestrator) IsOpen(id uint64) (bool, error) {
	return o.storage.IsProposalOpen(id, o.clock())
}

// Tallies returns the counters of the options in [from, to).
func (o *Orchestrator) Tallies(id, from, to uint64) ([]*uint256.Int, error) {
	return o.storage.Tallies(id, from, to)
}

// IsNullifierConsumed reports whether the nullifier was used on the
// proposal.
func (o *Orchestrator) IsNullifierConsumed(id uint64, nullifier *types.BigInt) (bool, error) {
	if !nullifier.IsInField(fieldModulus) {
		return false, fmt.Errorf("%w: nullifier", ErrInvalidFieldElement)
	}
	return o.storage.IsNullifierConsumed(id, nullifier)
}

// CurrentRoot returns the membership root votes are proven against.
func (o *Orchestrator) CurrentRoot() *types.BigInt {
	return o.registry.CurrentRoot()
}
