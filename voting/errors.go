package voting

import (
	"errors"

	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/verifier"
)

// Errors returned by the orchestrator. They are wrapped with context and
// must be matched with errors.Is. Some of them are shared with the packages
// that detect the condition.
var (
	ErrProposalNotFound      = storage.ErrProposalNotFound
	ErrVotingClosed          = errors.New("voting is closed")
	ErrStaleMembershipRoot   = errors.New("stale membership root")
	ErrOptionIndexOutOfRange = storage.ErrOptionIndexOutOfRange
	ErrNullifierAlreadyUsed  = storage.ErrNullifierAlreadyUsed
	ErrInvalidProof          = errors.New("invalid proof")
	ErrInvalidFieldElement   = verifier.ErrInvalidFieldElement

	ErrInvalidOptionsList      = errors.New("invalid options list")
	ErrInvalidDuration         = errors.New("invalid duration")
	ErrUnsupportedCountingMode = errors.New("unsupported counting mode")
	ErrInvalidProposal         = errors.New("invalid proposal")
	ErrUnauthorized            = registry.ErrUnauthorized
	ErrDuplicateMember         = registry.ErrDuplicateMember
)
