package api

import (
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/signatures/ethereum"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/voting"
)

// InfoResponse describes the node and the circuit it verifies proofs for.
type InfoResponse struct {
	TreeDepth        int           `json:"treeDepth"`
	RootHistorySize  int           `json:"rootHistorySize"`
	VerifyingKeyHash string        `json:"verifyingKeyHash"`
	MaxOptions       int           `json:"maxOptions"`
	CurrentRoot      *types.BigInt `json:"currentRoot"`
	ProposalCount    uint64        `json:"proposalCount"`
}

// NewProposalRequest is the body of POST /proposals. Signature is required
// when the node has an allow-list of proposers, and is made over
// types.ProposalParams.SignaturePayload for the next proposal id.
type NewProposalRequest struct {
	types.ProposalParams
	Signature *ethereum.ECDSASignature `json:"signature,omitempty"`
}

// ProposalResponse is a proposal together with its current voting status.
type ProposalResponse struct {
	*types.Proposal
	IsOpen bool `json:"isOpen"`
}

// ProposalsResponse is a page of proposals.
type ProposalsResponse struct {
	Proposals []*ProposalResponse `json:"proposals"`
	Total     uint64              `json:"total"`
}

// CountResponse holds a counter.
type CountResponse struct {
	Count uint64 `json:"count"`
}

// TalliesResponse holds the decimal counters of the options in [From, To).
type TalliesResponse struct {
	ProposalID uint64   `json:"proposalId"`
	From       uint64   `json:"from"`
	To         uint64   `json:"to"`
	Tallies    []string `json:"tallies"`
}

// NullifierResponse tells whether a nullifier was consumed on a proposal.
type NullifierResponse struct {
	ProposalID    uint64        `json:"proposalId"`
	NullifierHash *types.BigInt `json:"nullifierHash"`
	Consumed      bool          `json:"consumed"`
}

// RootResponse is the state of the commitment registry.
type RootResponse struct {
	Root        *types.BigInt   `json:"root"`
	History     []*types.BigInt `json:"history"`
	HistorySize int             `json:"historySize"`
	Nonce       uint64          `json:"nonce"`
}

// RotateRootRequest is the body of POST /registry/root. The admin signs
// registry.RotateRootMessage(root, nonce).
type RotateRootRequest struct {
	Root      *types.BigInt            `json:"root"`
	Signature *ethereum.ECDSASignature `json:"signature"`
}

// AddMembersRequest is the body of POST /registry/members. The admin signs
// registry.AddMembersMessage(commitments, nonce).
type AddMembersRequest struct {
	Commitments []*types.BigInt          `json:"commitments"`
	Signature   *ethereum.ECDSASignature `json:"signature"`
}

// MembersResponse lists the identity commitments in insertion order.
type MembersResponse struct {
	Members []*types.BigInt `json:"members"`
	Root    *types.BigInt   `json:"root"`
}

// MemberProofResponse is the Merkle path of a member. PathIndices[i] is 1
// when the node at level i is a right child.
type MemberProofResponse struct {
	Leaf        *types.BigInt   `json:"leaf"`
	Index       uint64          `json:"index"`
	Root        *types.BigInt   `json:"root"`
	Siblings    []*types.BigInt `json:"siblings"`
	PathIndices []int           `json:"pathIndices"`
}

// EventsResponse holds the retained events after the requested sequence.
type EventsResponse struct {
	Events  []voting.Event `json:"events"`
	LastSeq uint64         `json:"lastSeq"`
}

func newMemberProofResponse(p *census.MerkleProof) *MemberProofResponse {
	res := &MemberProofResponse{
		Leaf:        new(types.BigInt).SetBigInt(p.Leaf),
		Index:       p.Index,
		Root:        new(types.BigInt).SetBigInt(p.Root),
		Siblings:    make([]*types.BigInt, len(p.Siblings)),
		PathIndices: make([]int, len(p.PathIndices)),
	}
	for i, s := range p.Siblings {
		res.Siblings[i] = new(types.BigInt).SetBigInt(s)
		res.PathIndices[i] = int(p.PathIndices[i])
	}
	return res
}
