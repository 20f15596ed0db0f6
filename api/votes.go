package api

import (
	"net/http"

	"github.com/vocdoni/anonvote-node/types"
)

// newVote submits an anonymous vote on a proposal. The proposal id of the
// path is the external nullifier of the proof; a body carrying a different
// one is rejected.
// POST /proposals/{proposalId}/votes
func (a *API) newVote(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		ErrMalformedProposalID.WithErr(err).Write(w)
		return
	}
	vote := &types.Vote{}
	if err := decodeBody(w, r, vote); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if vote.ProposalID != 0 && vote.ProposalID != id {
		ErrMalformedBody.Withf("proposal id %d does not match the path", vote.ProposalID).Write(w)
		return
	}
	vote.ProposalID = id
	if err := a.orchestrator.Vote(r.Context(), vote); err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// nullifier reports whether a nullifier hash was consumed on a proposal.
// GET /proposals/{proposalId}/nullifiers/{nullifier}
func (a *API) nullifier(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		ErrMalformedProposalID.WithErr(err).Write(w)
		return
	}
	nullifier, err := bigIntParam(r, NullifierURLParam)
	if err != nil {
		ErrMalformedNullifier.WithErr(err).Write(w)
		return
	}
	if _, err := a.orchestrator.GetProposal(id); err != nil {
		apiError(err).Write(w)
		return
	}
	consumed, err := a.orchestrator.IsNullifierConsumed(id, nullifier)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, &NullifierResponse{ProposalID: id, NullifierHash: nullifier, Consumed: consumed})
}
