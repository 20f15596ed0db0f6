package api

import (
	"net/http"

	"github.com/vocdoni/anonvote-node/types"
)

// defaultPageSize is the number of proposals listed when the request does
// not set the range.
const defaultPageSize = 50

// newProposal creates a proposal.
// POST /proposals
func (a *API) newProposal(w http.ResponseWriter, r *http.Request) {
	req := &NewProposalRequest{}
	if err := decodeBody(w, r, req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	proposal, err := a.orchestrator.CreateProposal(r.Context(), &req.ProposalParams, req.Signature)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, &ProposalResponse{Proposal: proposal, IsOpen: true})
}

// proposal returns a proposal by id.
// GET /proposals/{proposalId}
func (a *API) proposal(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		ErrMalformedProposalID.WithErr(err).Write(w)
		return
	}
	proposal, err := a.orchestrator.GetProposal(id)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, a.proposalResponse(proposal))
}

// proposals lists the proposals with ids in [from, to). By default the
// first page is returned.
// GET /proposals?from=&to=
func (a *API) proposals(w http.ResponseWriter, r *http.Request) {
	from, err := uintQueryParam(r, FromQueryParam, 1)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	to, err := uintQueryParam(r, ToQueryParam, from+defaultPageSize)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	if to < from || to-from > defaultPageSize {
		ErrMalformedParam.Withf("range [%d, %d) must hold at most %d proposals", from, to, defaultPageSize).Write(w)
		return
	}
	total, err := a.orchestrator.ProposalCount()
	if err != nil {
		apiError(err).Write(w)
		return
	}
	list, err := a.orchestrator.Proposals(from, to)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	res := &ProposalsResponse{Proposals: make([]*ProposalResponse, 0, len(list)), Total: total}
	for _, p := range list {
		res.Proposals = append(res.Proposals, a.proposalResponse(p))
	}
	httpWriteJSON(w, res)
}

// proposalCount returns the number of proposals created.
// GET /proposals/count
func (a *API) proposalCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.orchestrator.ProposalCount()
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, &CountResponse{Count: count})
}

// tallies returns the counters of the options in [from, to). Without a
// range all the options are returned.
// GET /proposals/{proposalId}/tallies?from=&to=
func (a *API) tallies(w http.ResponseWriter, r *http.Request) {
	id, err := proposalIDParam(r)
	if err != nil {
		ErrMalformedProposalID.WithErr(err).Write(w)
		return
	}
	from, err := uintQueryParam(r, FromQueryParam, 0)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	to, err := uintQueryParam(r, ToQueryParam, types.MaxOptions)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	counts, err := a.orchestrator.Tallies(id, from, to)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	// report the range actually returned, clamped to the options
	proposal, err := a.orchestrator.GetProposal(id)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	to = min(to, uint64(len(proposal.Options)))
	from = min(from, to)
	res := &TalliesResponse{
		ProposalID: id,
		From:       from,
		To:         to,
		Tallies:    make([]string, len(counts)),
	}
	for i, c := range counts {
		res.Tallies[i] = c.Dec()
	}
	httpWriteJSON(w, res)
}

func (a *API) proposalResponse(p *types.Proposal) *ProposalResponse {
	open, _ := a.orchestrator.IsOpen(p.ID)
	return &ProposalResponse{Proposal: p, IsOpen: open}
}
