package api

import (
	"net/http"

	"github.com/vocdoni/anonvote-node/types"
)

// info returns the parameters clients need to build proofs for this node.
// GET /info
func (a *API) info(w http.ResponseWriter, r *http.Request) {
	count, err := a.orchestrator.ProposalCount()
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, &InfoResponse{
		TreeDepth:        a.registry.TreeDepth(),
		RootHistorySize:  a.registry.HistorySize(),
		VerifyingKeyHash: a.vkHash,
		MaxOptions:       types.MaxOptions,
		CurrentRoot:      a.orchestrator.CurrentRoot(),
		ProposalCount:    count,
	})
}
