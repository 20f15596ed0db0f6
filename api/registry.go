package api

import (
	"net/http"
)

// root returns the current membership root and the accepted history.
// GET /registry/root
func (a *API) root(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &RootResponse{
		Root:        a.registry.CurrentRoot(),
		History:     a.registry.History(),
		HistorySize: a.registry.HistorySize(),
		Nonce:       a.registry.Nonce(),
	})
}

// rotateRoot replaces the membership root. Only the admin can do it.
// POST /registry/root
func (a *API) rotateRoot(w http.ResponseWriter, r *http.Request) {
	req := &RotateRootRequest{}
	if err := decodeBody(w, r, req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if !req.Signature.Valid() {
		ErrInvalidSignature.With("missing admin signature").Write(w)
		return
	}
	if err := a.registry.RotateRoot(req.Root, req.Signature); err != nil {
		apiError(err).Write(w)
		return
	}
	a.root(w, r)
}

// members lists the identity commitments of the membership tree.
// GET /registry/members
func (a *API) members(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &MembersResponse{
		Members: a.registry.Members(),
		Root:    a.registry.TreeRoot(),
	})
}

// addMembers appends commitments to the membership tree and rotates the
// root to the new tree root. Only the admin can do it.
// POST /registry/members
func (a *API) addMembers(w http.ResponseWriter, r *http.Request) {
	req := &AddMembersRequest{}
	if err := decodeBody(w, r, req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if !req.Signature.Valid() {
		ErrInvalidSignature.With("missing admin signature").Write(w)
		return
	}
	if err := a.registry.AddMembers(req.Commitments, req.Signature); err != nil {
		apiError(err).Write(w)
		return
	}
	a.members(w, r)
}

// memberProof returns the Merkle path of a commitment in the membership
// tree.
// GET /registry/members/{commitment}/proof
func (a *API) memberProof(w http.ResponseWriter, r *http.Request) {
	commitment, err := bigIntParam(r, CommitmentURLParam)
	if err != nil {
		ErrMalformedCommitment.WithErr(err).Write(w)
		return
	}
	proof, err := a.registry.MemberProof(commitment)
	if err != nil {
		apiError(err).Write(w)
		return
	}
	httpWriteJSON(w, newMemberProofResponse(proof))
}
