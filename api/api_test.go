package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/vocdoni/anonvote-node/crypto/signatures/ethereum"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/internal/testutil"
	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/verifier"
	"github.com/vocdoni/anonvote-node/voting"
)

type testAPI struct {
	c        *qt.C
	api      *API
	registry *registry.Registry
	admin    *ethereum.Signer
	census   *testutil.Census
	vkHash   string
}

func newTestAPI(t *testing.T) *testAPI {
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t))
	admin, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	reg, err := registry.New(st, registry.Config{TreeDepth: testutil.TreeDepth, Admin: admin.Address()})
	c.Assert(err, qt.IsNil)
	v, err := verifier.New(testutil.Keys(t).VK, verifier.DefaultCacheSize)
	c.Assert(err, qt.IsNil)
	o := voting.New(st, reg, v, voting.Config{})
	a, err := New(&APIConfig{
		Host:             "127.0.0.1",
		Port:             0,
		Orchestrator:     o,
		Registry:         reg,
		VerifyingKeyHash: v.VerifyingKeyHash(),
	})
	c.Assert(err, qt.IsNil)
	return &testAPI{
		c:        c,
		api:      a,
		registry: reg,
		admin:    admin,
		census:   testutil.NewCensus(t, 0),
		vkHash:   v.VerifyingKeyHash(),
	}
}

func (ta *testAPI) request(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			ta.c.Assert(json.NewEncoder(&buf).Encode(body), qt.IsNil)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ta.api.Router().ServeHTTP(rec, req)
	return rec
}

// get performs a GET request expecting 200 and decodes the response.
func (ta *testAPI) get(path string, out any) {
	rec := ta.request(http.MethodGet, path, nil)
	ta.c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))
	ta.c.Assert(json.Unmarshal(rec.Body.Bytes(), out), qt.IsNil)
}

// assertError checks the status and the error code of a failed request.
func (ta *testAPI) assertError(rec *httptest.ResponseRecorder, apiErr Error) {
	ta.c.Helper()
	ta.c.Assert(rec.Code, qt.Equals, apiErr.HTTPstatus, qt.Commentf("body: %s", rec.Body.String()))
	var res struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}
	ta.c.Assert(json.Unmarshal(rec.Body.Bytes(), &res), qt.IsNil)
	ta.c.Assert(res.Code, qt.Equals, apiErr.Code)
	ta.c.Assert(res.Error, qt.Not(qt.Equals), "")
}

// addMember registers a new identity through the API and returns its index
// in the test census.
func (ta *testAPI) addMember(t *testing.T) int {
	idx := ta.census.AddMember(t)
	commitment, err := ta.census.Identities[idx].Commitment()
	ta.c.Assert(err, qt.IsNil)
	commitments := []*types.BigInt{new(types.BigInt).SetBigInt(commitment)}
	sig, err := ta.admin.Sign(registry.AddMembersMessage(commitments, ta.registry.Nonce()))
	ta.c.Assert(err, qt.IsNil)
	rec := ta.request(http.MethodPost, RegistryMembersEndpoint, &AddMembersRequest{
		Commitments: commitments,
		Signature:   sig,
	})
	ta.c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))
	return idx
}

func proposalPath(endpoint string, id uint64) string {
	return EndpointWithParam(endpoint, ProposalURLParam, fmt.Sprint(id))
}

func TestPingAndInfo(t *testing.T) {
	ta := newTestAPI(t)
	c := ta.c

	rec := ta.request(http.MethodGet, PingEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	info := &InfoResponse{}
	ta.get(InfoEndpoint, info)
	c.Assert(info.TreeDepth, qt.Equals, testutil.TreeDepth)
	c.Assert(info.RootHistorySize, qt.Equals, 0)
	c.Assert(info.VerifyingKeyHash, qt.Equals, ta.vkHash)
	c.Assert(info.MaxOptions, qt.Equals, types.MaxOptions)
	c.Assert(info.CurrentRoot.Equal(ta.registry.CurrentRoot()), qt.IsTrue)

	ta.assertError(ta.request(http.MethodGet, "/unknown", nil), ErrResourceNotFound)
}

func TestProposalEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	c := ta.c

	rec := ta.request(http.MethodPost, ProposalsEndpoint, `{"title":"Lunch","mode":"yesno","duration":60}`)
	c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))
	created := &ProposalResponse{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), created), qt.IsNil)
	c.Assert(created.ID, qt.Equals, uint64(1))
	c.Assert(created.Options, qt.DeepEquals, types.YesNoOptions)
	c.Assert(created.IsOpen, qt.IsTrue)
	c.Assert(created.MetadataCID, qt.Not(qt.Equals), "")

	rec = ta.request(http.MethodPost, ProposalsEndpoint,
		`{"title":"Color","mode":"multiple","options":[" red ","","blue"],"duration":60}`)
	c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))

	got := &ProposalResponse{}
	ta.get(proposalPath(ProposalEndpoint, 2), got)
	c.Assert(got.Title, qt.Equals, "Color")
	c.Assert(got.Options, qt.DeepEquals, []string{"red", "blue"})

	count := &CountResponse{}
	ta.get(ProposalsCountEndpoint, count)
	c.Assert(count.Count, qt.Equals, uint64(2))

	list := &ProposalsResponse{}
	ta.get(ProposalsEndpoint, list)
	c.Assert(list.Total, qt.Equals, uint64(2))
	c.Assert(list.Proposals, qt.HasLen, 2)
	ta.get(ProposalsEndpoint+"?from=2&to=3", list)
	c.Assert(list.Proposals, qt.HasLen, 1)
	c.Assert(list.Proposals[0].ID, qt.Equals, uint64(2))

	tallies := &TalliesResponse{}
	ta.get(proposalPath(TalliesEndpoint, 2), tallies)
	c.Assert(tallies.Tallies, qt.DeepEquals, []string{"0", "0"})
	c.Assert(tallies.To, qt.Equals, uint64(2))
	ta.get(proposalPath(TalliesEndpoint, 2)+"?from=1", tallies)
	c.Assert(tallies.Tallies, qt.DeepEquals, []string{"0"})
	c.Assert(tallies.From, qt.Equals, uint64(1))

	// errors
	ta.assertError(ta.request(http.MethodGet, proposalPath(ProposalEndpoint, 3), nil), ErrProposalNotFound)
	ta.assertError(ta.request(http.MethodGet, EndpointWithParam(ProposalEndpoint, ProposalURLParam, "abc"), nil),
		ErrMalformedProposalID)
	ta.assertError(ta.request(http.MethodGet, proposalPath(TalliesEndpoint, 2)+"?from=2&to=1", nil),
		ErrOptionIndexOutOfRange)
	ta.assertError(ta.request(http.MethodGet, proposalPath(TalliesEndpoint, 2)+"?from=x", nil), ErrMalformedParam)
	ta.assertError(ta.request(http.MethodGet, ProposalsEndpoint+"?from=1&to=1000", nil), ErrMalformedParam)
	ta.assertError(ta.request(http.MethodPost, ProposalsEndpoint,
		`{"title":"Color","mode":"multiple","options":["red"],"duration":60}`), ErrInvalidOptionsList)
	ta.assertError(ta.request(http.MethodPost, ProposalsEndpoint,
		`{"title":"Lunch","duration":0}`), ErrInvalidDuration)
	ta.assertError(ta.request(http.MethodPost, ProposalsEndpoint,
		`{"title":"Lunch","countingMode":"quadratic","duration":60}`), ErrUnsupportedCountingMode)
	ta.assertError(ta.request(http.MethodPost, ProposalsEndpoint,
		`{"title":"  ","duration":60}`), ErrInvalidProposal)
	ta.assertError(ta.request(http.MethodPost, ProposalsEndpoint,
		`{"title":"Lunch","duration":60,"unknown":true}`), ErrMalformedBody)
	ta.assertError(ta.request(http.MethodPost, ProposalsEndpoint, `{"title":`), ErrMalformedBody)

	// failed creations do not consume ids
	ta.get(ProposalsCountEndpoint, count)
	c.Assert(count.Count, qt.Equals, uint64(2))
}

func TestVoteEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	c := ta.c
	member := ta.addMember(t)

	rec := ta.request(http.MethodPost, ProposalsEndpoint, `{"title":"Lunch","duration":600}`)
	c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))

	signalHash, err := voting.SignalHash(1, 0)
	c.Assert(err, qt.IsNil)
	p := ta.census.Prove(t, member, big.NewInt(1), signalHash.MathBigInt())
	vote := &types.Vote{
		OptionIndex:   0,
		SignalHash:    p.SignalHash,
		NullifierHash: p.NullifierHash,
		MerkleRoot:    p.Root,
		Proof:         p.Proof,
	}

	nullifierPath := EndpointWithParam(proposalPath(NullifierEndpoint, 1), NullifierURLParam, p.NullifierHash.String())
	nullifier := &NullifierResponse{}
	ta.get(nullifierPath, nullifier)
	c.Assert(nullifier.Consumed, qt.IsFalse)

	// a vote for another proposal id in the body is rejected
	vote.ProposalID = 2
	ta.assertError(ta.request(http.MethodPost, proposalPath(VotesEndpoint, 1), vote), ErrMalformedBody)
	vote.ProposalID = 0

	// a proof bound to another option is not valid for this one
	vote.OptionIndex = 1
	ta.assertError(ta.request(http.MethodPost, proposalPath(VotesEndpoint, 1), vote), ErrInvalidProof)
	vote.OptionIndex = 2
	ta.assertError(ta.request(http.MethodPost, proposalPath(VotesEndpoint, 1), vote), ErrOptionIndexOutOfRange)
	vote.OptionIndex = 0

	rec = ta.request(http.MethodPost, proposalPath(VotesEndpoint, 1), vote)
	c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))

	tallies := &TalliesResponse{}
	ta.get(proposalPath(TalliesEndpoint, 1), tallies)
	c.Assert(tallies.Tallies, qt.DeepEquals, []string{"1", "0"})
	ta.get(nullifierPath, nullifier)
	c.Assert(nullifier.Consumed, qt.IsTrue)

	// the same member cannot vote again
	ta.assertError(ta.request(http.MethodPost, proposalPath(VotesEndpoint, 1), vote), ErrNullifierAlreadyUsed)
	ta.assertError(ta.request(http.MethodPost, proposalPath(VotesEndpoint, 9), vote), ErrProposalNotFound)
	ta.assertError(ta.request(http.MethodGet,
		EndpointWithParam(proposalPath(NullifierEndpoint, 1), NullifierURLParam, "zz"), nil), ErrMalformedNullifier)

	ta.get(proposalPath(TalliesEndpoint, 1), tallies)
	c.Assert(tallies.Tallies, qt.DeepEquals, []string{"1", "0"})

	events := &EventsResponse{}
	ta.get(EventsEndpoint, events)
	c.Assert(events.Events, qt.HasLen, 3)
	c.Assert(events.Events[0].Type, qt.Equals, voting.EventProposalCreated)
	c.Assert(events.Events[1].Type, qt.Equals, voting.EventProofVerified)
	c.Assert(events.Events[2].Type, qt.Equals, voting.EventVoteRecorded)
	c.Assert(*events.Events[2].OptionIndex, qt.Equals, uint64(0))
	c.Assert(events.LastSeq, qt.Equals, events.Events[2].Seq)

	ta.get(fmt.Sprintf("%s?%s=%d", EventsEndpoint, SinceQueryParam, events.LastSeq), events)
	c.Assert(events.Events, qt.HasLen, 0)
	ta.assertError(ta.request(http.MethodGet, EventsEndpoint+"?since=-1", nil), ErrMalformedParam)
}

func TestRegistryEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	c := ta.c

	root := &RootResponse{}
	ta.get(RegistryRootEndpoint, root)
	c.Assert(root.Nonce, qt.Equals, uint64(0))
	c.Assert(root.Root.Equal(ta.registry.CurrentRoot()), qt.IsTrue)

	member := ta.addMember(t)
	commitment, err := ta.census.Identities[member].Commitment()
	c.Assert(err, qt.IsNil)

	members := &MembersResponse{}
	ta.get(RegistryMembersEndpoint, members)
	c.Assert(members.Members, qt.HasLen, 1)
	c.Assert(members.Members[0].MathBigInt().Cmp(commitment), qt.Equals, 0)
	c.Assert(members.Root.MathBigInt().Cmp(ta.census.Tree.Root()), qt.Equals, 0)

	proof := &MemberProofResponse{}
	ta.get(EndpointWithParam(MemberProofEndpoint, CommitmentURLParam, commitment.String()), proof)
	c.Assert(proof.Index, qt.Equals, uint64(0))
	c.Assert(proof.Siblings, qt.HasLen, testutil.TreeDepth)
	c.Assert(proof.Root.Equal(members.Root), qt.IsTrue)

	ta.assertError(ta.request(http.MethodGet, EndpointWithParam(MemberProofEndpoint, CommitmentURLParam, "5"), nil),
		ErrMemberNotFound)
	ta.assertError(ta.request(http.MethodGet, EndpointWithParam(MemberProofEndpoint, CommitmentURLParam, "x"), nil),
		ErrMalformedCommitment)

	// the same commitment cannot be added twice
	commitments := []*types.BigInt{new(types.BigInt).SetBigInt(commitment)}
	sig, err := ta.admin.Sign(registry.AddMembersMessage(commitments, ta.registry.Nonce()))
	c.Assert(err, qt.IsNil)
	ta.assertError(ta.request(http.MethodPost, RegistryMembersEndpoint,
		&AddMembersRequest{Commitments: commitments, Signature: sig}), ErrDuplicateMember)

	// rotation
	newRoot := types.NewInt(12345)
	ta.assertError(ta.request(http.MethodPost, RegistryRootEndpoint, &RotateRootRequest{Root: newRoot}),
		ErrInvalidSignature)
	other, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	sig, err = other.Sign(registry.RotateRootMessage(newRoot, ta.registry.Nonce()))
	c.Assert(err, qt.IsNil)
	ta.assertError(ta.request(http.MethodPost, RegistryRootEndpoint,
		&RotateRootRequest{Root: newRoot, Signature: sig}), ErrUnauthorized)

	sig, err = ta.admin.Sign(registry.RotateRootMessage(newRoot, ta.registry.Nonce()))
	c.Assert(err, qt.IsNil)
	rec := ta.request(http.MethodPost, RegistryRootEndpoint, &RotateRootRequest{Root: newRoot, Signature: sig})
	c.Assert(rec.Code, qt.Equals, http.StatusOK, qt.Commentf("body: %s", rec.Body.String()))
	c.Assert(json.Unmarshal(rec.Body.Bytes(), root), qt.IsNil)
	c.Assert(root.Root.Equal(newRoot), qt.IsTrue)
	c.Assert(root.Nonce, qt.Equals, uint64(2))
}

func TestRequestID(t *testing.T) {
	ta := newTestAPI(t)
	c := ta.c

	rec := ta.request(http.MethodGet, PingEndpoint, nil)
	id, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Not(qt.Equals), uuid.Nil)

	sent := uuid.New()
	req := httptest.NewRequest(http.MethodGet, PingEndpoint, nil)
	req.Header.Set(RequestIDHeader, sent.String())
	rec = httptest.NewRecorder()
	ta.api.Router().ServeHTTP(rec, req)
	c.Assert(rec.Header().Get(RequestIDHeader), qt.Equals, sent.String())
}

func TestStartStop(t *testing.T) {
	ta := newTestAPI(t)
	c := ta.c
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c.Assert(ta.api.Start(ctx), qt.IsNil)
	c.Assert(ta.api.Start(ctx), qt.ErrorMatches, "API server already running")
	ta.api.Stop()
	// stopping twice is a no-op
	ta.api.Stop()
}

func TestErrorJSON(t *testing.T) {
	c := qt.New(t)
	data, err := json.Marshal(ErrProposalNotFound.Withf("id %d", 7))
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `{"error":"proposal not found: id 7","code":40007}`)

	rec := httptest.NewRecorder()
	apiError(fmt.Errorf("boom")).Write(rec)
	c.Assert(rec.Code, qt.Equals, http.StatusInternalServerError)
	c.Assert(rec.Body.String(), qt.Equals, `{"error":"internal server error","code":50002}`+"\n")

	rec = httptest.NewRecorder()
	apiError(fmt.Errorf("wrapped: %w", voting.ErrVotingClosed)).Write(rec)
	c.Assert(rec.Code, qt.Equals, ErrVotingClosed.HTTPstatus)
	c.Assert(rec.Body.String(), qt.Equals, `{"error":"wrapped: voting is closed","code":40008}`+"\n")
}

func TestEndpointWithParam(t *testing.T) {
	c := qt.New(t)
	c.Assert(EndpointWithParam(ProposalEndpoint, ProposalURLParam, "3"), qt.Equals, "/proposals/3")
	c.Assert(EndpointWithParam(EventsEndpoint, SinceQueryParam, "4"), qt.Equals, "/events?since=4")
	c.Assert(EndpointWithParam("/events?since=4", "x", "a b"), qt.Equals, "/events?since=4&x=a+b")
}
