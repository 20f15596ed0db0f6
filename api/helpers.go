package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/registry"
	"github.com/vocdoni/anonvote-node/types"
	"github.com/vocdoni/anonvote-node/voting"
)

// maxRequestBodySize bounds the JSON bodies accepted by the API.
const maxRequestBodySize = 1 << 20

// DisabledLogging is a global flag to disable logging middleware
var DisabledLogging = false

// httpWriteJSON helper function allows to write a JSON response.
func httpWriteJSON(w http.ResponseWriter, data any) {
	jdata, err := json.Marshal(data)
	if err != nil {
		ErrMarshalingServerJSONFailed.WithErr(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(jdata)
	if err != nil {
		log.Warnw("failed to write http response", "error", err)
		return
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
		return
	}
	if !DisabledLogging && log.Level() == log.LogLevelDebug {
		log.Debugw("api response", "bytes", n, "data", strings.ReplaceAll(string(jdata), "\"", ""))
	}
}

// httpWriteOK helper function allows to write an OK response.
func httpWriteOK(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("\n")); err != nil {
		log.Warnw("failed to write on response", "error", err)
	}
}

// decodeBody decodes the JSON request body into out, rejecting unknown
// fields and bodies larger than maxRequestBodySize.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after the JSON body")
	}
	return nil
}

// proposalIDParam parses the proposal id URL parameter.
func proposalIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, ProposalURLParam), 10, 64)
}

// bigIntParam parses a decimal or 0x prefixed field element URL parameter.
func bigIntParam(r *http.Request, key string) (*types.BigInt, error) {
	return types.BigIntFromString(chi.URLParam(r, key))
}

// uintQueryParam returns the unsigned query parameter key, or def when it
// is not present.
func uintQueryParam(r *http.Request, key string, def uint64) (uint64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// errorCodes maps the sentinel errors of the node to their API errors. The
// first match wins.
var errorCodes = []struct {
	err error
	api Error
}{
	{voting.ErrProposalNotFound, ErrProposalNotFound},
	{voting.ErrVotingClosed, ErrVotingClosed},
	{voting.ErrStaleMembershipRoot, ErrStaleMembershipRoot},
	{voting.ErrOptionIndexOutOfRange, ErrOptionIndexOutOfRange},
	{voting.ErrNullifierAlreadyUsed, ErrNullifierAlreadyUsed},
	{voting.ErrInvalidProof, ErrInvalidProof},
	{voting.ErrInvalidFieldElement, ErrInvalidFieldElement},
	{voting.ErrInvalidOptionsList, ErrInvalidOptionsList},
	{voting.ErrInvalidDuration, ErrInvalidDuration},
	{voting.ErrUnsupportedCountingMode, ErrUnsupportedCountingMode},
	{voting.ErrInvalidProposal, ErrInvalidProposal},
	{voting.ErrUnauthorized, ErrUnauthorized},
	{voting.ErrDuplicateMember, ErrDuplicateMember},
	{registry.ErrMemberNotFound, ErrMemberNotFound},
	{registry.ErrInvalidRoot, ErrInvalidRoot},
	{registry.ErrNoMembers, ErrMalformedBody},
	{census.ErrTreeFull, ErrCensusFull},
	{census.ErrInvalidLeaf, ErrMalformedCommitment},
	{db.ErrConflict, ErrStorageConflict},
}

// apiError returns the API error for err. Errors without a known sentinel
// are internal and their details are only logged.
func apiError(err error) Error {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.api.Cause(err)
		}
	}
	log.Warnw("internal API error", "error", err.Error())
	return ErrGenericInternalServerError
}
