//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 403, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX.
// If you notice there's a gap, DON'T fill it in, that code was used in the past and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
var (
	ErrResourceNotFound           = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody              = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrInvalidSignature           = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid signature")}
	ErrMalformedProposalID        = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed proposal ID")}
	ErrProposalNotFound           = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("proposal not found")}
	ErrVotingClosed               = Error{Code: 40008, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("voting is closed")}
	ErrStaleMembershipRoot        = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("stale membership root")}
	ErrOptionIndexOutOfRange      = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("option index out of range")}
	ErrNullifierAlreadyUsed       = Error{Code: 40011, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already used")}
	ErrInvalidProof               = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid proof")}
	ErrInvalidFieldElement        = Error{Code: 40013, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid field element")}
	ErrUnauthorized               = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("unauthorized")}
	ErrMalformedParam             = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed parameter")}
	ErrMalformedNullifier         = Error{Code: 40016, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed nullifier")}
	ErrInvalidOptionsList         = Error{Code: 40017, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid options list")}
	ErrInvalidDuration            = Error{Code: 40018, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid duration")}
	ErrUnsupportedCountingMode    = Error{Code: 40019, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unsupported counting mode")}
	ErrInvalidProposal            = Error{Code: 40020, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid proposal")}
	ErrDuplicateMember            = Error{Code: 40021, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("duplicate member")}
	ErrMemberNotFound             = Error{Code: 40022, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("member not found")}
	ErrInvalidRoot                = Error{Code: 40023, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid membership root")}
	ErrMalformedCommitment        = Error{Code: 40024, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed commitment")}
	ErrCensusFull                 = Error{Code: 40025, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("membership tree is full")}
	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrStorageConflict            = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("storage conflict, retry later")}
)
