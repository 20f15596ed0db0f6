package api

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// Health endpoints
	PingEndpoint = "/ping" // Health check endpoint
	InfoEndpoint = "/info" // GET: node and circuit information

	// Proposal endpoints
	ProposalURLParam       = "proposalId"                                                 // URL parameter for proposal ID
	NullifierURLParam      = "nullifier"                                                  // URL parameter for nullifier hash
	ProposalsEndpoint      = "/proposals"                                                 // GET: List proposals, POST: Create proposal
	ProposalsCountEndpoint = ProposalsEndpoint + "/count"                                 // GET: Number of proposals
	ProposalEndpoint       = ProposalsEndpoint + "/{" + ProposalURLParam + "}"            // GET: Get proposal
	TalliesEndpoint        = ProposalEndpoint + "/tallies"                                // GET: Tallies of a proposal
	VotesEndpoint          = ProposalEndpoint + "/votes"                                  // POST: Submit a vote
	NullifierEndpoint      = ProposalEndpoint + "/nullifiers/{" + NullifierURLParam + "}" // GET: Is the nullifier consumed

	// Registry endpoints
	CommitmentURLParam      = "commitment"                                                    // URL parameter for identity commitment
	RegistryRootEndpoint    = "/registry/root"                                                // GET: Current root, POST: Rotate root
	RegistryMembersEndpoint = "/registry/members"                                             // GET: List members, POST: Add members
	MemberProofEndpoint     = RegistryMembersEndpoint + "/{" + CommitmentURLParam + "}/proof" // GET: Merkle proof of a member

	// Events endpoint
	EventsEndpoint = "/events" // GET: Recent events

	// Query parameters
	FromQueryParam  = "from"
	ToQueryParam    = "to"
	SinceQueryParam = "since"
)

// EndpointWithParam creates an endpoint URL by replacing the parameter
// placeholder with the actual value. If the placeholder is not found, the
// parameter is added as a query parameter.
func EndpointWithParam(path, key, param string) string {
	rawKey := fmt.Sprintf("{%s}", key)
	if strings.Contains(path, rawKey) {
		return strings.Replace(path, rawKey, url.PathEscape(param), 1)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%s", path, sep, url.QueryEscape(key), url.QueryEscape(param))
}

// LogExcludedPrefixes defines URL prefixes to exclude from request logging
var LogExcludedPrefixes = []string{
	PingEndpoint,
	InfoEndpoint,
	EventsEndpoint,
}
