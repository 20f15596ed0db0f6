package types

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// OptionsMode selects how the options of a proposal are materialized.
type OptionsMode uint8

const (
	// OptionsModeYesNo always materializes the options ["Yes","No"].
	OptionsModeYesNo OptionsMode = iota
	// OptionsModeMultiple takes the caller supplied options.
	OptionsModeMultiple

	OptionsModeYesNoName    = "yesno"
	OptionsModeMultipleName = "multiple"
)

func (m OptionsMode) String() string {
	switch m {
	case OptionsModeYesNo:
		return OptionsModeYesNoName
	case OptionsModeMultiple:
		return OptionsModeMultipleName
	default:
		return "unknown"
	}
}

func (m OptionsMode) MarshalText() ([]byte, error) {
	if m > OptionsModeMultiple {
		return nil, fmt.Errorf("invalid options mode %d", m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText accepts the mode name or its numeric value.
func (m *OptionsMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case OptionsModeYesNoName, "0":
		*m = OptionsModeYesNo
	case OptionsModeMultipleName, "1":
		*m = OptionsModeMultiple
	default:
		return fmt.Errorf("invalid options mode %q", text)
	}
	return nil
}

// UnmarshalJSON accepts both a JSON string and a JSON number.
func (m *OptionsMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return m.UnmarshalText([]byte(s))
	}
	return m.UnmarshalText(data)
}

// CountingMode is the policy used to interpret tallies. Only CountingSimple
// is implemented; the others are reserved.
type CountingMode uint8

const (
	CountingSimple CountingMode = iota
	CountingQuadratic
	CountingWeighted

	CountingSimpleName    = "simple"
	CountingQuadraticName = "quadratic"
	CountingWeightedName  = "weighted"
)

func (m CountingMode) String() string {
	switch m {
	case CountingSimple:
		return CountingSimpleName
	case CountingQuadratic:
		return CountingQuadraticName
	case CountingWeighted:
		return CountingWeightedName
	default:
		return "unknown"
	}
}

func (m CountingMode) MarshalText() ([]byte, error) {
	if m > CountingWeighted {
		return nil, fmt.Errorf("invalid counting mode %d", m)
	}
	return []byte(m.String()), nil
}

func (m *CountingMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case CountingSimpleName, "":
		*m = CountingSimple
	case CountingQuadraticName:
		*m = CountingQuadratic
	case CountingWeightedName:
		*m = CountingWeighted
	default:
		n, err := strconv.ParseUint(string(text), 10, 8)
		if err != nil || n > uint64(CountingWeighted) {
			return fmt.Errorf("invalid counting mode %q", text)
		}
		*m = CountingMode(n)
	}
	return nil
}

func (m *CountingMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return m.UnmarshalText([]byte(s))
	}
	return m.UnmarshalText(data)
}

// YesNoOptions are the options materialized for OptionsModeYesNo.
var YesNoOptions = []string{"Yes", "No"}

// NewProposalMessageToSign is signed by a proposer to authorize a proposal.
// It binds the id the proposal will get, so a signature cannot be replayed.
const NewProposalMessageToSign = "I am creating anonymous voting proposal %d with metadata %s, mode %s, counting %s and duration %d"

// Proposal is a question open to anonymous voting during [OpensAt, ClosesAt).
// Only tallies change after creation and they are stored separately.
type Proposal struct {
	ID           uint64         `json:"id"           cbor:"0,keyasint"`
	Title        string         `json:"title"        cbor:"1,keyasint"`
	Description  string         `json:"description"  cbor:"2,keyasint,omitempty"`
	OptionsMode  OptionsMode    `json:"mode"         cbor:"3,keyasint"`
	CountingMode CountingMode   `json:"countingMode" cbor:"4,keyasint"`
	Options      []string       `json:"options"      cbor:"5,keyasint"`
	OpensAt      time.Time      `json:"opensAt"      cbor:"6,keyasint"`
	ClosesAt     time.Time      `json:"closesAt"     cbor:"7,keyasint"`
	Proposer     common.Address `json:"proposer"     cbor:"8,keyasint,omitempty"`
	MetadataCID  string         `json:"metadataCid"  cbor:"9,keyasint,omitempty"`
}

// IsOpen reports whether votes are accepted at instant now.
func (p *Proposal) IsOpen(now time.Time) bool {
	return !now.Before(p.OpensAt) && now.Before(p.ClosesAt)
}

// Clone returns a copy of p that shares no mutable state with it.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Options = slices.Clone(p.Options)
	return &c
}

func (p *Proposal) String() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// ProposalParams are the caller supplied fields of a new proposal.
type ProposalParams struct {
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	OptionsMode  OptionsMode  `json:"mode"`
	CountingMode CountingMode `json:"countingMode"`
	Options      []string     `json:"options"`
	// Duration is expressed in seconds.
	Duration uint64 `json:"duration"`
}

type proposalMetadata struct {
	Title       string   `cbor:"0,keyasint"`
	Description string   `cbor:"1,keyasint"`
	Options     []string `cbor:"2,keyasint"`
}

// MetadataCID returns the CIDv1 (raw codec, sha2-256) of the canonical CBOR
// encoding of the proposal title, description and options.
func MetadataCID(title, description string, options []string) (cid.Cid, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return cid.Undef, err
	}
	data, err := em.Marshal(proposalMetadata{Title: title, Description: description, Options: options})
	if err != nil {
		return cid.Undef, err
	}
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// SignaturePayload returns the message a proposer signs to create proposal
// id with these params. Options are the materialized ones.
func (pp *ProposalParams) SignaturePayload(id uint64, options []string) ([]byte, error) {
	c, err := MetadataCID(pp.Title, pp.Description, options)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, NewProposalMessageToSign,
		id, c.String(), pp.OptionsMode, pp.CountingMode, pp.Duration), nil
}
