package types

import (
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestProposalModesJSON(t *testing.T) {
	c := qt.New(t)

	var pp ProposalParams
	c.Assert(json.Unmarshal([]byte(`{"title":"t","mode":1,"countingMode":"simple","options":["a","b"],"duration":60}`), &pp), qt.IsNil)
	c.Assert(pp.OptionsMode, qt.Equals, OptionsModeMultiple)
	c.Assert(pp.CountingMode, qt.Equals, CountingSimple)
	c.Assert(pp.Duration, qt.Equals, uint64(60))

	c.Assert(json.Unmarshal([]byte(`{"mode":"yesno","countingMode":"weighted"}`), &pp), qt.IsNil)
	c.Assert(pp.OptionsMode, qt.Equals, OptionsModeYesNo)
	c.Assert(pp.CountingMode, qt.Equals, CountingWeighted)

	c.Assert(json.Unmarshal([]byte(`{"mode":"ranked"}`), &pp), qt.ErrorMatches, `invalid options mode "ranked"`)
	c.Assert(json.Unmarshal([]byte(`{"countingMode":9}`), &pp), qt.ErrorMatches, `invalid counting mode "9"`)

	data, err := json.Marshal(&Proposal{ID: 1, OptionsMode: OptionsModeYesNo, CountingMode: CountingQuadratic})
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Contains, `"mode":"yesno"`)
	c.Assert(string(data), qt.Contains, `"countingMode":"quadratic"`)
}

func TestProposalIsOpen(t *testing.T) {
	c := qt.New(t)
	opens := time.Unix(1_700_000_000, 0)
	p := &Proposal{OpensAt: opens, ClosesAt: opens.Add(120 * time.Second)}

	c.Assert(p.IsOpen(opens.Add(-time.Nanosecond)), qt.IsFalse)
	c.Assert(p.IsOpen(opens), qt.IsTrue)
	c.Assert(p.IsOpen(opens.Add(119*time.Second)), qt.IsTrue)
	c.Assert(p.IsOpen(opens.Add(120*time.Second)), qt.IsFalse)
}

func TestProposalClone(t *testing.T) {
	c := qt.New(t)
	p := &Proposal{ID: 3, Title: "t", Options: []string{"a", "b"}}
	cp := p.Clone()
	c.Assert(cp, qt.DeepEquals, p)
	cp.Options[0] = "z"
	cp.Title = "other"
	c.Assert(p.Options, qt.DeepEquals, []string{"a", "b"})
	c.Assert(p.Title, qt.Equals, "t")

	var nilProposal *Proposal
	c.Assert(nilProposal.Clone(), qt.IsNil)
}

func TestMetadataCID(t *testing.T) {
	c := qt.New(t)

	c1, err := MetadataCID("title", "desc", []string{"Yes", "No"})
	c.Assert(err, qt.IsNil)
	c2, err := MetadataCID("title", "desc", []string{"Yes", "No"})
	c.Assert(err, qt.IsNil)
	c.Assert(c1.Equals(c2), qt.IsTrue)
	c.Assert(c1.Version(), qt.Equals, uint64(1))

	c3, err := MetadataCID("title", "desc", []string{"No", "Yes"})
	c.Assert(err, qt.IsNil)
	c.Assert(c1.Equals(c3), qt.IsFalse)

	pp := &ProposalParams{Title: "title", Description: "desc", Duration: 60}
	msg, err := pp.SignaturePayload(3, YesNoOptions)
	c.Assert(err, qt.IsNil)
	c.Assert(string(msg), qt.Contains, "proposal 3 with metadata "+c1.String())
	c.Assert(string(msg), qt.Contains, "duration 60")
}
