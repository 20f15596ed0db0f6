package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/holiman/uint256"

	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/db/prefixeddb"
	"github.com/vocdoni/anonvote-node/types"
)

func newTestStorage(t *testing.T) *Storage {
	return New(metadb.NewTest(t))
}

func testProposal(options ...string) ProposalBuilder {
	return func(id uint64) (*types.Proposal, error) {
		opens := time.Unix(1_700_000_000, 0)
		return &types.Proposal{
			ID:          id,
			Title:       "test proposal",
			OptionsMode: types.OptionsModeMultiple,
			Options:     options,
			OpensAt:     opens,
			ClosesAt:    opens.Add(2 * time.Minute),
		}, nil
	}
}

func TestProposals(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)

	count, err := st.ProposalCount()
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(0))

	_, err = st.Proposal(1)
	c.Assert(err, qt.ErrorIs, ErrProposalNotFound)

	for i := uint64(1); i <= 3; i++ {
		p, err := st.NewProposal(testProposal("a", "b", "c"))
		c.Assert(err, qt.IsNil)
		c.Assert(p.ID, qt.Equals, i)
	}
	count, err = st.ProposalCount()
	c.Assert(err, qt.IsNil)
	c.Assert(count, qt.Equals, uint64(3))

	// a failing builder does not consume the id
	_, err = st.NewProposal(func(uint64) (*types.Proposal, error) {
		return nil, errors.New("rejected")
	})
	c.Assert(err, qt.ErrorMatches, "rejected")
	p, err := st.NewProposal(testProposal("x", "y"))
	c.Assert(err, qt.IsNil)
	c.Assert(p.ID, qt.Equals, uint64(4))

	// the builder must respect the allocated id
	_, err = st.NewProposal(func(uint64) (*types.Proposal, error) {
		return &types.Proposal{ID: 99}, nil
	})
	c.Assert(err, qt.ErrorMatches, "built proposal has id 99, expected 5")

	// read through a fresh storage to bypass the cache
	fresh := New(st.DB())
	got, err := fresh.Proposal(4)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Options, qt.DeepEquals, []string{"x", "y"})
	c.Assert(got.Title, qt.Equals, "test proposal")
	c.Assert(got.ClosesAt.Equal(p.ClosesAt), qt.IsTrue)

	list, err := fresh.Proposals(2, 4)
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
	c.Assert(list[0].ID, qt.Equals, uint64(2))
	c.Assert(list[1].ID, qt.Equals, uint64(3))

	list, err = fresh.Proposals(0, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 4)

	// callers cannot alter the cached proposal
	for _, store := range []*Storage{st, fresh} {
		got, err := store.Proposal(4)
		c.Assert(err, qt.IsNil)
		got.Title = "changed"
		got.Options[0] = "changed"
		again, err := store.Proposal(4)
		c.Assert(err, qt.IsNil)
		c.Assert(again.Title, qt.Equals, "test proposal")
		c.Assert(again.Options, qt.DeepEquals, []string{"x", "y"})
	}
	p.Options[1] = "changed"
	got, err = st.Proposal(4)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Options, qt.DeepEquals, []string{"x", "y"})

	open, err := fresh.IsProposalOpen(1, p.OpensAt)
	c.Assert(err, qt.IsNil)
	c.Assert(open, qt.IsTrue)
	open, err = fresh.IsProposalOpen(1, p.ClosesAt)
	c.Assert(err, qt.IsNil)
	c.Assert(open, qt.IsFalse)
}

func TestNullifiers(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)
	nullifier := types.NewInt(12345)

	consumed, err := st.IsNullifierConsumed(1, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(consumed, qt.IsFalse)

	c.Assert(st.ConsumeNullifier(1, nullifier), qt.IsNil)
	c.Assert(st.ConsumeNullifier(1, nullifier), qt.ErrorIs, ErrNullifierAlreadyUsed)

	consumed, err = st.IsNullifierConsumed(1, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(consumed, qt.IsTrue)

	// nullifiers are scoped by proposal
	consumed, err = st.IsNullifierConsumed(2, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(consumed, qt.IsFalse)
	c.Assert(st.ConsumeNullifier(2, nullifier), qt.IsNil)

	c.Assert(st.ConsumeNullifier(1, types.NewInt(1)), qt.IsNil)
	n, err := st.CountNullifiers(1)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, uint64(2))
}

func TestTallies(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)
	p, err := st.NewProposal(testProposal("a", "b", "c"))
	c.Assert(err, qt.IsNil)

	counts, err := st.Tallies(p.ID, 0, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(counts, qt.HasLen, 3)
	for _, cnt := range counts {
		c.Assert(cnt.IsZero(), qt.IsTrue)
	}

	c.Assert(st.IncrementTally(p.ID, 0), qt.IsNil)
	c.Assert(st.IncrementTally(p.ID, 2), qt.IsNil)
	c.Assert(st.IncrementTally(p.ID, 2), qt.IsNil)
	c.Assert(st.IncrementTally(p.ID, 3), qt.ErrorIs, ErrOptionIndexOutOfRange)
	c.Assert(st.IncrementTally(p.ID+1, 0), qt.ErrorIs, ErrProposalNotFound)

	counts, err = st.Tallies(p.ID, 0, 3)
	c.Assert(err, qt.IsNil)
	c.Assert(counts[0].Uint64(), qt.Equals, uint64(1))
	c.Assert(counts[1].Uint64(), qt.Equals, uint64(0))
	c.Assert(counts[2].Uint64(), qt.Equals, uint64(2))

	// ranges are clamped to the options
	counts, err = st.Tallies(p.ID, 1, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(counts, qt.HasLen, 2)
	counts, err = st.Tallies(p.ID, 50, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(counts, qt.HasLen, 0)
	_, err = st.Tallies(p.ID, 2, 1)
	c.Assert(err, qt.ErrorIs, ErrOptionIndexOutOfRange)
}

func TestTallySaturates(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)
	p, err := st.NewProposal(testProposal("a", "b"))
	c.Assert(err, qt.IsNil)

	wtx := st.DB().WriteTx()
	maxCount := new(uint256.Int).SetAllOne()
	c.Assert(writeTallies(prefixeddb.NewPrefixedWriteTx(wtx, tallyPrefix), p.ID,
		[]*uint256.Int{maxCount.Clone(), new(uint256.Int)}), qt.IsNil)
	c.Assert(wtx.Commit(), qt.IsNil)
	wtx.Discard()

	c.Assert(st.IncrementTally(p.ID, 0), qt.IsNil)
	counts, err := st.Tallies(p.ID, 0, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(counts[0].Eq(maxCount), qt.IsTrue)
	c.Assert(counts[1].IsZero(), qt.IsTrue)
}

func TestTxAtomicity(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)
	p, err := st.NewProposal(testProposal("a", "b"))
	c.Assert(err, qt.IsNil)
	nullifier := types.NewInt(7)

	// a failed increment after consuming leaves nothing behind
	tx := st.NewTx()
	c.Assert(tx.ConsumeNullifier(p.ID, nullifier), qt.IsNil)
	c.Assert(tx.IncrementTally(p, 5), qt.ErrorIs, ErrOptionIndexOutOfRange)
	tx.Discard()

	consumed, err := st.IsNullifierConsumed(p.ID, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(consumed, qt.IsFalse)

	tx = st.NewTx()
	c.Assert(tx.ConsumeNullifier(p.ID, nullifier), qt.IsNil)
	c.Assert(tx.IncrementTally(p, 1), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)
	tx.Discard()

	consumed, err = st.IsNullifierConsumed(p.ID, nullifier)
	c.Assert(err, qt.IsNil)
	c.Assert(consumed, qt.IsTrue)
	counts, err := st.Tallies(p.ID, 0, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(counts[1].Uint64(), qt.Equals, uint64(1))
}

func TestConcurrentConsume(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)
	p, err := st.NewProposal(testProposal("a", "b"))
	c.Assert(err, qt.IsNil)
	nullifier := types.NewInt(42)

	// transactions that read the nullifier before any of them commits: only
	// one of them may succeed
	txs := make([]*Tx, 8)
	for i := range txs {
		txs[i] = st.NewTx()
		c.Assert(txs[i].ConsumeNullifier(p.ID, nullifier), qt.IsNil)
		c.Assert(txs[i].IncrementTally(p, 0), qt.IsNil)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, tx := range txs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer tx.Discard()
			if err := tx.Commit(); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	c.Assert(succeeded, qt.Equals, 1)

	counts, err := st.Tallies(p.ID, 0, 2)
	c.Assert(err, qt.IsNil)
	c.Assert(counts[0].Uint64(), qt.Equals, uint64(1))
}

func TestRegistryState(t *testing.T) {
	c := qt.New(t)
	st := newTestStorage(t)

	_, err := st.RootSlot()
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	slot := (&RootSlot{}).Rotate(types.NewInt(10), 2)
	c.Assert(slot.Nonce, qt.Equals, uint64(1))
	c.Assert(slot.History, qt.HasLen, 0)

	commitments := []*types.BigInt{types.NewInt(1), types.NewInt(2)}
	c.Assert(st.AddMembers(0, commitments, slot), qt.IsNil)

	got, err := st.RootSlot()
	c.Assert(err, qt.IsNil)
	c.Assert(got.Root.Equal(types.NewInt(10)), qt.IsTrue)
	c.Assert(got.Nonce, qt.Equals, uint64(1))

	// a duplicate rolls back the whole batch, including the root slot
	next := got.Rotate(types.NewInt(11), 2)
	err = st.AddMembers(2, []*types.BigInt{types.NewInt(3), types.NewInt(1)}, next)
	c.Assert(err, qt.ErrorIs, ErrMemberExists)
	err = st.AddMembers(2, []*types.BigInt{types.NewInt(4), types.NewInt(4)}, next)
	c.Assert(err, qt.ErrorIs, ErrMemberExists)
	got, err = st.RootSlot()
	c.Assert(err, qt.IsNil)
	c.Assert(got.Nonce, qt.Equals, uint64(1))

	c.Assert(st.AddMembers(2, []*types.BigInt{types.NewInt(3)}, next), qt.IsNil)
	members, err := st.Members()
	c.Assert(err, qt.IsNil)
	c.Assert(members, qt.HasLen, 3)
	for i, m := range members {
		c.Assert(m.Equal(types.NewInt(uint64(i+1))), qt.IsTrue)
	}
	idx, err := st.MemberIndex(types.NewInt(3))
	c.Assert(err, qt.IsNil)
	c.Assert(idx, qt.Equals, uint64(2))
	_, err = st.MemberIndex(types.NewInt(5))
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	// history keeps the newest superseded roots
	rotated := next.Rotate(types.NewInt(12), 2).Rotate(types.NewInt(13), 2)
	c.Assert(st.SetRootSlot(rotated), qt.IsNil)
	got, err = st.RootSlot()
	c.Assert(err, qt.IsNil)
	c.Assert(got.Nonce, qt.Equals, uint64(4))
	c.Assert(got.Root.Equal(types.NewInt(13)), qt.IsTrue)
	c.Assert(got.History, qt.HasLen, 2)
	c.Assert(got.History[0].Equal(types.NewInt(12)), qt.IsTrue)
	c.Assert(got.History[1].Equal(types.NewInt(11)), qt.IsTrue)

	c.Assert(got.Rotate(types.NewInt(14), 0).History, qt.HasLen, 0)
}

func TestEncodeRecord(t *testing.T) {
	c := qt.New(t)
	slot := &RootSlot{Root: types.NewInt(5), Nonce: 3}
	a, err := EncodeRecord(slot)
	c.Assert(err, qt.IsNil)
	b, err := EncodeRecord(&RootSlot{Root: types.NewInt(5), Nonce: 3})
	c.Assert(err, qt.IsNil)
	c.Assert(a, qt.DeepEquals, b)

	type other struct {
		Unknown string `cbor:"9,keyasint"`
	}
	data, err := EncodeRecord(&other{Unknown: "x"})
	c.Assert(err, qt.IsNil)
	c.Assert(DecodeRecord(data, &RootSlot{}), qt.IsNotNil)
}
