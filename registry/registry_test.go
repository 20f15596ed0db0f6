package registry

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/signatures/ethereum"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
)

func newTestRegistry(c *qt.C, st *storage.Storage, historySize int) (*Registry, *ethereum.Signer) {
	admin, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	r, err := New(st, Config{TreeDepth: 4, HistorySize: historySize, Admin: admin.Address()})
	c.Assert(err, qt.IsNil)
	return r, admin
}

func rotate(c *qt.C, r *Registry, admin *ethereum.Signer, root *types.BigInt) {
	sig, err := admin.Sign(RotateRootMessage(root, r.Nonce()))
	c.Assert(err, qt.IsNil)
	c.Assert(r.RotateRoot(root, sig), qt.IsNil)
}

func addMembers(c *qt.C, r *Registry, admin *ethereum.Signer, commitments ...*types.BigInt) error {
	sig, err := admin.Sign(AddMembersMessage(commitments, r.Nonce()))
	c.Assert(err, qt.IsNil)
	return r.AddMembers(commitments, sig)
}

func TestInitialRoot(t *testing.T) {
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t))
	r, _ := newTestRegistry(c, st, 0)

	empty, err := census.New(4)
	c.Assert(err, qt.IsNil)
	c.Assert(r.CurrentRoot().MathBigInt().Cmp(empty.Root()), qt.Equals, 0)
	c.Assert(r.Nonce(), qt.Equals, uint64(0))
	c.Assert(r.IsAcceptedRoot(r.CurrentRoot()), qt.IsTrue)
	c.Assert(r.IsAcceptedRoot(types.NewInt(1)), qt.IsFalse)
	c.Assert(r.IsAcceptedRoot(nil), qt.IsFalse)

	_, err = New(st, Config{TreeDepth: 4, HistorySize: -1})
	c.Assert(err, qt.ErrorIs, ErrInvalidHistory)
}

func TestRotateRoot(t *testing.T) {
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t))
	r, admin := newTestRegistry(c, st, 0)

	r1 := types.NewInt(100)
	rotate(c, r, admin, r1)
	c.Assert(r.CurrentRoot().Equal(r1), qt.IsTrue)
	c.Assert(r.Nonce(), qt.Equals, uint64(1))

	// hard reject of superseded roots by default
	r2 := types.NewInt(200)
	rotate(c, r, admin, r2)
	c.Assert(r.IsAcceptedRoot(r2), qt.IsTrue)
	c.Assert(r.IsAcceptedRoot(r1), qt.IsFalse)

	// a signature cannot be replayed once the nonce moved
	sig, err := admin.Sign(RotateRootMessage(r1, 1))
	c.Assert(err, qt.IsNil)
	c.Assert(r.RotateRoot(r1, sig), qt.ErrorIs, ErrUnauthorized)

	other, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	sig, err = other.Sign(RotateRootMessage(r1, r.Nonce()))
	c.Assert(err, qt.IsNil)
	c.Assert(r.RotateRoot(r1, sig), qt.ErrorIs, ErrUnauthorized)
	c.Assert(r.RotateRoot(r1, nil), qt.ErrorIs, ErrUnauthorized)

	c.Assert(r.RotateRoot(nil, sig), qt.ErrorIs, ErrInvalidRoot)
	huge := new(types.BigInt).SetBigInt(fieldModulus)
	c.Assert(r.RotateRoot(huge, sig), qt.ErrorIs, ErrInvalidRoot)
	c.Assert(r.CurrentRoot().Equal(r2), qt.IsTrue)
}

func TestRotationHistory(t *testing.T) {
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t))
	r, admin := newTestRegistry(c, st, 1)

	r1, r2, r3 := types.NewInt(1), types.NewInt(2), types.NewInt(3)
	rotate(c, r, admin, r1)
	rotate(c, r, admin, r2)
	c.Assert(r.IsAcceptedRoot(r2), qt.IsTrue)
	c.Assert(r.IsAcceptedRoot(r1), qt.IsTrue)

	rotate(c, r, admin, r3)
	c.Assert(r.IsAcceptedRoot(r3), qt.IsTrue)
	c.Assert(r.IsAcceptedRoot(r2), qt.IsTrue)
	c.Assert(r.IsAcceptedRoot(r1), qt.IsFalse)
	c.Assert(r.History(), qt.HasLen, 1)

	// the history survives a restart and is trimmed to the new size
	reloaded, err := New(st, Config{TreeDepth: 4, HistorySize: 1, Admin: admin.Address()})
	c.Assert(err, qt.IsNil)
	c.Assert(reloaded.IsAcceptedRoot(r2), qt.IsTrue)
	c.Assert(reloaded.Nonce(), qt.Equals, uint64(3))
	strict, err := New(st, Config{TreeDepth: 4, HistorySize: 0, Admin: admin.Address()})
	c.Assert(err, qt.IsNil)
	c.Assert(strict.IsAcceptedRoot(r2), qt.IsFalse)
	c.Assert(strict.IsAcceptedRoot(r3), qt.IsTrue)
}

func TestAddMembers(t *testing.T) {
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t))
	r, admin := newTestRegistry(c, st, 0)

	id, err := census.NewIdentity()
	c.Assert(err, qt.IsNil)
	commitment, err := id.Commitment()
	c.Assert(err, qt.IsNil)
	member := new(types.BigInt).SetBigInt(commitment)

	c.Assert(addMembers(c, r, admin, member, types.NewInt(5)), qt.IsNil)
	c.Assert(r.Nonce(), qt.Equals, uint64(1))
	c.Assert(r.CurrentRoot().Equal(r.TreeRoot()), qt.IsTrue)
	members := r.Members()
	c.Assert(members, qt.HasLen, 2)
	c.Assert(members[0].Equal(member), qt.IsTrue)

	proof, err := r.MemberProof(member)
	c.Assert(err, qt.IsNil)
	c.Assert(proof.Verify(r.CurrentRoot().MathBigInt()), qt.IsTrue)
	_, err = r.MemberProof(types.NewInt(6))
	c.Assert(err, qt.ErrorIs, ErrMemberNotFound)

	// duplicates are rejected and nothing changes
	root := r.CurrentRoot()
	c.Assert(addMembers(c, r, admin, types.NewInt(7), member), qt.ErrorIs, ErrDuplicateMember)
	c.Assert(addMembers(c, r, admin, types.NewInt(8), types.NewInt(8)), qt.ErrorIs, ErrDuplicateMember)
	c.Assert(r.CurrentRoot().Equal(root), qt.IsTrue)
	c.Assert(r.Members(), qt.HasLen, 2)
	c.Assert(addMembers(c, r, admin), qt.ErrorIs, ErrNoMembers)

	// the tree does not accept more than 2^depth members
	many := make([]*types.BigInt, 15)
	for i := range many {
		many[i] = types.NewInt(uint64(1000 + i))
	}
	c.Assert(addMembers(c, r, admin, many...), qt.ErrorIs, census.ErrTreeFull)

	// the census tree is rebuilt from storage
	reloaded, err := New(st, Config{TreeDepth: 4, Admin: admin.Address()})
	c.Assert(err, qt.IsNil)
	c.Assert(reloaded.TreeRoot().Equal(r.TreeRoot()), qt.IsTrue)
	c.Assert(reloaded.CurrentRoot().Equal(r.CurrentRoot()), qt.IsTrue)
	c.Assert(reloaded.Members(), qt.HasLen, 2)
}

func TestNoAdmin(t *testing.T) {
	c := qt.New(t)
	st := storage.New(metadb.NewTest(t))
	r, err := New(st, Config{TreeDepth: 4})
	c.Assert(err, qt.IsNil)
	signer, err := ethereum.NewSigner()
	c.Assert(err, qt.IsNil)
	sig, err := signer.Sign(RotateRootMessage(types.NewInt(1), 0))
	c.Assert(err, qt.IsNil)
	c.Assert(r.RotateRoot(types.NewInt(1), sig), qt.ErrorIs, ErrUnauthorized)
}
