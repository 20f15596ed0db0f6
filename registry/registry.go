// Package registry keeps the membership root that votes are checked against.
// The root is either the root of the in-process census tree, updated when
// members are added, or any root set by the administrator through a signed
// rotation. Superseded roots can stay accepted for a bounded number of
// rotations.
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/signatures/ethereum"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
)

const (
	// RotateRootPrefix prefixes the message signed to rotate the root.
	RotateRootPrefix = "rotate-root:"
	// AddMembersPrefix prefixes the message signed to add members.
	AddMembersPrefix = "add-members:"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrDuplicateMember = errors.New("duplicate member")
	ErrInvalidRoot     = errors.New("invalid membership root")
	ErrMemberNotFound  = errors.New("member not found")
	ErrNoMembers       = errors.New("no members to add")
	ErrInvalidHistory  = errors.New("invalid root history size")

	fieldModulus = fr.Modulus()
)

// Config holds the registry parameters.
type Config struct {
	// TreeDepth is the depth of the census tree. It must match the depth of
	// the circuit the verifying key was generated for.
	TreeDepth int
	// HistorySize is the number of superseded roots still accepted. Zero
	// rejects every root but the current one.
	HistorySize int
	// Admin is the address allowed to rotate the root and add members. The
	// zero address disables both operations.
	Admin common.Address
}

// Registry is the commitment registry. It is safe for concurrent use.
type Registry struct {
	cfg     Config
	storage *storage.Storage

	mu   sync.RWMutex
	tree *census.Tree
	slot *storage.RootSlot
}

// New loads the registry state from st, rebuilding the census tree from the
// stored members. A fresh database is initialized with the empty tree root.
func New(st *storage.Storage, cfg Config) (*Registry, error) {
	if cfg.TreeDepth == 0 {
		cfg.TreeDepth = census.DefaultDepth
	}
	if cfg.HistorySize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHistory, cfg.HistorySize)
	}
	tree, err := census.New(cfg.TreeDepth)
	if err != nil {
		return nil, err
	}
	members, err := st.Members()
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	leaves := make([]*big.Int, len(members))
	for i, m := range members {
		leaves[i] = m.MathBigInt()
	}
	if err := tree.AddBatch(leaves); err != nil {
		return nil, fmt.Errorf("failed to rebuild census tree: %w", err)
	}

	slot, err := st.RootSlot()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		slot = &storage.RootSlot{Root: new(types.BigInt).SetBigInt(tree.Root())}
		if err := st.SetRootSlot(slot); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load root slot: %w", err)
	}
	// the history size may have been reduced since the slot was stored
	if len(slot.History) > cfg.HistorySize {
		slot.History = slot.History[:cfg.HistorySize]
	}
	log.Infow("membership registry loaded",
		"root", slot.Root.String(),
		"members", tree.Size(),
		"depth", cfg.TreeDepth,
		"historySize", cfg.HistorySize,
		"nonce", slot.Nonce)
	return &Registry{
		cfg:     cfg,
		storage: st,
		tree:    tree,
		slot:    slot,
	}, nil
}

// CurrentRoot returns the membership root votes must be proven against.
func (r *Registry) CurrentRoot() *types.BigInt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(types.BigInt).SetBigInt(r.slot.Root.MathBigInt())
}

// Nonce returns the rotation counter that the next administrative
// authorization must sign.
func (r *Registry) Nonce() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slot.Nonce
}

// History returns the superseded roots that are still accepted, newest
// first.
func (r *Registry) History() []*types.BigInt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.BigInt, len(r.slot.History))
	for i, h := range r.slot.History {
		out[i] = new(types.BigInt).SetBigInt(h.MathBigInt())
	}
	return out
}

// HistorySize returns the configured number of accepted superseded roots.
func (r *Registry) HistorySize() int {
	return r.cfg.HistorySize
}

// TreeDepth returns the depth of the census tree.
func (r *Registry) TreeDepth() int {
	return r.cfg.TreeDepth
}

// IsAcceptedRoot reports whether a vote proven against root is accepted.
func (r *Registry) IsAcceptedRoot(root *types.BigInt) bool {
	if root == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.slot.Root.Equal(root) {
		return true
	}
	for _, h := range r.slot.History {
		if h.Equal(root) {
			return true
		}
	}
	return false
}

// RotateRootMessage returns the message the administrator signs to rotate
// the root at the given nonce.
func RotateRootMessage(root *types.BigInt, nonce uint64) []byte {
	rootBytes := root.Bytes32()
	msg := append([]byte(RotateRootPrefix), rootBytes[:]...)
	return binary.BigEndian.AppendUint64(msg, nonce)
}

// AddMembersMessage returns the message the administrator signs to add the
// commitments at the given nonce.
func AddMembersMessage(commitments []*types.BigInt, nonce uint64) []byte {
	msg := binary.BigEndian.AppendUint64([]byte(AddMembersPrefix), nonce)
	for _, c := range commitments {
		b := c.Bytes32()
		msg = append(msg, b[:]...)
	}
	return msg
}

func (r *Registry) authorize(msg []byte, signature *ethereum.ECDSASignature) error {
	if r.cfg.Admin == (common.Address{}) {
		return fmt.Errorf("%w: no registry administrator configured", ErrUnauthorized)
	}
	if ok, _ := signature.Verify(msg, r.cfg.Admin); !ok {
		return fmt.Errorf("%w: signature does not match the administrator", ErrUnauthorized)
	}
	return nil
}

// RotateRoot replaces the current root with root. The signature must be the
// administrator's over RotateRootMessage(root, Nonce()).
func (r *Registry) RotateRoot(root *types.BigInt, signature *ethereum.ECDSASignature) error {
	if root == nil || !root.IsInField(fieldModulus) {
		return ErrInvalidRoot
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(RotateRootMessage(root, r.slot.Nonce), signature); err != nil {
		return err
	}
	next := r.slot.Rotate(root, r.cfg.HistorySize)
	if err := r.storage.SetRootSlot(next); err != nil {
		return err
	}
	r.slot = next
	log.Infow("membership root rotated", "root", root.String(), "nonce", next.Nonce)
	return nil
}

// AddMembers appends the commitments to the census tree and rotates the root
// to the new tree root. The signature must be the administrator's over
// AddMembersMessage(commitments, Nonce()). Either every commitment is added
// or none is.
func (r *Registry) AddMembers(commitments []*types.BigInt, signature *ethereum.ECDSASignature) error {
	if len(commitments) == 0 {
		return ErrNoMembers
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.authorize(AddMembersMessage(commitments, r.slot.Nonce), signature); err != nil {
		return err
	}
	leaves := make([]*big.Int, len(commitments))
	for i, c := range commitments {
		if c == nil {
			return fmt.Errorf("%w: commitment %d is empty", census.ErrInvalidLeaf, i)
		}
		if _, ok := r.tree.IndexOf(c.MathBigInt()); ok {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, c)
		}
		leaves[i] = c.MathBigInt()
	}
	revert, err := r.tree.Append(leaves)
	if err != nil {
		if errors.Is(err, census.ErrTreeFull) || errors.Is(err, census.ErrInvalidLeaf) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDuplicateMember, err)
	}
	start := r.tree.Size() - uint64(len(leaves))
	slot := r.slot.Rotate(new(types.BigInt).SetBigInt(r.tree.Root()), r.cfg.HistorySize)
	if err := r.storage.AddMembers(start, commitments, slot); err != nil {
		revert()
		if errors.Is(err, storage.ErrMemberExists) {
			return fmt.Errorf("%w: %v", ErrDuplicateMember, err)
		}
		return err
	}
	r.slot = slot
	log.Infow("members added", "count", len(commitments), "members", r.tree.Size(),
		"root", slot.Root.String(), "nonce", slot.Nonce)
	return nil
}

// Members returns the registered commitments in insertion order.
func (r *Registry) Members() []*types.BigInt {
	r.mu.RLock()
	leaves := r.tree.Leaves()
	r.mu.RUnlock()
	out := make([]*types.BigInt, len(leaves))
	for i, l := range leaves {
		out[i] = new(types.BigInt).SetBigInt(l)
	}
	return out
}

// MemberProof returns the Merkle path of the commitment to the census tree
// root. The path only proves against CurrentRoot while the root was not
// rotated to an external value.
func (r *Registry) MemberProof(commitment *types.BigInt) (*census.MerkleProof, error) {
	if commitment == nil {
		return nil, ErrMemberNotFound
	}
	r.mu.RLock()
	proof, err := r.tree.ProofOf(commitment.MathBigInt())
	r.mu.RUnlock()
	if err != nil {
		if errors.Is(err, census.ErrLeafNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, commitment)
		}
		return nil, err
	}
	return proof, nil
}

// TreeRoot returns the root of the census tree, which differs from
// CurrentRoot after an administrative rotation to an external root.
func (r *Registry) TreeRoot() *types.BigInt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return new(types.BigInt).SetBigInt(r.tree.Root())
}
