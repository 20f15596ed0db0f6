// Package census maintains the membership tree of identity commitments: a
// binary Poseidon Merkle tree of fixed depth where leaves are filled left to
// right and empty leaves are zero.
package census

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/iden3/go-iden3-crypto/poseidon"
)

const (
	// DefaultDepth is the depth of the membership tree unless configured.
	DefaultDepth = 20
	// MaxDepth bounds the tree depth so indexes fit in a uint64 and the
	// circuit stays of a reasonable size.
	MaxDepth = 32
)

var (
	// ErrTreeFull is returned when every leaf of the tree is used.
	ErrTreeFull = errors.New("membership tree is full")
	// ErrLeafNotFound is returned when asking a proof for an unknown leaf.
	ErrLeafNotFound = errors.New("leaf not found")
	// ErrInvalidLeaf is returned for leaves outside the BN254 scalar field.
	ErrInvalidLeaf = errors.New("leaf is not a valid field element")
)

// Tree is an incremental membership tree. It is safe for concurrent use.
type Tree struct {
	mu    sync.RWMutex
	depth int
	// zeros[i] is the root of an empty subtree of height i.
	zeros []*big.Int
	// nodes[0] holds the leaves, nodes[depth] the root. Only non-empty
	// subtrees are stored.
	nodes []map[uint64]*big.Int
	index map[string]uint64
	size  uint64
}

// Hash returns the Poseidon hash of two field elements, the node hash of
// the tree.
func Hash(left, right *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{left, right})
}

// New returns an empty tree of the given depth.
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("invalid tree depth %d, must be in [1, %d]", depth, MaxDepth)
	}
	zeros := make([]*big.Int, depth+1)
	zeros[0] = big.NewInt(0)
	for i := 1; i <= depth; i++ {
		z, err := Hash(zeros[i-1], zeros[i-1])
		if err != nil {
			return nil, fmt.Errorf("could not hash empty subtree: %w", err)
		}
		zeros[i] = z
	}
	nodes := make([]map[uint64]*big.Int, depth+1)
	for i := range nodes {
		nodes[i] = make(map[uint64]*big.Int)
	}
	return &Tree{
		depth: depth,
		zeros: zeros,
		nodes: nodes,
		index: make(map[string]uint64),
	}, nil
}

// Depth returns the tree depth.
func (t *Tree) Depth() int {
	return t.depth
}

// Size returns the number of leaves added.
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Capacity returns the number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 {
	if t.depth >= 64 {
		return ^uint64(0)
	}
	return uint64(1) << t.depth
}

// Root returns the current root.
func (t *Tree) Root() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.node(t.depth, 0))
}

func (t *Tree) node(level int, i uint64) *big.Int {
	if n, ok := t.nodes[level][i]; ok {
		return n
	}
	return t.zeros[level]
}

// journal records what a batch changed so it can be reverted.
type journal struct {
	size uint64
	// nodes[level][i] is the node value before the batch, nil if it was
	// empty.
	nodes []map[uint64]*big.Int
	index []string
}

func (j *journal) saveNode(t *Tree, level int, i uint64) {
	if j == nil {
		return
	}
	if _, ok := j.nodes[level][i]; ok {
		return
	}
	j.nodes[level][i] = t.nodes[level][i]
}

// revert must be called with t.mu held.
func (t *Tree) revert(j *journal) {
	for level, saved := range j.nodes {
		for i, n := range saved {
			if n == nil {
				delete(t.nodes[level], i)
				continue
			}
			t.nodes[level][i] = n
		}
	}
	for _, key := range j.index {
		delete(t.index, key)
	}
	t.size = j.size
}

// Add appends leaf at the next free index and returns that index.
func (t *Tree) Add(leaf *big.Int) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.add(leaf, nil)
}

// AddBatch appends all leaves or none of them.
func (t *Tree) AddBatch(leaves []*big.Int) error {
	_, err := t.Append(leaves)
	return err
}

// Append adds all leaves or none of them, like AddBatch, and returns a
// function that removes them again. The cost of the addition and of the
// revert is proportional to len(leaves) times the depth, not to the tree
// size. Revert must be called before any other leaf is added.
func (t *Tree) Append(leaves []*big.Int) (revert func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.size+uint64(len(leaves)) > t.Capacity() {
		return nil, ErrTreeFull
	}
	seen := make(map[string]struct{}, len(leaves))
	for _, leaf := range leaves {
		if err := validLeaf(leaf); err != nil {
			return nil, err
		}
		key := leaf.String()
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("duplicated leaf %s", key)
		}
		seen[key] = struct{}{}
	}
	j := &journal{size: t.size, nodes: make([]map[uint64]*big.Int, t.depth+1)}
	for i := range j.nodes {
		j.nodes[i] = make(map[uint64]*big.Int)
	}
	for _, leaf := range leaves {
		if _, err := t.add(leaf, j); err != nil {
			t.revert(j)
			return nil, err
		}
	}
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.revert(j)
	}, nil
}

func validLeaf(leaf *big.Int) error {
	if leaf == nil || leaf.Sign() < 0 || leaf.Cmp(fr.Modulus()) >= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidLeaf, leaf)
	}
	return nil
}

func (t *Tree) add(leaf *big.Int, j *journal) (uint64, error) {
	if err := validLeaf(leaf); err != nil {
		return 0, err
	}
	if t.size >= t.Capacity() {
		return 0, ErrTreeFull
	}
	idx := t.size
	j.saveNode(t, 0, idx)
	t.nodes[0][idx] = new(big.Int).Set(leaf)
	pos := idx
	for level := 1; level <= t.depth; level++ {
		parent := pos / 2
		h, err := Hash(t.node(level-1, parent*2), t.node(level-1, parent*2+1))
		if err != nil {
			// Leaves are validated and nodes are hash outputs, so this
			// can only be a programming error.
			return 0, fmt.Errorf("could not hash level %d: %w", level, err)
		}
		j.saveNode(t, level, parent)
		t.nodes[level][parent] = h
		pos = parent
	}
	// the index map keeps the first position of a repeated leaf
	if _, ok := t.index[leaf.String()]; !ok {
		t.index[leaf.String()] = idx
		if j != nil {
			j.index = append(j.index, leaf.String())
		}
	}
	t.size++
	return idx, nil
}

// IndexOf returns the position of leaf in the tree.
func (t *Tree) IndexOf(leaf *big.Int) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[leaf.String()]
	return idx, ok
}

// Leaves returns a copy of the leaves in insertion order.
func (t *Tree) Leaves() []*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*big.Int, t.size)
	for i := range out {
		out[i] = new(big.Int).Set(t.nodes[0][uint64(i)])
	}
	return out
}

// MerkleProof is the path from a leaf to the root. PathIndices[i] is 1 when
// the node at level i is a right child.
type MerkleProof struct {
	Leaf        *big.Int
	Index       uint64
	Root        *big.Int
	Siblings    []*big.Int
	PathIndices []uint8
}

// Proof returns the Merkle proof of the leaf at index.
func (t *Tree) Proof(index uint64) (*MerkleProof, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= t.size {
		return nil, fmt.Errorf("%w: index %d", ErrLeafNotFound, index)
	}
	p := &MerkleProof{
		Leaf:        new(big.Int).Set(t.nodes[0][index]),
		Index:       index,
		Root:        new(big.Int).Set(t.node(t.depth, 0)),
		Siblings:    make([]*big.Int, t.depth),
		PathIndices: make([]uint8, t.depth),
	}
	pos := index
	for level := range t.depth {
		p.PathIndices[level] = uint8(pos & 1)
		p.Siblings[level] = new(big.Int).Set(t.node(level, pos^1))
		pos /= 2
	}
	return p, nil
}

// ProofOf returns the Merkle proof of leaf.
func (t *Tree) ProofOf(leaf *big.Int) (*MerkleProof, error) {
	idx, ok := t.IndexOf(leaf)
	if !ok {
		return nil, ErrLeafNotFound
	}
	return t.Proof(idx)
}

// ComputeRoot folds the proof path from the leaf up to the root.
func (p *MerkleProof) ComputeRoot() (*big.Int, error) {
	if len(p.Siblings) != len(p.PathIndices) {
		return nil, fmt.Errorf("siblings and path indices length mismatch")
	}
	node := p.Leaf
	for i, sibling := range p.Siblings {
		var err error
		if p.PathIndices[i] == 1 {
			node, err = Hash(sibling, node)
		} else {
			node, err = Hash(node, sibling)
		}
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Verify reports whether the proof leads to root.
func (p *MerkleProof) Verify(root *big.Int) bool {
	computed, err := p.ComputeRoot()
	if err != nil {
		return false
	}
	return computed.Cmp(root) == 0
}
