// tree.go - Append-only Merkle accumulator over transaction identifiers.
//
// Leaves are Hash("leaf:" || data); parents are Hash("node:" || L || R) over the hex
// strings of the children. An unpaired node at the end of a layer is promoted unchanged.
// The root is recomputed from the full leaf set on every append.
//
// Tree is safe for concurrent use: a single RWMutex guards leaves, root, height and count.

package merkle

import (
	"sync"

	"github.com/pkg/errors"

	"shielded/internal/crypto"
	"shielded/internal/shielderr"
)

// EmptyRoot is the root of a tree with no leaves: 64 zeros, the width of one hex
// digest.
const EmptyRoot = "0000000000000000000000000000000000000000000000000000000000000000"

// Snapshot is the serialized MerkleTree record.
type Snapshot struct {
	Root      string   `json:"root"`
	Height    int      `json:"height"`
	LeafCount int      `json:"leaf_count"`
	Leaves    []string `json:"leaves"`
}

// Tree is the live accumulator.
type Tree struct {
	mu        sync.RWMutex
	hasher    crypto.Hasher
	root      string
	height    int
	leafCount int
	leaves    []string
}

// New returns an empty tree hashing with h (SHA-256 when nil).
func New(h crypto.Hasher) *Tree {
	if h == nil {
		h = crypto.SHA256{}
	}
	return &Tree{
		hasher: h,
		root:   EmptyRoot,
		leaves: make([]string, 0),
	}
}

// Rebuild returns a tree holding data appended in order.
func Rebuild(h crypto.Hasher, data []string) *Tree {
	t := New(h)
	for _, d := range data {
		t.AddLeaf(d)
	}
	return t
}

// Root returns the current root hash.
func (t *Tree) Root() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Height returns the current tree height.
func (t *Tree) Height() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.height
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.leafCount
}

// Leaves returns a copy of the leaf hashes in insertion order.
func (t *Tree) Leaves() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.leaves...)
}

// IndexOf returns the index of the first leaf built from data.
func (t *Tree) IndexOf(data string) (int, bool) {
	leaf := HashLeaf(t.hasher, data)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, l := range t.leaves {
		if l == leaf {
			return i, true
		}
	}
	return -1, false
}

// Snapshot returns a consistent copy of the tree state.
func (t *Tree) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Root:      t.root,
		Height:    t.height,
		LeafCount: t.leafCount,
		Leaves:    append([]string(nil), t.leaves...),
	}
}

// AddLeaf hashes data into a new leaf, recomputes the root over all leaves and returns
// the new leaf's index.
func (t *Tree) AddLeaf(data string) int {
	leaf := HashLeaf(t.hasher, data)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.leaves = append(t.leaves, leaf)
	t.leafCount++
	t.root = calculateRoot(t.hasher, t.leaves)
	t.height = calculateHeight(t.leafCount)
	return t.leafCount - 1
}

// GenerateProof returns the sibling hashes from the leaf at index up to the root.
// Layers where the node is promoted without a sibling contribute nothing.
func (t *Tree) GenerateProof(index int) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if index < 0 || index >= t.leafCount {
		return nil, errors.Wrapf(shielderr.ErrMerkleTree, "leaf index %d out of bounds (%d leaves)", index, t.leafCount)
	}

	proof := make([]string, 0, t.height)
	current := index
	level := t.leaves
	for len(level) > 1 {
		sibling := current + 1
		if current%2 == 1 {
			sibling = current - 1
		}
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		current /= 2
		level = hashLevel(t.hasher, level)
	}
	return proof, nil
}

// VerifyProof reports whether proof links Hash("leaf:" || leafData) at index to the
// current root.
func (t *Tree) VerifyProof(leafData string, proof []string, index int) bool {
	t.mu.RLock()
	root, count := t.root, t.leafCount
	t.mu.RUnlock()
	return VerifyInclusion(t.hasher, root, count, leafData, proof, index)
}

// VerifyInclusion checks an inclusion proof against a root for a tree of leafCount leaves.
//
// The fold walks the same layer sizes GenerateProof walked: at each layer the running
// hash is the left child when its index is even and the right child otherwise, and a
// layer whose last node has no sibling consumes no proof element. For power-of-two
// counts this is exactly the plain bottom-up fold.
func VerifyInclusion(h crypto.Hasher, root string, leafCount int, leafData string, proof []string, index int) bool {
	if index < 0 || index >= leafCount {
		return false
	}

	current := HashLeaf(h, leafData)
	idx := index
	width := leafCount
	used := 0
	for width > 1 {
		sibling := idx + 1
		if idx%2 == 1 {
			sibling = idx - 1
		}
		if sibling < width {
			if used >= len(proof) {
				return false
			}
			if idx%2 == 0 {
				current = hashPair(h, current, proof[used])
			} else {
				current = hashPair(h, proof[used], current)
			}
			used++
		}
		idx /= 2
		width = (width + 1) / 2
	}
	return used == len(proof) && current == root
}

// HashLeaf returns Hash("leaf:" || data) as hex.
func HashLeaf(h crypto.Hasher, data string) string {
	return crypto.HashHex(h, crypto.TagLeaf, []byte(data))
}

func hashPair(h crypto.Hasher, left, right string) string {
	return crypto.HashHex(h, crypto.TagNode, []byte(left), []byte(right))
}

// hashLevel reduces one layer pairwise, promoting an unpaired last node.
func hashLevel(h crypto.Hasher, level []string) []string {
	next := make([]string, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, hashPair(h, level[i], level[i+1]))
		} else {
			next = append(next, level[i])
		}
	}
	return next
}

func calculateRoot(h crypto.Hasher, leaves []string) string {
	if len(leaves) == 0 {
		return EmptyRoot
	}
	level := leaves
	for len(level) > 1 {
		level = hashLevel(h, level)
	}
	return level[0]
}

// calculateHeight halves the node count, rounding up, until one node remains.
func calculateHeight(leafCount int) int {
	height := 0
	for nodes := leafCount; nodes > 1; nodes = (nodes + 1) / 2 {
		height++
	}
	return height
}
