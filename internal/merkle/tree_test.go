package merkle

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shielded/internal/crypto"
	"shielded/internal/shielderr"
)

func TestEmptyTree(t *testing.T) {
	tree := New(nil)
	assert.Equal(t, EmptyRoot, tree.Root())
	assert.Len(t, EmptyRoot, crypto.HexDigestSize)
	assert.Equal(t, strings.Repeat("0", 64), EmptyRoot)
	assert.True(t, crypto.IsDigestHex(EmptyRoot))
	assert.Equal(t, 0, tree.Height())
	assert.Equal(t, 0, tree.LeafCount())
	assert.Empty(t, tree.Leaves())

	_, err := tree.GenerateProof(0)
	assert.True(t, errors.Is(err, shielderr.ErrMerkleTree))
}

func TestFixtureRoots(t *testing.T) {
	tree := New(crypto.SHA256{})

	tree.AddLeaf("L0")
	assert.Equal(t, "a5675c0464a9c856a345f1fcace56c986b4121efce70dc834ae19d48925325f4", tree.Root())

	tree.AddLeaf("L1")
	assert.Equal(t, "e64df3098e6b0192ba0ee9d06113372aae441b85431c02a719b6bc47c6e36bca", tree.Root())

	tree.AddLeaf("L2")
	assert.Equal(t, "c9dd5d498e5ea637e99d4b1f8d7bccdaa13e4af19352c710b7f9237f0ae490d1", tree.Root())
}

func TestHeight(t *testing.T) {
	for count, want := range map[int]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4} {
		tree := New(nil)
		for i := 0; i < count; i++ {
			tree.AddLeaf(fmt.Sprintf("tx-%d", i))
		}
		assert.Equal(t, want, tree.Height(), "leaf count %d", count)
	}
}

func TestAddLeafReturnsIndex(t *testing.T) {
	tree := New(nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, tree.AddLeaf(fmt.Sprintf("tx-%d", i)))
	}
	assert.Equal(t, HashLeaf(crypto.SHA256{}, "tx-3"), tree.Leaves()[3])
}

func TestIndexOf(t *testing.T) {
	tree := Rebuild(nil, []string{"a", "b", "a"})
	i, ok := tree.IndexOf("a")
	assert.True(t, ok)
	assert.Equal(t, 0, i)
	i, ok = tree.IndexOf("b")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = tree.IndexOf("c")
	assert.False(t, ok)
}

func TestInclusionProofs(t *testing.T) {
	for count := 1; count <= 16; count++ {
		t.Run(fmt.Sprintf("%d leaves", count), func(t *testing.T) {
			tree := New(nil)
			for i := 0; i < count; i++ {
				tree.AddLeaf(fmt.Sprintf("tx-%d", i))
			}
			for i := 0; i < count; i++ {
				data := fmt.Sprintf("tx-%d", i)
				proof, err := tree.GenerateProof(i)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(proof), tree.Height())
				assert.True(t, tree.VerifyProof(data, proof, i), "leaf %d", i)
				assert.False(t, tree.VerifyProof(data+"x", proof, i), "tampered data at leaf %d", i)
				if count > 1 {
					other := (i + 1) % count
					assert.False(t, tree.VerifyProof(data, proof, other), "leaf %d at index %d", i, other)
				}
			}
		})
	}
}

func TestSingleLeafProofIsEmpty(t *testing.T) {
	tree := New(nil)
	tree.AddLeaf("only")
	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, tree.VerifyProof("only", proof, 0))
}

func TestPromotedLeafProof(t *testing.T) {
	tree := Rebuild(nil, []string{"L0", "L1", "L2"})
	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	require.Len(t, proof, 1, "leaf 2 is promoted on the first layer")
	assert.Equal(t, hashPair(crypto.SHA256{}, tree.Leaves()[0], tree.Leaves()[1]), proof[0])
	assert.True(t, tree.VerifyProof("L2", proof, 2))
}

func TestVerifyRejectsMalformedProofs(t *testing.T) {
	tree := Rebuild(nil, []string{"a", "b", "c", "d"})
	proof, err := tree.GenerateProof(1)
	require.NoError(t, err)

	assert.False(t, tree.VerifyProof("b", proof[:1], 1), "short proof")
	assert.False(t, tree.VerifyProof("b", append(proof, EmptyRoot), 1), "extra element")
	assert.False(t, tree.VerifyProof("b", proof, -1))
	assert.False(t, tree.VerifyProof("b", proof, 4))
}

func TestVerifyInclusionAgainstSnapshot(t *testing.T) {
	tree := Rebuild(crypto.Blake3{}, []string{"a", "b", "c", "d", "e"})
	snap := tree.Snapshot()
	proof, err := tree.GenerateProof(4)
	require.NoError(t, err)

	assert.True(t, VerifyInclusion(crypto.Blake3{}, snap.Root, snap.LeafCount, "e", proof, 4))
	assert.False(t, VerifyInclusion(crypto.SHA256{}, snap.Root, snap.LeafCount, "e", proof, 4))

	tree.AddLeaf("f")
	assert.False(t, tree.VerifyProof("e", proof, 4), "root moved on")
}

func TestRebuildMatchesIncremental(t *testing.T) {
	data := []string{"x", "y", "z", "w", "v", "u", "t"}
	incremental := New(nil)
	for _, d := range data {
		incremental.AddLeaf(d)
	}
	assert.Equal(t, incremental.Snapshot(), Rebuild(nil, data).Snapshot())
}

func TestConcurrentAppend(t *testing.T) {
	tree := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tree.AddLeaf(fmt.Sprintf("tx-%d", i))
			_ = tree.Root()
			_ = tree.Snapshot()
		}(i)
	}
	wg.Wait()

	snap := tree.Snapshot()
	assert.Equal(t, 50, snap.LeafCount)
	assert.Len(t, snap.Leaves, 50)
	assert.Equal(t, calculateRoot(crypto.SHA256{}, snap.Leaves), snap.Root)
}
