// random.go - Randomness handle shared by commitment and proof generation.
//
// Callers never reach for an ambient RNG; they hold a *Context and draw nonces from it,
// so tests can substitute a seeded stream and pin exact digests.

package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"shielded/internal/shielderr"
)

// NonceSize is the byte length of a commitment or proof nonce.
const NonceSize = 32

// Nonce is a single-use random value.
type Nonce [NonceSize]byte

// Hex returns the lowercase hex encoding of the nonce.
func (n Nonce) Hex() string {
	return hex.EncodeToString(n[:])
}

// Context bundles the hash function and random source used by the core.
type Context struct {
	Hasher Hasher
	Rand   io.Reader
}

// Default returns a context backed by SHA-256 and crypto/rand.
func Default() *Context {
	return &Context{Hasher: SHA256{}, Rand: rand.Reader}
}

// New returns a context with the given hasher backed by crypto/rand.
func New(h Hasher) *Context {
	if h == nil {
		h = SHA256{}
	}
	return &Context{Hasher: h, Rand: rand.Reader}
}

// NewDeterministic returns a SHA-256 context whose random stream is the BLAKE3 XOF of seed.
// Two contexts built from the same seed produce identical nonces.
func NewDeterministic(seed []byte) *Context {
	return &Context{Hasher: SHA256{}, Rand: NewSeededReader(seed)}
}

// NewSeededReader returns a reader yielding the BLAKE3 extendable output of seed.
// The reader is safe for concurrent use.
func NewSeededReader(seed []byte) io.Reader {
	h := blake3.New()
	h.Write(seed)
	return &lockedReader{r: h.Digest()}
}

type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

// Nonce draws a fresh 32-byte nonce.
func (c *Context) Nonce() (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(c.Rand, n[:]); err != nil {
		return n, errors.Wrapf(shielderr.ErrRandomness, "read nonce: %v", err)
	}
	return n, nil
}

// RandomBytes draws n random bytes.
func (c *Context) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.Rand, b); err != nil {
		return nil, errors.Wrapf(shielderr.ErrRandomness, "read %d random bytes: %v", n, err)
	}
	return b, nil
}

// Sum hashes parts with the context's hasher.
func (c *Context) Sum(parts ...[]byte) []byte {
	return c.Hasher.Sum(parts...)
}

// HashHex hashes parts with the context's hasher and hex-encodes the digest.
func (c *Context) HashHex(parts ...[]byte) string {
	return HashHex(c.Hasher, parts...)
}

// LE8 encodes an amount as 8 little-endian bytes.
func LE8(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Domain separation tags. They are hashed verbatim, without separators.
var (
	TagLeaf           = []byte("leaf:")
	TagNode           = []byte("node:")
	TagKnowledgeProof = []byte("knowledge_proof")
	TagRangeProof     = []byte("range_proof")
	TagBalanceProof   = []byte("balance_proof")
	TagSpendProof     = []byte("spend_proof")
	TagZKProof        = []byte("zk_proof")
	TagProofData      = []byte("proof_data")
)
