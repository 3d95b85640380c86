// commitment.go - Hash commitments to hidden amounts.
//
// A commitment is Hash(amount_le8 || nonce). The committed record never carries the
// amount; opening requires the amount and nonce from the committer.

package commitment

import (
	"encoding/hex"

	"github.com/pkg/errors"

	"shielded/internal/crypto"
	"shielded/internal/shielderr"
)

// Commitment is the serialized form of a commitment to an amount.
// Amount is always nil once committed.
type Commitment struct {
	CommitmentHash string  `json:"commitment_hash"`
	Nonce          string  `json:"nonce"`
	Amount         *uint64 `json:"amount"`
}

// KnowledgeProof records a knowledge proof alongside the inputs it was derived from.
// Nothing in verification consults the commitment hash or amount.
type KnowledgeProof struct {
	ProofHash      string `json:"proof_hash"`
	CommitmentHash string `json:"commitment_hash"`
	Amount         uint64 `json:"amount"`
	Nonce          string `json:"nonce"`
}

// Engine builds, opens and checks commitments using a crypto context.
type Engine struct {
	ctx *crypto.Context
}

// NewEngine returns an engine drawing nonces and digests from ctx.
func NewEngine(ctx *crypto.Context) *Engine {
	if ctx == nil {
		ctx = crypto.Default()
	}
	return &Engine{ctx: ctx}
}

// Commit commits to amount under a fresh nonce and returns the commitment hash.
func (e *Engine) Commit(amount uint64) (string, error) {
	nonce, err := e.ctx.Nonce()
	if err != nil {
		return "", err
	}
	return e.CreateCommitment(amount, nonce).CommitmentHash, nil
}

// CreateCommitment deterministically commits to amount under nonce.
func (e *Engine) CreateCommitment(amount uint64, nonce crypto.Nonce) Commitment {
	return Commitment{
		CommitmentHash: e.ctx.HashHex(crypto.LE8(amount), nonce[:]),
		Nonce:          nonce.Hex(),
		Amount:         nil,
	}
}

// ProveKnowledge returns Hash(amount_le8 || nonce || "knowledge_proof") under a nonce
// drawn independently of any earlier commitment. The proof is therefore not bound to a
// particular commitment.
func (e *Engine) ProveKnowledge(amount uint64) (string, error) {
	nonce, err := e.ctx.Nonce()
	if err != nil {
		return "", err
	}
	return e.ctx.HashHex(crypto.LE8(amount), nonce[:], crypto.TagKnowledgeProof), nil
}

// VerifyKnowledge reports whether both strings are digest-length hex.
// It is a format check and performs no binding check.
func (e *Engine) VerifyKnowledge(commitmentHash, proof string) bool {
	return crypto.IsDigestHex(commitmentHash) && crypto.IsDigestHex(proof)
}

// OpenCommitment recomputes the commitment for (amount, nonceHex) and compares it with c.
// A nonce that is not valid hex or does not decode to exactly 32 bytes yields ErrCrypto.
func (e *Engine) OpenCommitment(c Commitment, amount uint64, nonceHex string) (bool, error) {
	nonce, err := ParseNonce(nonceHex)
	if err != nil {
		return false, err
	}
	return c.CommitmentHash == e.CreateCommitment(amount, nonce).CommitmentHash, nil
}

// ParseNonce decodes a hex nonce of exactly 32 bytes.
func ParseNonce(nonceHex string) (crypto.Nonce, error) {
	var nonce crypto.Nonce
	raw, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nonce, errors.Wrap(shielderr.ErrCrypto, "invalid nonce")
	}
	if len(raw) != crypto.NonceSize {
		return nonce, errors.Wrapf(shielderr.ErrCrypto, "invalid nonce length %d, want %d", len(raw), crypto.NonceSize)
	}
	copy(nonce[:], raw)
	return nonce, nil
}

// CreateRangeProof attests that lo <= amount <= hi.
// It returns ErrInvalidAmount when amount is outside [lo, hi].
func (e *Engine) CreateRangeProof(amount, lo, hi uint64) (string, error) {
	if amount < lo || amount > hi {
		return "", errors.Wrapf(shielderr.ErrInvalidAmount, "amount %d not in range [%d, %d]", amount, lo, hi)
	}
	return e.ctx.HashHex(crypto.LE8(amount), crypto.LE8(lo), crypto.LE8(hi), crypto.TagRangeProof), nil
}

// VerifyRangeProof reports whether proof and commitmentHash are digest-length hex.
// The bounds are accepted but not used.
func (e *Engine) VerifyRangeProof(proof, commitmentHash string, lo, hi uint64) bool {
	return crypto.IsDigestHex(proof) && crypto.IsDigestHex(commitmentHash)
}

// NewKnowledgeProof commits to amount and proves knowledge of it in one step,
// returning both records. The proof nonce is independent of the commitment nonce.
func (e *Engine) NewKnowledgeProof(amount uint64) (*KnowledgeProof, error) {
	nonce, err := e.ctx.Nonce()
	if err != nil {
		return nil, err
	}
	c := e.CreateCommitment(amount, nonce)
	proof, err := e.ProveKnowledge(amount)
	if err != nil {
		return nil, err
	}
	return &KnowledgeProof{
		ProofHash:      proof,
		CommitmentHash: c.CommitmentHash,
		Amount:         amount,
		Nonce:          c.Nonce,
	}, nil
}
