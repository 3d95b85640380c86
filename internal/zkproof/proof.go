// proof.go - Placeholder zero-knowledge proofs for shielded transactions.
//
// Proofs are hash-tagged strings with no soundness or hiding beyond the underlying hash.
// Verification is structural: a proof is accepted when its fields have the expected length.

package zkproof

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"shielded/internal/crypto"
	"shielded/internal/shielderr"
)

// ProofType is the closed set of proof kinds.
type ProofType int

const (
	SpendProof ProofType = iota
	OutputProof
	BalanceProof
	RangeProof
)

var proofTypeNames = [...]string{
	SpendProof:   "SpendProof",
	OutputProof:  "OutputProof",
	BalanceProof: "BalanceProof",
	RangeProof:   "RangeProof",
}

func (t ProofType) String() string {
	if t < 0 || int(t) >= len(proofTypeNames) {
		return fmt.Sprintf("ProofType(%d)", int(t))
	}
	return proofTypeNames[t]
}

// ParseProofType maps a name back to its ProofType.
func ParseProofType(name string) (ProofType, error) {
	for i, n := range proofTypeNames {
		if n == name {
			return ProofType(i), nil
		}
	}
	return 0, errors.Wrapf(shielderr.ErrSerialization, "unknown proof type %q", name)
}

func (t ProofType) MarshalJSON() ([]byte, error) {
	if t < 0 || int(t) >= len(proofTypeNames) {
		return nil, errors.Wrapf(shielderr.ErrSerialization, "unknown proof type %d", int(t))
	}
	return json.Marshal(t.String())
}

func (t *ProofType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.Wrap(shielderr.ErrSerialization, err.Error())
	}
	parsed, err := ParseProofType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Proof is a structured proof record bound to a transaction id.
type Proof struct {
	ProofID       string    `json:"proof_id"`
	TransactionID string    `json:"transaction_id"`
	ProofData     string    `json:"proof_data"`
	PublicInputs  []string  `json:"public_inputs"`
	Timestamp     time.Time `json:"timestamp"`
	ProofType     ProofType `json:"proof_type"`
}

// Verify reports whether the proof is well formed.
func (p *Proof) Verify() bool {
	return len(p.ProofData) >= crypto.HexDigestSize && len(p.ProofID) >= proofIDSize*2
}

func (p *Proof) String() string {
	return fmt.Sprintf("ZKProof(%s, type: %s, timestamp: %s)",
		p.ProofID, p.ProofType, p.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
}

// proofIDSize is the number of digest bytes kept for a proof id.
const proofIDSize = 16

// Prover draws nonces and timestamps for new proofs.
type Prover struct {
	ctx *crypto.Context
	now func() time.Time
}

// NewProver returns a prover using ctx (crypto.Default when nil) and the wall clock.
func NewProver(ctx *crypto.Context) *Prover {
	if ctx == nil {
		ctx = crypto.Default()
	}
	return &Prover{ctx: ctx, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock returns a copy of the prover stamping proofs with now.
func (p *Prover) WithClock(now func() time.Time) *Prover {
	cp := *p
	cp.now = now
	return &cp
}

// Generate returns the compact transaction proof "proof_id:proof_data".
func (p *Prover) Generate(txID string) (string, error) {
	id, err := p.proofID(txID)
	if err != nil {
		return "", err
	}
	nonce, err := p.ctx.Nonce()
	if err != nil {
		return "", errors.Wrapf(shielderr.ErrZKProof, "proof data for %s: %v", txID, err)
	}
	data := p.ctx.HashHex([]byte(txID), crypto.TagProofData, nonce[:])
	return id + ":" + data, nil
}

// CreateSpendProof binds the transaction's commitments and balance proof into one record.
func (p *Prover) CreateSpendProof(txID string, inputs, outputs []string, balanceProof string) (*Proof, error) {
	id, err := p.proofID(txID)
	if err != nil {
		return nil, err
	}

	parts := make([][]byte, 0, len(inputs)+len(outputs)+2)
	for _, c := range inputs {
		parts = append(parts, []byte(c))
	}
	for _, c := range outputs {
		parts = append(parts, []byte(c))
	}
	parts = append(parts, []byte(balanceProof), crypto.TagSpendProof)

	return &Proof{
		ProofID:       id,
		TransactionID: txID,
		ProofData:     p.ctx.HashHex(parts...),
		PublicInputs: []string{
			fmt.Sprintf("input_count:%d", len(inputs)),
			fmt.Sprintf("output_count:%d", len(outputs)),
		},
		Timestamp: p.now(),
		ProofType: SpendProof,
	}, nil
}

// CreateRangeProof is the salted range proof: the digest also covers a fresh nonce, so two
// proofs for the same amount and bounds differ.
func (p *Prover) CreateRangeProof(amount, lo, hi uint64) (string, error) {
	if amount < lo || amount > hi {
		return "", errors.Wrapf(shielderr.ErrInvalidAmount, "amount %d not in range [%d, %d]", amount, lo, hi)
	}
	nonce, err := p.ctx.Nonce()
	if err != nil {
		return "", errors.Wrapf(shielderr.ErrZKProof, "range proof: %v", err)
	}
	return p.ctx.HashHex(crypto.LE8(amount), crypto.LE8(lo), crypto.LE8(hi), crypto.TagRangeProof, nonce[:]), nil
}

func (p *Prover) proofID(txID string) (string, error) {
	nonce, err := p.ctx.Nonce()
	if err != nil {
		return "", errors.Wrapf(shielderr.ErrZKProof, "proof id for %s: %v", txID, err)
	}
	sum := p.ctx.Sum([]byte(txID), crypto.TagZKProof, nonce[:])
	return hex.EncodeToString(sum[:proofIDSize]), nil
}

// CreateBalanceProof attests that in == out + fee.
// The comparison is done without overflow; a mismatch yields ErrInvalidTransaction.
func CreateBalanceProof(h crypto.Hasher, in, out, fee uint64) (string, error) {
	if h == nil {
		h = crypto.SHA256{}
	}
	if fee > in || in-fee != out {
		return "", errors.Wrapf(shielderr.ErrInvalidTransaction,
			"input total %d does not equal output total %d plus fee %d", in, out, fee)
	}
	return crypto.HashHex(h, crypto.LE8(in), crypto.LE8(out), crypto.LE8(fee), crypto.TagBalanceProof), nil
}

// SplitCompact splits a compact proof into its id and data halves.
func SplitCompact(proof string) (id, data string, ok bool) {
	return strings.Cut(proof, ":")
}

// VerifyCompact reports whether a compact proof has a 32-char id and 64-char data half.
func VerifyCompact(proof string) bool {
	id, data, ok := SplitCompact(proof)
	if !ok {
		return false
	}
	return (&Proof{ProofID: id, ProofData: data}).Verify()
}
