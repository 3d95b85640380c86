// builder.go - Construction of public and shielded transactions.

package transaction

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"shielded/internal/commitment"
	"shielded/internal/crypto"
	"shielded/internal/shielderr"
	"shielded/internal/zkproof"
)

// Builder creates transactions, drawing every nonce from one crypto context.
type Builder struct {
	ctx         *crypto.Context
	commitments *commitment.Engine
	prover      *zkproof.Prover
	now         func() time.Time
}

// NewBuilder returns a builder over ctx (crypto.Default when nil).
func NewBuilder(ctx *crypto.Context) *Builder {
	if ctx == nil {
		ctx = crypto.Default()
	}
	return &Builder{
		ctx:         ctx,
		commitments: commitment.NewEngine(ctx),
		prover:      zkproof.NewProver(ctx),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of the builder that timestamps transactions and proofs with now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	cp := *b
	cp.now = now
	cp.prover = b.prover.WithClock(now)
	return &cp
}

// Prover returns the proof generator sharing the builder's context.
func (b *Builder) Prover() *zkproof.Prover {
	return b.prover
}

// Commitments returns the commitment engine sharing the builder's context.
func (b *Builder) Commitments() *commitment.Engine {
	return b.commitments
}

// CreatePublic builds a transfer with visible amounts, no commitments and no proof.
func (b *Builder) CreatePublic(from, to string, amount uint64) (*ShieldedTransaction, error) {
	fee, err := feeFor(amount)
	if err != nil {
		return nil, err
	}
	id, err := b.transactionID(from, to, amount)
	if err != nil {
		return nil, err
	}
	sig, err := b.sign(id, from)
	if err != nil {
		return nil, err
	}
	return &ShieldedTransaction{
		ID:                id,
		From:              from,
		To:                to,
		Amount:            amount,
		Fee:               fee,
		Type:              Public,
		InputCommitments:  []string{},
		OutputCommitments: []string{},
		Signature:         sig,
		Timestamp:         b.now(),
		Status:            Pending,
	}, nil
}

// CreateShielded builds a transfer whose amounts are hidden behind commitments: one input
// over amount+fee, one output over amount and, since the fee is always positive, a change
// output over zero. The attached proof is the compact form from zkproof.Prover.Generate.
func (b *Builder) CreateShielded(from, to string, amount uint64) (*ShieldedTransaction, error) {
	fee, err := feeFor(amount)
	if err != nil {
		return nil, err
	}
	id, err := b.transactionID(from, to, amount)
	if err != nil {
		return nil, err
	}

	input, err := b.commitments.Commit(amount + fee)
	if err != nil {
		return nil, err
	}
	output, err := b.commitments.Commit(amount)
	if err != nil {
		return nil, err
	}
	outputs := []string{output}
	if fee > 0 {
		change, err := b.commitments.Commit(0)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, change)
	}

	proof, err := b.prover.Generate(id)
	if err != nil {
		return nil, err
	}
	sig, err := b.sign(id, from)
	if err != nil {
		return nil, err
	}

	return &ShieldedTransaction{
		ID:                id,
		From:              from,
		To:                to,
		Amount:            amount,
		Fee:               fee,
		Type:              Shielded,
		InputCommitments:  []string{input},
		OutputCommitments: outputs,
		Proof:             &proof,
		Signature:         sig,
		Timestamp:         b.now(),
		Status:            Pending,
	}, nil
}

// CreateBalanceProof attests that in == out + fee using the builder's hasher.
func (b *Builder) CreateBalanceProof(in, out, fee uint64) (string, error) {
	return zkproof.CreateBalanceProof(b.ctx.Hasher, in, out, fee)
}

// SpendProof builds the structured spend proof for tx over its commitments and a balance
// proof of its declared totals.
func (b *Builder) SpendProof(tx *ShieldedTransaction) (*zkproof.Proof, error) {
	balance, err := b.CreateBalanceProof(tx.InputTotal(), tx.OutputTotal(), tx.Fee)
	if err != nil {
		return nil, err
	}
	return b.prover.CreateSpendProof(tx.ID, tx.InputCommitments, tx.OutputCommitments, balance)
}

// transactionID is Hash(from || to || amount_le8 || nonce || uuid).
func (b *Builder) transactionID(from, to string, amount uint64) (string, error) {
	nonce, err := b.ctx.Nonce()
	if err != nil {
		return "", err
	}
	u, err := uuid.NewRandomFromReader(b.ctx.Rand)
	if err != nil {
		return "", errors.Wrapf(shielderr.ErrRandomness, "transaction uuid: %v", err)
	}
	return b.ctx.HashHex([]byte(from), []byte(to), crypto.LE8(amount), nonce[:], u[:]), nil
}

// sign is Hash(id || signer || nonce).
func (b *Builder) sign(id, signer string) (string, error) {
	nonce, err := b.ctx.Nonce()
	if err != nil {
		return "", err
	}
	return b.ctx.HashHex([]byte(id), []byte(signer), nonce[:]), nil
}

func feeFor(amount uint64) (uint64, error) {
	fee := CalculateFee(amount)
	if amount > math.MaxUint64-fee {
		return 0, errors.Wrapf(shielderr.ErrInvalidAmount, "amount %d plus fee %d overflows", amount, fee)
	}
	return fee, nil
}
