// ledger.go - Transaction ledger: builder, store and Merkle accumulator kept in step.
//
// Every created transaction is persisted and its id appended to the accumulator under one
// mutex. On open the accumulator is rebuilt from the store's leaf log. Transaction
// validity and Merkle inclusion are checked independently.

package ledger

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"shielded/internal/crypto"
	"shielded/internal/merkle"
	"shielded/internal/shielderr"
	"shielded/internal/storage"
	"shielded/internal/transaction"
	"shielded/internal/zkproof"
)

// Options configures a Ledger. Zero values select crypto.Default and a no-op logger.
// A Builder, when set, should be built over Crypto so proofs and leaves share one hasher.
type Options struct {
	Crypto  *crypto.Context
	Builder *transaction.Builder
	Logger  *zerolog.Logger
}

// Ledger is the shielded transaction ledger.
type Ledger struct {
	mu      sync.Mutex
	store   storage.Store
	builder *transaction.Builder
	hasher  crypto.Hasher
	tree    *merkle.Tree
	log     zerolog.Logger
}

// InclusionProof locates a transaction in the accumulator.
type InclusionProof struct {
	TransactionID string   `json:"transaction_id"`
	LeafIndex     int      `json:"leaf_index"`
	Proof         []string `json:"proof"`
	Root          string   `json:"root"`
	LeafCount     int      `json:"leaf_count"`
}

// Verification is the outcome of VerifyTransaction.
type Verification struct {
	TransactionID string                           `json:"transaction_id"`
	Found         bool                             `json:"found"`
	FormatValid   bool                             `json:"format_valid"`
	Balanced      bool                             `json:"balanced"`
	ProofValid    bool                             `json:"proof_valid"`
	Transaction   *transaction.ShieldedTransaction `json:"transaction,omitempty"`
}

// Open returns a ledger over store, rebuilding the accumulator from its leaf log.
func Open(ctx context.Context, store storage.Store, opts Options) (*Ledger, error) {
	cctx := opts.Crypto
	if cctx == nil {
		cctx = crypto.Default()
	}
	builder := opts.Builder
	if builder == nil {
		builder = transaction.NewBuilder(cctx)
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	leaves, err := store.MerkleLeaves(ctx)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		store:   store,
		builder: builder,
		hasher:  cctx.Hasher,
		tree:    merkle.Rebuild(cctx.Hasher, leaves),
		log:     log.With().Str("component", "ledger").Logger(),
	}
	l.log.Info().
		Int("leaves", l.tree.LeafCount()).
		Str("root", l.tree.Root()).
		Str("hasher", cctx.Hasher.Name()).
		Msg("ledger opened")
	return l, nil
}

// Builder returns the transaction builder the ledger creates transactions with.
func (l *Ledger) Builder() *transaction.Builder {
	return l.builder
}

// Receipt describes a recorded transaction and the accumulator state right after it was
// appended.
type Receipt struct {
	Transaction *transaction.ShieldedTransaction `json:"transaction"`
	LeafIndex   int                              `json:"leaf_index"`
	LeafCount   int                              `json:"leaf_count"`
	Root        string                           `json:"root"`
}

// CreateTransaction builds a public or shielded transaction, stores it and appends its id
// to the accumulator. It returns the transaction and its leaf index.
func (l *Ledger) CreateTransaction(ctx context.Context, from, to string, amount uint64, shielded bool) (*transaction.ShieldedTransaction, int, error) {
	r, err := l.Submit(ctx, from, to, amount, shielded)
	if err != nil {
		return nil, -1, err
	}
	return r.Transaction, r.LeafIndex, nil
}

// Submit is CreateTransaction returning a Receipt. Root and LeafCount are read under the
// same lock as the append, so they include this transaction and no later one.
func (l *Ledger) Submit(ctx context.Context, from, to string, amount uint64, shielded bool) (*Receipt, error) {
	var (
		tx  *transaction.ShieldedTransaction
		err error
	)
	if shielded {
		tx, err = l.builder.CreateShielded(from, to, amount)
	} else {
		tx, err = l.builder.CreatePublic(from, to, amount)
	}
	if err != nil {
		l.log.Warn().Err(err).Str("from", from).Str("to", to).Uint64("amount", amount).Msg("transaction rejected")
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.AddTransaction(ctx, tx); err != nil {
		l.log.Error().Err(err).Str("tx", tx.ID).Msg("store transaction")
		return nil, err
	}
	r := &Receipt{
		Transaction: tx,
		LeafIndex:   l.tree.AddLeaf(tx.ID),
		LeafCount:   l.tree.LeafCount(),
		Root:        l.tree.Root(),
	}

	l.log.Info().
		Str("tx", tx.ID).
		Str("type", tx.Type.String()).
		Uint64("fee", tx.Fee).
		Int("leaf", r.LeafIndex).
		Str("root", r.Root).
		Msg("transaction recorded")
	return r, nil
}

// Get returns a stored transaction.
func (l *Ledger) Get(ctx context.Context, id string) (*transaction.ShieldedTransaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// List returns every stored transaction in timestamp order.
func (l *Ledger) List(ctx context.Context) ([]*transaction.ShieldedTransaction, error) {
	return l.store.Transactions(ctx)
}

// Snapshot returns the current accumulator state.
func (l *Ledger) Snapshot() merkle.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Snapshot()
}

// InclusionProof returns the Merkle path for a recorded transaction id.
func (l *Ledger) InclusionProof(id string) (*InclusionProof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	index, ok := l.tree.IndexOf(id)
	if !ok {
		return nil, errors.Wrapf(shielderr.ErrTransactionNotFound, "transaction %s not in merkle tree", id)
	}
	proof, err := l.tree.GenerateProof(index)
	if err != nil {
		return nil, err
	}
	return &InclusionProof{
		TransactionID: id,
		LeafIndex:     index,
		Proof:         proof,
		Root:          l.tree.Root(),
		LeafCount:     l.tree.LeafCount(),
	}, nil
}

// VerifyInclusion checks a Merkle path against the current root.
func (l *Ledger) VerifyInclusion(leafData string, proof []string, index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.VerifyProof(leafData, proof, index)
}

// VerifyTransaction looks id up and runs the structural checks. An unknown id is not an
// error: the result reports Found=false with only the format check applied.
func (l *Ledger) VerifyTransaction(ctx context.Context, id string) (*Verification, error) {
	v := &Verification{TransactionID: id, FormatValid: transaction.Verify(id)}
	tx, err := l.store.GetTransaction(ctx, id)
	if errors.Is(err, shielderr.ErrTransactionNotFound) {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	v.Found = true
	v.Transaction = tx
	v.Balanced = tx.IsBalanced()
	v.ProofValid = tx.Proof == nil || zkproof.VerifyCompact(*tx.Proof)
	return v, nil
}

// GenerateProof returns a fresh compact proof for id. The id need not be recorded.
func (l *Ledger) GenerateProof(id string) (string, error) {
	return l.builder.Prover().Generate(id)
}

// SpendProof builds the structured spend proof for a recorded shielded transaction.
func (l *Ledger) SpendProof(ctx context.Context, id string) (*zkproof.Proof, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Type != transaction.Shielded {
		return nil, errors.Wrapf(shielderr.ErrInvalidTransaction, "transaction %s is not shielded", id)
	}
	return l.builder.SpendProof(tx)
}

// Clear removes all stored data and resets the accumulator.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Clear(ctx); err != nil {
		return err
	}
	l.tree = merkle.New(l.hasher)
	l.log.Warn().Msg("ledger cleared")
	return nil
}

// Ping checks the underlying store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
