// store.go - Persistent transaction store and Merkle leaf log.
//
// Every backend keeps two collections: transactions keyed by id, and the ordered list of
// leaf data fed to the accumulator. Adding a transaction appends its id to the leaf list
// in the same write.

package storage

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"shielded/internal/shielderr"
	"shielded/internal/transaction"
)

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Store persists transactions and the Merkle leaf log.
type Store interface {
	// AddTransaction stores tx and appends its id to the leaf log.
	// A second transaction with the same id is rejected with ErrInvalidTransaction.
	AddTransaction(ctx context.Context, tx *transaction.ShieldedTransaction) error
	// GetTransaction returns ErrTransactionNotFound for unknown ids.
	GetTransaction(ctx context.Context, id string) (*transaction.ShieldedTransaction, error)
	// Transactions returns every stored transaction ordered by timestamp, then id.
	Transactions(ctx context.Context) ([]*transaction.ShieldedTransaction, error)
	// MerkleLeaves returns the leaf log in append order.
	MerkleLeaves(ctx context.Context) ([]string, error)
	// Clear removes all transactions and leaves.
	Clear(ctx context.Context) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the backend named by backend, rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendJSON:
		return OpenFileStore(dir)
	case BackendSQLite:
		return OpenSQLStore(filepath.Join(dir, "shielded.db"))
	case BackendPebble:
		return OpenPebbleStore(filepath.Join(dir, "pebble"))
	default:
		return nil, errors.Wrapf(shielderr.ErrStorage, "unknown storage backend %q", backend)
	}
}

func sortTransactions(txs []*transaction.ShieldedTransaction) {
	slices.SortFunc(txs, func(a, b *transaction.ShieldedTransaction) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func notFound(id string) error {
	return errors.Wrapf(shielderr.ErrTransactionNotFound, "transaction %s", id)
}

func duplicate(id string) error {
	return errors.Wrapf(shielderr.ErrInvalidTransaction, "transaction %s already stored", id)
}
