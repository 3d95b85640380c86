// Package shielderr defines the error kinds shared by the ledger core and its shell.
//
// Each kind is a sentinel; call sites attach detail with errors.Wrapf and callers match
// with errors.Is.
package shielderr

import "github.com/pkg/errors"

var (
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrZKProof             = errors.New("zero-knowledge proof generation failed")
	ErrMerkleTree          = errors.New("merkle tree operation failed")
	ErrCrypto              = errors.New("cryptographic operation failed")
	ErrRandomness          = errors.New("random source failed")
	ErrSerialization       = errors.New("serialization error")
	ErrStorage             = errors.New("storage error")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Kind returns the sentinel err was derived from, or nil if it matches none.
func Kind(err error) error {
	for _, k := range []error{
		ErrInvalidTransaction,
		ErrZKProof,
		ErrMerkleTree,
		ErrCrypto,
		ErrRandomness,
		ErrSerialization,
		ErrStorage,
		ErrInvalidAmount,
		ErrTransactionNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
