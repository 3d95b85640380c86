// pebble.go - Pebble KV backend.
//
// Keys:
//   tx/<id>          CBOR-encoded transaction
//   leaf/<seq:%020d> leaf data, seq starting at 0
//
// Zero-padded sequence numbers keep the leaf log in append order under byte-wise iteration.

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"shielded/internal/shielderr"
	"shielded/internal/transaction"
)

const (
	prefixTx   = "tx/"
	prefixLeaf = "leaf/"
)

// PebbleStore is the Pebble backend. Writes are serialized so the leaf sequence stays dense.
type PebbleStore struct {
	mu      sync.Mutex
	db      *pebble.DB
	enc     cbor.EncMode
	nextSeq uint64
}

// OpenPebbleStore opens (or creates) a Pebble database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "open pebble %s: %v", dir, err)
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(shielderr.ErrSerialization, "cbor mode: %v", err)
	}
	s := &PebbleStore{db: db, enc: enc}
	leaves, err := s.MerkleLeaves(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	s.nextSeq = uint64(len(leaves))
	return s, nil
}

func txKey(id string) []byte {
	return []byte(prefixTx + id)
}

func leafKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixLeaf, seq))
}

// prefixUpperBound returns the smallest key greater than every key with the prefix.
func prefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}

func (s *PebbleStore) AddTransaction(_ context.Context, tx *transaction.ShieldedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, closer, err := s.db.Get(txKey(tx.ID))
	if err == nil {
		closer.Close()
		return duplicate(tx.ID)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return errors.Wrapf(shielderr.ErrStorage, "lookup %s: %v", tx.ID, err)
	}

	value, err := s.enc.Marshal(tx)
	if err != nil {
		return errors.Wrapf(shielderr.ErrSerialization, "encode transaction %s: %v", tx.ID, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(txKey(tx.ID), value, pebble.NoSync); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "write transaction %s: %v", tx.ID, err)
	}
	if err := batch.Set(leafKey(s.nextSeq), []byte(tx.ID), pebble.NoSync); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "write leaf %d: %v", s.nextSeq, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "commit transaction %s: %v", tx.ID, err)
	}
	s.nextSeq++
	return nil
}

func (s *PebbleStore) GetTransaction(_ context.Context, id string) (*transaction.ShieldedTransaction, error) {
	value, closer, err := s.db.Get(txKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "read %s: %v", id, err)
	}
	defer closer.Close()
	return decodeTx(value)
}

func decodeTx(value []byte) (*transaction.ShieldedTransaction, error) {
	var tx transaction.ShieldedTransaction
	if err := cbor.Unmarshal(value, &tx); err != nil {
		return nil, errors.Wrapf(shielderr.ErrSerialization, "decode transaction: %v", err)
	}
	return &tx, nil
}

func (s *PebbleStore) scan(prefix string, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "iterate %s: %v", prefix, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "iterate %s: %v", prefix, err)
	}
	return nil
}

func (s *PebbleStore) Transactions(_ context.Context) ([]*transaction.ShieldedTransaction, error) {
	out := make([]*transaction.ShieldedTransaction, 0)
	err := s.scan(prefixTx, func(value []byte) error {
		tx, err := decodeTx(value)
		if err != nil {
			return err
		}
		out = append(out, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTransactions(out)
	return out, nil
}

func (s *PebbleStore) MerkleLeaves(_ context.Context) ([]string, error) {
	leaves := make([]string, 0)
	err := s.scan(prefixLeaf, func(value []byte) error {
		leaves = append(leaves, string(value))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leaves, nil
}

func (s *PebbleStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, prefix := range []string{prefixTx, prefixLeaf} {
		if err := batch.DeleteRange([]byte(prefix), prefixUpperBound(prefix), pebble.NoSync); err != nil {
			return errors.Wrapf(shielderr.ErrStorage, "clear %s: %v", prefix, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "clear: %v", err)
	}
	s.nextSeq = 0
	return nil
}

// Ping reads a key that never exists; only a storage failure surfaces.
func (s *PebbleStore) Ping(_ context.Context) error {
	_, closer, err := s.db.Get([]byte("ping"))
	if err == nil {
		closer.Close()
		return nil
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	return errors.Wrapf(shielderr.ErrStorage, "ping: %v", err)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
