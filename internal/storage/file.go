// file.go - JSON file backend: transactions.json and merkle_tree.json in one directory.
//
// Both files are rewritten in full, pretty-printed, after every mutation. Each file is
// replaced by rename. The leaf log is written first; if the transaction map then fails to
// write, the previous leaf log is put back.

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"shielded/internal/shielderr"
	"shielded/internal/transaction"
)

const (
	TransactionsFile = "transactions.json"
	MerkleFile       = "merkle_tree.json"
)

// FileStore is the JSON file backend.
type FileStore struct {
	mu           sync.Mutex
	dir          string
	transactions map[string]*transaction.ShieldedTransaction
	leaves       []string
	writeFile    func(path string, data []byte) error
}

// OpenFileStore loads (or initializes) the JSON files under dir.
// Missing files are treated as empty.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(shielderr.ErrStorage, "create data dir %s: %v", dir, err)
	}
	s := &FileStore{
		dir:          dir,
		transactions: make(map[string]*transaction.ShieldedTransaction),
		leaves:       make([]string, 0),
		writeFile:    writeFileAtomic,
	}
	if err := s.load(TransactionsFile, &s.transactions); err != nil {
		return nil, err
	}
	if err := s.load(MerkleFile, &s.leaves); err != nil {
		return nil, err
	}
	// A file holding JSON null decodes to nil.
	if s.transactions == nil {
		s.transactions = make(map[string]*transaction.ShieldedTransaction)
	}
	if s.leaves == nil {
		s.leaves = make([]string, 0)
	}
	return s, nil
}

func (s *FileStore) load(name string, v any) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "read %s: %v", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(shielderr.ErrSerialization, "decode %s: %v", name, err)
	}
	return nil
}

func (s *FileStore) save() error {
	leaves, err := json.MarshalIndent(s.leaves, "", "  ")
	if err != nil {
		return errors.Wrapf(shielderr.ErrSerialization, "encode %s: %v", MerkleFile, err)
	}
	txs, err := json.MarshalIndent(s.transactions, "", "  ")
	if err != nil {
		return errors.Wrapf(shielderr.ErrSerialization, "encode %s: %v", TransactionsFile, err)
	}

	leafPath := filepath.Join(s.dir, MerkleFile)
	prev, err := os.ReadFile(leafPath)
	existed := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(shielderr.ErrStorage, "read %s: %v", MerkleFile, err)
	}

	if err := s.writeFile(leafPath, leaves); err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "write %s: %v", MerkleFile, err)
	}
	if err := s.writeFile(filepath.Join(s.dir, TransactionsFile), txs); err != nil {
		werr := errors.Wrapf(shielderr.ErrStorage, "write %s: %v", TransactionsFile, err)
		var rerr error
		if existed {
			rerr = s.writeFile(leafPath, prev)
		} else {
			rerr = os.Remove(leafPath)
		}
		if rerr != nil {
			return errors.Wrapf(werr, "restore %s: %v", MerkleFile, rerr)
		}
		return werr
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the same directory and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FileStore) AddTransaction(_ context.Context, tx *transaction.ShieldedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return duplicate(tx.ID)
	}
	cp := *tx
	s.transactions[tx.ID] = &cp
	s.leaves = append(s.leaves, tx.ID)
	if err := s.save(); err != nil {
		delete(s.transactions, tx.ID)
		s.leaves = s.leaves[:len(s.leaves)-1]
		return err
	}
	return nil
}

func (s *FileStore) GetTransaction(_ context.Context, id string) (*transaction.ShieldedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *tx
	return &cp, nil
}

func (s *FileStore) Transactions(_ context.Context) ([]*transaction.ShieldedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transaction.ShieldedTransaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		cp := *tx
		out = append(out, &cp)
	}
	sortTransactions(out)
	return out, nil
}

func (s *FileStore) MerkleLeaves(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.leaves...), nil
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = make(map[string]*transaction.ShieldedTransaction)
	s.leaves = make([]string, 0)
	return s.save()
}

// Ping checks that the data directory is still present.
func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return errors.Wrapf(shielderr.ErrStorage, "stat %s: %v", s.dir, err)
	}
	if !info.IsDir() {
		return errors.Wrapf(shielderr.ErrStorage, "%s is not a directory", s.dir)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
