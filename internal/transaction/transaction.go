// transaction.go - Shielded and public transaction records.
//
// A ShieldedTransaction carries its declared amount and fee in the clear alongside the
// commitments that hide them. Balance checks operate on the declared figures; commitment
// contents are never opened here.

package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"shielded/internal/shielderr"
)

// MinIDLength is the shortest identifier Verify accepts.
const MinIDLength = 32

// Type distinguishes public transfers from shielded ones.
type Type int

const (
	Public Type = iota
	Shielded
)

// Status is the lifecycle state of a transaction.
type Status int

const (
	Pending Status = iota
	Confirmed
	Failed
)

var (
	typeNames   = [...]string{Public: "Public", Shielded: "Shielded"}
	statusNames = [...]string{Pending: "Pending", Confirmed: "Confirmed", Failed: "Failed"}
)

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (t Type) MarshalJSON() ([]byte, error) {
	if t < 0 || int(t) >= len(typeNames) {
		return nil, errors.Wrapf(shielderr.ErrSerialization, "unknown transaction type %d", int(t))
	}
	return json.Marshal(typeNames[t])
}

func (t *Type) UnmarshalJSON(data []byte) error {
	i, err := unmarshalName(data, typeNames[:], "transaction type")
	if err != nil {
		return err
	}
	*t = Type(i)
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, errors.Wrapf(shielderr.ErrSerialization, "unknown transaction status %d", int(s))
	}
	return json.Marshal(statusNames[s])
}

func (s *Status) UnmarshalJSON(data []byte) error {
	i, err := unmarshalName(data, statusNames[:], "transaction status")
	if err != nil {
		return err
	}
	*s = Status(i)
	return nil
}

func unmarshalName(data []byte, names []string, what string) (int, error) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return 0, errors.Wrapf(shielderr.ErrSerialization, "%s: %v", what, err)
	}
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return 0, errors.Wrapf(shielderr.ErrSerialization, "unknown %s %q", what, name)
}

// ShieldedTransaction is a transfer record. Public transactions carry no commitments
// and no proof.
type ShieldedTransaction struct {
	ID                string    `json:"id"`
	From              string    `json:"from"`
	To                string    `json:"to"`
	Amount            uint64    `json:"amount"`
	Fee               uint64    `json:"fee"`
	Type              Type      `json:"type"`
	InputCommitments  []string  `json:"input_commitments"`
	OutputCommitments []string  `json:"output_commitments"`
	Proof             *string   `json:"proof"`
	Signature         string    `json:"signature"`
	Timestamp         time.Time `json:"timestamp"`
	Status            Status    `json:"status"`
}

// InputTotal is the declared amount plus fee.
func (tx *ShieldedTransaction) InputTotal() uint64 {
	return tx.Amount + tx.Fee
}

// OutputTotal is the declared amount.
func (tx *ShieldedTransaction) OutputTotal() uint64 {
	return tx.Amount
}

// IsBalanced reports whether InputTotal equals OutputTotal plus the fee.
// Both sides derive from the same declared fields, so this holds for every transaction
// the builder produces; it does not inspect commitment contents.
func (tx *ShieldedTransaction) IsBalanced() bool {
	return tx.InputTotal() == tx.OutputTotal()+tx.Fee
}

// ToJSON returns the indented JSON form of the transaction.
func (tx *ShieldedTransaction) ToJSON() (string, error) {
	raw, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return "", errors.Wrapf(shielderr.ErrSerialization, "encode transaction %s: %v", tx.ID, err)
	}
	return string(raw), nil
}

// FromJSON decodes a transaction produced by ToJSON.
func FromJSON(data string) (*ShieldedTransaction, error) {
	var tx ShieldedTransaction
	if err := json.Unmarshal([]byte(data), &tx); err != nil {
		if errors.Is(err, shielderr.ErrSerialization) {
			return nil, err
		}
		return nil, errors.Wrapf(shielderr.ErrSerialization, "decode transaction: %v", err)
	}
	return &tx, nil
}

func (tx *ShieldedTransaction) String() string {
	return fmt.Sprintf("Transaction(%s, %s -> %s, amount: %d, type: %s, status: %s)",
		tx.ID, tx.From, tx.To, tx.Amount, tx.Type, tx.Status)
}

// Verify is a format check on a transaction id: it holds iff the id is at least
// MinIDLength characters.
func Verify(id string) bool {
	return len(id) >= MinIDLength
}

// CalculateFee returns 0.1% of amount, with a minimum of 1.
func CalculateFee(amount uint64) uint64 {
	return max(1, amount/1000)
}
