package main

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"shielded/internal/app"
	"shielded/internal/shielderr"
	"shielded/internal/transaction"
)

const timestampLayout = "2006-01-02 15:04:05.999999999 UTC"

func runCreateTransaction(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("create-transaction")
	from := fs.String("from", "", "sender")
	to := fs.String("to", "", "recipient")
	amount := fs.Uint64("amount", 0, "amount to transfer")
	shielded := fs.Bool("shielded", false, "hide amounts behind commitments")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "from", "to", "amount"); err != nil {
		return err
	}

	tx, index, err := a.Ledger.CreateTransaction(ctx, *from, *to, *amount, *shielded)
	if err != nil {
		return err
	}
	a.Logger.Audit("transaction_created", map[string]any{"tx": tx.ID, "type": tx.Type.String(), "leaf": index})

	fmt.Fprintf(out, "Created transaction: %s\n", tx.ID)
	fmt.Fprintf(out, "Type: %s\n", tx.Type)
	fmt.Fprintf(out, "Amount: %d\n", tx.Amount)
	fmt.Fprintf(out, "Fee: %d\n", tx.Fee)
	fmt.Fprintf(out, "Leaf index: %d\n", index)
	fmt.Fprintln(out, "Transaction saved to persistent storage!")
	return nil
}

func runVerifyTransaction(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("verify-transaction")
	id := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "id"); err != nil {
		return err
	}

	v, err := a.Ledger.VerifyTransaction(ctx, *id)
	if err != nil {
		return err
	}
	if v.Found {
		tx := v.Transaction
		fmt.Fprintf(out, "Transaction %s found in persistent storage\n", *id)
		fmt.Fprintf(out, "From: %s -> To: %s\n", tx.From, tx.To)
		fmt.Fprintf(out, "Amount: %d, Type: %s\n", tx.Amount, tx.Type)
		fmt.Fprintf(out, "Status: %s\n", tx.Status)
		fmt.Fprintf(out, "Timestamp: %s\n", tx.Timestamp.UTC().Format(timestampLayout))
		fmt.Fprintf(out, "Balanced: %t\n", v.Balanced)
		fmt.Fprintf(out, "Proof: %s\n", validity(v.ProofValid))
	} else {
		fmt.Fprintf(out, "Transaction %s not found in persistent storage\n", *id)
		fmt.Fprintln(out, "Checking transaction format only...")
	}
	fmt.Fprintf(out, "Transaction format is %s\n", validity(v.FormatValid))
	return nil
}

func runGenerateProof(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("generate-proof")
	id := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "id"); err != nil {
		return err
	}

	proof, err := a.Ledger.GenerateProof(*id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Generated ZK proof for transaction: %s\n", *id)
	fmt.Fprintf(out, "Proof: %s\n", proof)

	tx, err := a.Ledger.Get(ctx, *id)
	if errors.Is(err, shielderr.ErrTransactionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tx.Type != transaction.Shielded {
		return nil
	}
	spend, err := a.Ledger.SpendProof(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Spend proof: %s\n", spend)
	fmt.Fprintf(out, "Spend proof data: %s\n", spend.ProofData)
	fmt.Fprintf(out, "Spend proof verification: %s\n", validity(spend.Verify()))
	return nil
}

func runDemonstrateCommitment(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("demonstrate-commitment")
	amount := fs.Uint64("amount", 0, "amount to commit to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "amount"); err != nil {
		return err
	}

	engine := a.Ledger.Builder().Commitments()
	commitment, err := engine.Commit(*amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Commitment for amount %d: %s\n", *amount, commitment)

	proof, err := engine.ProveKnowledge(*amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Knowledge proof: %s\n", proof)
	fmt.Fprintf(out, "Proof verification: %s\n", validity(engine.VerifyKnowledge(commitment, proof)))
	return nil
}

func runShowMerkleTree(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if err := newFlagSet("show-merkle-tree").Parse(args); err != nil {
		return err
	}
	snap := a.Ledger.Snapshot()
	txs, err := a.Ledger.List(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Merkle Tree State ===")
	fmt.Fprintf(out, "Merkle Tree Root: %s\n", snap.Root)
	fmt.Fprintf(out, "Tree Height: %d\n", snap.Height)
	fmt.Fprintf(out, "Number of leaves: %d\n", snap.LeafCount)
	fmt.Fprintf(out, "Total transactions stored: %d\n", len(txs))

	if len(txs) > 0 {
		fmt.Fprintln(out, "\n=== Stored Transactions ===")
		for _, tx := range txs {
			fmt.Fprintf(out, "ID: %s\n", tx.ID)
			fmt.Fprintf(out, "  From: %s -> To: %s\n", tx.From, tx.To)
			fmt.Fprintf(out, "  Amount: %d, Type: %s\n", tx.Amount, tx.Type)
			fmt.Fprintf(out, "  Status: %s\n", tx.Status)
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runListTransactions(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if err := newFlagSet("list-transactions").Parse(args); err != nil {
		return err
	}
	txs, err := a.Ledger.List(ctx)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Fprintln(out, "No transactions stored yet.")
		return nil
	}

	fmt.Fprintln(out, "=== All Stored Transactions ===")
	for i, tx := range txs {
		fmt.Fprintf(out, "%d. Transaction ID: %s\n", i+1, tx.ID)
		fmt.Fprintf(out, "   From: %s -> To: %s\n", tx.From, tx.To)
		fmt.Fprintf(out, "   Amount: %d, Type: %s\n", tx.Amount, tx.Type)
		fmt.Fprintf(out, "   Status: %s\n", tx.Status)
		fmt.Fprintf(out, "   Timestamp: %s\n", tx.Timestamp.UTC().Format(timestampLayout))
		fmt.Fprintln(out)
	}
	return nil
}

func runClearStorage(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if err := newFlagSet("clear-storage").Parse(args); err != nil {
		return err
	}
	leaves := a.Ledger.Snapshot().LeafCount
	if err := a.Ledger.Clear(ctx); err != nil {
		return err
	}
	a.Logger.Audit("storage_cleared", map[string]any{"backend": a.Config.StorageBackend, "leaves": leaves})

	fmt.Fprintln(out, "All stored data has been cleared.")
	fmt.Fprintln(out, "Storage files have been reset.")
	return nil
}

func runMerkleProof(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("merkle-proof")
	id := fs.String("id", "", "transaction id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "id"); err != nil {
		return err
	}

	p, err := a.Ledger.InclusionProof(*id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Inclusion proof for transaction: %s\n", p.TransactionID)
	fmt.Fprintf(out, "Leaf index: %d of %d\n", p.LeafIndex, p.LeafCount)
	fmt.Fprintf(out, "Root: %s\n", p.Root)
	for i, sibling := range p.Proof {
		fmt.Fprintf(out, "  [%d] %s\n", i, sibling)
	}
	fmt.Fprintf(out, "Proof verification: %s\n", validity(a.Ledger.VerifyInclusion(p.TransactionID, p.Proof, p.LeafIndex)))
	return nil
}

func runBalanceProof(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("balance-proof")
	in := fs.Uint64("in", 0, "input total")
	outTotal := fs.Uint64("out", 0, "output total")
	fee := fs.Uint64("fee", 0, "fee")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "in", "out"); err != nil {
		return err
	}

	proof, err := a.Ledger.Builder().CreateBalanceProof(*in, *outTotal, *fee)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Balance proof (in=%d, out=%d, fee=%d): %s\n", *in, *outTotal, *fee, proof)
	return nil
}

func runRangeProof(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("range-proof")
	amount := fs.Uint64("amount", 0, "amount to prove")
	lo := fs.Uint64("min", a.Config.RangeMin, "lower bound")
	hi := fs.Uint64("max", a.Config.RangeMax, "upper bound")
	salted := fs.Bool("salted", false, "mix a fresh nonce into the proof")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "amount"); err != nil {
		return err
	}

	var (
		proof string
		err   error
	)
	if *salted {
		proof, err = a.Ledger.Builder().Prover().CreateRangeProof(*amount, *lo, *hi)
	} else {
		proof, err = a.Ledger.Builder().Commitments().CreateRangeProof(*amount, *lo, *hi)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Range proof for %d in [%d, %d]: %s\n", *amount, *lo, *hi, proof)
	return nil
}

func validity(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}
