package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"shielded/internal/app"
	"shielded/internal/config"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// command is one subcommand. It receives the opened app and its own arguments.
type command struct {
	usage string
	run   func(ctx context.Context, a *app.App, args []string, out io.Writer) error
}

var commands = map[string]command{
	"create-transaction":     {"-from <addr> -to <addr> -amount <n> [-shielded]", runCreateTransaction},
	"verify-transaction":     {"-id <transaction id>", runVerifyTransaction},
	"generate-proof":         {"-id <transaction id>", runGenerateProof},
	"demonstrate-commitment": {"-amount <n>", runDemonstrateCommitment},
	"show-merkle-tree":       {"", runShowMerkleTree},
	"list-transactions":      {"", runListTransactions},
	"clear-storage":          {"", runClearStorage},
	"merkle-proof":           {"-id <transaction id>", runMerkleProof},
	"balance-proof":          {"-in <n> -out <n> -fee <n>", runBalanceProof},
	"range-proof":            {"-amount <n> [-min <n>] [-max <n>] [-salted]", runRangeProof},
}

func run(args []string, stdout, stderr io.Writer) int {
	name := "shielded"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
		args = args[1:]
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.json", "path to the JSON config file")
	envFile := fs.String("env", ".env", "optional .env file with SHIELDED_* overrides")
	fs.Usage = func() { usage(stderr, name) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		usage(stderr, name)
		return 1
	}

	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", fs.Arg(0))
		usage(stderr, name)
		return 1
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, app.Options{Console: false})
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	defer a.Close()

	if err := cmd.run(ctx, a, fs.Args()[1:], stdout); err != nil {
		a.Logger.Error().Err(err).Str("command", fs.Arg(0)).Msg("command failed")
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func usage(w io.Writer, name string) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "usage: %s [-config <file>] [-env <file>] <command> [flags]\n\ncommands:\n", name)
	for _, n := range names {
		fmt.Fprintf(w, "  %s %s\n", n, commands[n].usage)
	}
}

// newFlagSet returns a subcommand flag set that reports to stderr only through the
// returned parse error.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// requireFlags fails unless every named flag was given on the command line.
func requireFlags(fs *flag.FlagSet, names ...string) error {
	seen := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	for _, n := range names {
		if !seen[n] {
			return fmt.Errorf("%s requires -%s", fs.Name(), n)
		}
	}
	return nil
}
