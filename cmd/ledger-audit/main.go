// ledger-audit replays archived ledger snapshots and reports every
// chain-integrity violation it finds. It reads the same LevelDB archive the
// daemon writes, so audits run offline against a copy of the data directory.
package main

import (
	"flag"
	"fmt"
	"os"

	"creditprotocol/archive"
	"creditprotocol/ledger"
	"creditprotocol/storage"
)

func main() {
	dataDir := flag.String("data", "./credit-data", "Path to the archive database")
	first := flag.Uint64("first", 0, "First block of the snapshot to audit")
	last := flag.Uint64("last", 0, "Last block of the snapshot to audit (0 = latest snapshot)")
	list := flag.Bool("list", false, "List archived snapshots and exit")
	flag.Parse()

	if err := run(*dataDir, *first, *last, *list); err != nil {
		fmt.Fprintln(os.Stderr, "ledger-audit:", err)
		os.Exit(1)
	}
}

func run(dataDir string, first, last uint64, list bool) error {
	db, err := storage.NewLevelDB(dataDir)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = db.Close() }()
	arch := archive.New(db)

	if list {
		refs, err := arch.List()
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Println("no snapshots archived")
			return nil
		}
		for _, ref := range refs {
			fmt.Printf("blocks %d-%d\n", ref.FirstBlock, ref.LastBlock)
		}
		return nil
	}

	var snap *ledger.Snapshot
	if last == 0 && first == 0 {
		snap, err = arch.Latest()
	} else {
		snap, err = arch.Load(first, last)
	}
	if err != nil {
		return err
	}

	ok, violations := ledger.VerifySnapshot(snap)
	fmt.Printf("snapshot blocks %d-%d, %d sealed blocks, %d pending events\n",
		snap.FirstBlock, snap.LastBlock, len(snap.Blocks), len(snap.Pending))
	if ok {
		fmt.Println("chain integrity: OK")
		return nil
	}
	fmt.Printf("chain integrity: %d violation(s)\n", len(violations))
	for _, violation := range violations {
		fmt.Println("  -", violation.String())
	}
	return fmt.Errorf("%d violation(s) found", len(violations))
}
