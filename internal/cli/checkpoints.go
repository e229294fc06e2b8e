package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avickers/a11ypipe/internal/checkpoint"
)

var checkpointsClear bool

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints [scan-id]",
	Short: "List or inspect verification checkpoints",
	Long: `List in-progress verification checkpoints or inspect one by scan ID.

Examples:
  a11ypipe checkpoints                # List all checkpoints
  a11ypipe checkpoints scan_9f3a      # Show details for one scan
  a11ypipe checkpoints scan_9f3a --clear`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckpoints,
}

func init() {
	checkpointsCmd.Flags().BoolVar(&checkpointsClear, "clear", false, "remove the checkpoint (its progress is lost)")
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	store, err := checkpoint.NewStore(cfg.CheckpointDir, nil)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if checkpointsClear {
			if err := store.Clear(args[0]); err != nil {
				return fmt.Errorf("clear checkpoint: %w", err)
			}
			fmt.Printf("Checkpoint for %s cleared\n", args[0])
			return nil
		}
		return showCheckpoint(store, args[0])
	}

	return listCheckpoints(store)
}

func listCheckpoints(store *checkpoint.Store) error {
	scanIDs, err := store.List()
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}

	if len(scanIDs) == 0 {
		fmt.Println("No checkpoints found")
		return nil
	}

	fmt.Printf("%-24s %-12s %-10s %s\n", "SCAN", "PROGRESS", "TOKENS", "UPDATED")
	fmt.Println("------------------------------------------------------------------")

	for _, scanID := range scanIDs {
		cp, err := store.Get(scanID)
		if err != nil || cp == nil {
			continue
		}
		progress := fmt.Sprintf("%d/%d", len(cp.CompletedBatches), cp.TotalBatches)
		fmt.Printf("%-24s %-12s %-10d %s\n", cp.ScanID, progress, cp.TokensUsed, cp.UpdatedAt.Format("15:04:05"))
	}

	return nil
}

func showCheckpoint(store *checkpoint.Store, scanID string) error {
	cp, err := store.Get(scanID)
	if err != nil {
		return fmt.Errorf("get checkpoint: %w", err)
	}
	if cp == nil {
		return fmt.Errorf("no checkpoint for scan: %s", scanID)
	}

	fmt.Printf("Scan: %s\n", cp.ScanID)
	fmt.Printf("  URL: %s\n", cp.SubjectURL)
	fmt.Printf("  Level: WCAG %s\n", cp.Level)
	fmt.Printf("  Progress: %d/%d batches\n", len(cp.CompletedBatches), cp.TotalBatches)
	fmt.Printf("  Remaining: %v\n", cp.IncompleteBatches())
	fmt.Printf("  Partial results: %d\n", len(cp.PartialResults))
	if verbose {
		for _, r := range cp.PartialResults {
			fmt.Printf("    %-12s %s\n", r.Criterion, r.Verdict)
		}
	}
	fmt.Printf("  Tokens used: %d\n", cp.TokensUsed)
	fmt.Printf("  Started: %s\n", cp.StartedAt.Format(time.RFC3339))
	fmt.Printf("  Updated: %s\n", cp.UpdatedAt.Format(time.RFC3339))

	if cp.FinalizationComplete {
		fmt.Println("  Finalization: complete")
		if r := cp.FinalizationResult; r != nil {
			fmt.Printf("    Passed: %d, Failed: %d, Inapplicable: %d\n", r.Passed, r.Failed, r.Inapplicable)
		}
	}

	return nil
}
