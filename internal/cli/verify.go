package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avickers/a11ypipe/internal/checkpoint"
	"github.com/avickers/a11ypipe/internal/models"
	"github.com/avickers/a11ypipe/internal/verify"
)

var verifyPlain bool

var verifyCmd = &cobra.Command{
	Use:   "verify <scan-id>",
	Short: "Run AI batch verification for a scan",
	Long: `Verify the scan's WCAG criteria in checkpointed sub-batches.

Progress survives interruption: a re-run resumes from the last committed
sub-batch instead of re-verifying (and re-billing) completed work.

Examples:
  a11ypipe verify scan_9f3a
  a11ypipe verify scan_9f3a --plain`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyPlain, "plain", false, "disable the interactive progress display")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	scanID := args[0]

	scan, err := dbClient.GetScan(ctx, scanID)
	if err != nil {
		return fmt.Errorf("load scan: %w", err)
	}
	if scan == nil {
		return fmt.Errorf("scan not found: %s", scanID)
	}

	store, err := checkpoint.NewStore(cfg.CheckpointDir, nil)
	if err != nil {
		return err
	}

	verifier, err := verify.NewVerifier(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init verifier: %w", err)
	}

	processor := verify.NewProcessor(store, verifier, dbClient, cfg.BatchSize, nil, nil)
	run := func(ctx context.Context) (*models.CoverageSummary, error) {
		return processor.Run(ctx, scanID, scan.URL, scan.Level)
	}

	if verifyPlain {
		summary, err := run(ctx)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	}

	summary, err := RunVerifyProgress(store, scanID, run)
	if err != nil {
		return err
	}
	_ = summary // the progress UI already rendered the final view
	return nil
}

func printSummary(s *models.CoverageSummary) {
	fmt.Printf("Criteria checked: %d\n", s.CriteriaChecked)
	fmt.Printf("Passed:           %d\n", s.Passed)
	fmt.Printf("Failed:           %d\n", s.Failed)
	fmt.Printf("Inapplicable:     %d\n", s.Inapplicable)
	fmt.Printf("Tokens used:      %d\n", s.TokensUsed)
	if s.Model != "" {
		fmt.Printf("Model:            %s\n", s.Model)
	}
}
