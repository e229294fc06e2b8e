package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <report-id>",
	Short: "Check the status of a report export",
	Long: `Look up a previously requested export by its report ID.

Examples:
  a11ypipe status 7c3f1c9e-2f6d-4f0a-9f0e-1a2b3c4d5e6f`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	svc, cleanup, err := buildExportService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.GetExportStatus(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get export status: %w", err)
	}

	printExportResult(res)
	return nil
}
