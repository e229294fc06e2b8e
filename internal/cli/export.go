package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avickers/a11ypipe/internal/blob"
	"github.com/avickers/a11ypipe/internal/export"
	"github.com/avickers/a11ypipe/internal/models"
	"github.com/avickers/a11ypipe/internal/queue"
)

var (
	exportFormat string
	exportWait   bool
)

var exportCmd = &cobra.Command{
	Use:   "export <subject-id>",
	Short: "Request a report export",
	Long: `Request a report export for a scan. If a report for the
(subject, format) pair is already cached, its download URL is returned
immediately; otherwise a generation job is enqueued.

Examples:
  a11ypipe export scan_9f3a --format pdf
  a11ypipe export scan_9f3a --format csv --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "pdf", "report format (pdf, json, csv)")
	exportCmd.Flags().BoolVarP(&exportWait, "wait", "w", false, "poll until the report is ready or failed")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	subjectID := args[0]

	format, err := models.ParseReportFormat(exportFormat)
	if err != nil {
		return err
	}

	svc, cleanup, err := buildExportService(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := svc.RequestExport(ctx, subjectID, format)
	if err != nil {
		return fmt.Errorf("request export: %w", err)
	}

	if exportWait && res.Status == export.StatusGenerating {
		res, err = pollUntilTerminal(ctx, svc, res.ReportID)
		if err != nil {
			return err
		}
	}

	printExportResult(res)
	return nil
}

// buildExportService wires the request service against the shared db client,
// the job queue and the report blob store.
func buildExportService(ctx context.Context) (*export.Service, func(), error) {
	q, err := queue.Connect(cfg.NATSURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to queue: %w", err)
	}

	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		q.Close()
		return nil, nil, fmt.Errorf("connect to blob store: %w", err)
	}

	svc := export.NewService(dbClient, q, blobs, cfg.PresignTTL, nil)
	return svc, q.Close, nil
}

func pollUntilTerminal(ctx context.Context, svc *export.Service, reportID string) (export.Result, error) {
	fmt.Printf("Generating (report %s)", reportID)
	for {
		time.Sleep(2 * time.Second)
		fmt.Print(".")

		res, err := svc.GetExportStatus(ctx, reportID)
		if err != nil {
			fmt.Println()
			return export.Result{}, fmt.Errorf("poll export status: %w", err)
		}
		if res.Status != export.StatusGenerating {
			fmt.Println()
			return res, nil
		}
	}
}

func printExportResult(res export.Result) {
	fmt.Printf("Status:    %s\n", res.Status)
	fmt.Printf("Report ID: %s\n", res.ReportID)
	switch res.Status {
	case export.StatusReady:
		fmt.Printf("URL:       %s\n", res.URL)
		if res.ExpiresAt != nil {
			fmt.Printf("Expires:   %s\n", res.ExpiresAt.Format(time.RFC3339))
		}
	case export.StatusFailed:
		fmt.Printf("Error:     %s\n", res.ErrorMessage)
	case export.StatusGenerating:
		fmt.Printf("Poll with: a11ypipe status %s\n", res.ReportID)
	}
}
