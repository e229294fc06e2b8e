package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avickers/a11ypipe/internal/blob"
	"github.com/avickers/a11ypipe/internal/db"
	"github.com/avickers/a11ypipe/internal/metrics"
	"github.com/avickers/a11ypipe/internal/queue"
)

// Generator is the background worker that drives a report record from
// pending to its terminal state. Each generation job gets one delivery;
// every failure becomes the record's single FAILED transition, so a
// re-requested export starts a fresh attempt instead of replaying blindly.
type Generator struct {
	db        *db.Client
	blobs     blob.Store
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewGenerator assembles the generation worker.
func NewGenerator(dbClient *db.Client, blobs blob.Store, collector *metrics.Collector, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{db: dbClient, blobs: blobs, collector: collector, logger: logger}
}

// Handle processes one generation job delivery. It satisfies queue.Handler.
func (g *Generator) Handle(ctx context.Context, data []byte, attempt int, final bool) error {
	var job queue.GenerationJob
	if err := json.Unmarshal(data, &job); err != nil {
		// Malformed payloads are never retried.
		g.logger.Error("dropping malformed generation job", "error", err)
		return nil
	}
	if job.SubjectID == "" || job.ReportID == "" {
		g.logger.Error("dropping generation job with missing fields", "job", string(data))
		return nil
	}

	start := time.Now()
	err := g.generate(ctx, job)
	if g.collector != nil {
		g.collector.RecordTiming(metrics.OpExportGenerate, time.Since(start))
	}
	if err != nil {
		g.fail(ctx, job, err)
	}
	// The terminal transition already happened either way; ack the message.
	return nil
}

func (g *Generator) generate(ctx context.Context, job queue.GenerationJob) error {
	claimed, err := g.db.ClaimReportGenerating(ctx, job.SubjectID, job.Format, job.ReportID)
	if err != nil {
		return fmt.Errorf("claim record: %w", err)
	}
	if !claimed {
		// Superseded by a newer attempt or already terminal; nothing to do.
		g.logger.Info("generation job superseded, dropping",
			"subject_id", job.SubjectID, "format", job.Format, "report_id", job.ReportID)
		return nil
	}

	scan, err := g.db.GetScan(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("load subject: %w", err)
	}
	if scan == nil {
		return fmt.Errorf("subject %s not found", job.SubjectID)
	}

	data, contentType, err := Render(job.Format, job.SubjectID, scan)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("reports/%s/report.%s", job.SubjectID, job.Format.Ext())
	if err := g.blobs.Put(ctx, key, contentType, data); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}

	done, err := g.db.CompleteReport(ctx, job.SubjectID, job.Format, job.ReportID, key)
	if err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	if !done {
		g.logger.Warn("report attempt superseded after upload",
			"subject_id", job.SubjectID, "format", job.Format, "report_id", job.ReportID)
		return nil
	}

	g.logger.Info("report generated",
		"subject_id", job.SubjectID, "format", job.Format, "key", key, "bytes", len(data))
	return nil
}

// fail records the terminal FAILED transition. Best effort: if the store is
// down too, the record stays non-terminal and the operator sees both log
// lines.
func (g *Generator) fail(ctx context.Context, job queue.GenerationJob, cause error) {
	g.logger.Error("report generation failed",
		"subject_id", job.SubjectID, "format", job.Format, "report_id", job.ReportID, "error", cause)

	if _, err := g.db.FailReport(ctx, job.SubjectID, job.Format, job.ReportID, cause.Error()); err != nil {
		g.logger.Error("failed to record generation failure",
			"subject_id", job.SubjectID, "format", job.Format, "error", err)
	}
}
