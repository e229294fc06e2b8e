package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/avickers/a11ypipe/internal/models"
	"github.com/avickers/a11ypipe/internal/queue"
)

// ScanSource lists scans that still need a verification run.
// *db.Client satisfies it.
type ScanSource interface {
	ListScansAwaitingVerification(ctx context.Context, limit int) ([]models.Scan, error)
}

// Runner drives one scan's verification end to end. *Processor satisfies it.
type Runner interface {
	Run(ctx context.Context, scanID string, subjectURL string, level models.ConformanceLevel) (*models.CoverageSummary, error)
}

// Notifier enqueues the completion notification once coverage is stored.
// *queue.Queue satisfies it.
type Notifier interface {
	PublishNotification(ctx context.Context, job queue.NotificationJob) error
}

// Orchestrator polls for completed scans that lack a coverage summary and
// runs verification for each. Scans within one sweep run sequentially;
// a scan that fails mid-run keeps its checkpoint and is picked up again on
// a later sweep, resuming instead of restarting.
type Orchestrator struct {
	scans     ScanSource
	runner    Runner
	notifier  Notifier
	interval  time.Duration
	sweepSize int
	logger    *slog.Logger
}

// NewOrchestrator assembles the verification orchestrator.
func NewOrchestrator(scans ScanSource, runner Runner, notifier Notifier, interval time.Duration, logger *slog.Logger) *Orchestrator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		scans:     scans,
		runner:    runner,
		notifier:  notifier,
		interval:  interval,
		sweepSize: 10,
		logger:    logger,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Sweep(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Sweep(ctx)
		}
	}
}

// Sweep verifies every scan currently awaiting a coverage summary.
func (o *Orchestrator) Sweep(ctx context.Context) {
	scans, err := o.scans.ListScansAwaitingVerification(ctx, o.sweepSize)
	if err != nil {
		o.logger.Error("failed to list scans awaiting verification", "error", err)
		return
	}

	for _, scan := range scans {
		if ctx.Err() != nil {
			return
		}
		o.verifyScan(ctx, scan)
	}
}

func (o *Orchestrator) verifyScan(ctx context.Context, scan models.Scan) {
	scanID, err := models.RecordIDString(scan.ID)
	if err != nil {
		o.logger.Error("scan with non-string id, skipping", "id", scan.ID, "error", err)
		return
	}

	o.logger.Info("starting verification", "scan_id", scanID, "url", scan.URL, "level", scan.Level)

	summary, err := o.runner.Run(ctx, scanID, scan.URL, scan.Level)
	if err != nil {
		// The checkpoint holds whatever committed; the next sweep resumes.
		o.logger.Error("verification run failed", "scan_id", scanID, "error", err)
		return
	}

	o.logger.Info("verification complete",
		"scan_id", scanID, "criteria", summary.CriteriaChecked, "tokens", summary.TokensUsed)

	if scan.NotifyEmail == nil || *scan.NotifyEmail == "" {
		return
	}
	job := queue.NotificationJob{
		SubjectID: scanID,
		Recipient: *scan.NotifyEmail,
		Kind:      "scan_complete",
	}
	if err := o.notifier.PublishNotification(ctx, job); err != nil {
		o.logger.Error("failed to enqueue completion notification",
			"scan_id", scanID, "error", err)
	}
}
