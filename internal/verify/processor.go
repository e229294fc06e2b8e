package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avickers/a11ypipe/internal/checkpoint"
	"github.com/avickers/a11ypipe/internal/metrics"
	"github.com/avickers/a11ypipe/internal/models"
)

// BatchVerifier is the AI surface the processor drives. *Verifier
// satisfies it.
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, subjectURL string, level models.ConformanceLevel, criteria []Criterion) ([]models.CriterionResult, Usage, error)
	Model() string
}

// Recorder is the slice of the record store the processor writes to.
// *db.Client satisfies it.
type Recorder interface {
	SaveCoverage(ctx context.Context, scanID string, summary models.CoverageSummary) error
	RecordTokenUsage(ctx context.Context, scanID, operation, model string, inputTokens, outputTokens int) error
}

// Processor runs batch verification for one scan at a time, checkpointing
// after every sub-batch. Sub-batches of a scan run sequentially so each
// commit observes the previous one; different scans can run on different
// workers, each owning its own checkpoint.
type Processor struct {
	checkpoints *checkpoint.Store
	verifier    BatchVerifier
	recorder    Recorder
	batchSize   int
	collector   *metrics.Collector
	logger      *slog.Logger
}

// NewProcessor assembles the verification processor.
func NewProcessor(
	checkpoints *checkpoint.Store,
	verifier BatchVerifier,
	recorder Recorder,
	batchSize int,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		checkpoints: checkpoints,
		verifier:    verifier,
		recorder:    recorder,
		batchSize:   batchSize,
		collector:   collector,
		logger:      logger,
	}
}

// Run verifies all criteria for the scan, resuming from the persisted
// checkpoint if one exists. On success the coverage summary is stored on
// the scan and the checkpoint is cleared. A failure leaves the checkpoint
// in place; the next Run picks up from the last committed sub-batch.
func (p *Processor) Run(ctx context.Context, scanID string, subjectURL string, level models.ConformanceLevel) (*models.CoverageSummary, error) {
	criteria := CriteriaForLevel(level)
	batches := SubBatches(criteria, p.batchSize)
	if len(batches) == 0 {
		return nil, fmt.Errorf("no criteria for level %q", level)
	}

	cp, err := p.checkpoints.Get(scanID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		cp, err = p.checkpoints.Init(scanID, subjectURL, level, len(batches))
		if err != nil {
			return nil, fmt.Errorf("init checkpoint: %w", err)
		}
	} else {
		p.logger.Info("resuming verification from checkpoint",
			"scan_id", scanID,
			"completed_batches", len(cp.CompletedBatches),
			"total_batches", cp.TotalBatches,
			"tokens_used", cp.TokensUsed)
	}

	if cp.TotalBatches != len(batches) {
		// The criteria catalog or batch size changed under a half-done scan.
		// Trusting the old indices would misalign results; start over.
		p.logger.Warn("checkpoint batch layout does not match current criteria, restarting",
			"scan_id", scanID, "checkpoint_batches", cp.TotalBatches, "current_batches", len(batches))
		cp, err = p.checkpoints.Init(scanID, subjectURL, level, len(batches))
		if err != nil {
			return nil, fmt.Errorf("reinit checkpoint: %w", err)
		}
	}

	for _, idx := range cp.IncompleteBatches() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cp, err = p.runBatch(ctx, cp, batches[idx], idx)
		if err != nil {
			return nil, err
		}
	}

	return p.finalize(ctx, cp)
}

func (p *Processor) runBatch(ctx context.Context, cp *checkpoint.Checkpoint, batch []Criterion, idx int) (*checkpoint.Checkpoint, error) {
	start := time.Now()
	results, usage, err := p.verifier.VerifyBatch(ctx, cp.SubjectURL, cp.Level, batch)
	if p.collector != nil {
		p.collector.RecordLLMUsage(metrics.OpVerifyBatch, time.Since(start),
			int64(usage.InputTokens), int64(usage.OutputTokens))
	}
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", idx, err)
	}

	if err := p.recorder.RecordTokenUsage(ctx, cp.ScanID, "verify_batch", p.verifier.Model(),
		usage.InputTokens, usage.OutputTokens); err != nil {
		// The checkpoint's accumulator is authoritative for the scan total;
		// a lost monitoring row is not worth re-running the batch.
		p.logger.Error("failed to record token usage",
			"scan_id", cp.ScanID, "batch", idx, "error", err)
	}

	updated, err := p.checkpoints.MarkBatchComplete(cp.ScanID, idx, results, usage.Total())
	if err != nil {
		return nil, fmt.Errorf("commit batch %d: %w", idx, err)
	}

	p.logger.Info("verification batch complete",
		"scan_id", cp.ScanID,
		"batch", idx,
		"criteria", len(batch),
		"tokens", usage.Total(),
		"progress", fmt.Sprintf("%d/%d", len(updated.CompletedBatches), updated.TotalBatches))
	return updated, nil
}

// finalize aggregates the partial results into a coverage summary, commits
// it to the checkpoint, stores it on the scan and clears the checkpoint.
// Each step is idempotent, so a crash between them resumes cleanly.
func (p *Processor) finalize(ctx context.Context, cp *checkpoint.Checkpoint) (*models.CoverageSummary, error) {
	var summary models.CoverageSummary

	if cp.FinalizationComplete && cp.FinalizationResult != nil {
		summary = *cp.FinalizationResult
	} else {
		summary = aggregate(cp, p.verifier.Model())
		updated, err := p.checkpoints.MarkFinalizationComplete(cp.ScanID, summary, 0)
		if err != nil {
			return nil, fmt.Errorf("commit finalization: %w", err)
		}
		cp = updated
	}

	if err := p.recorder.SaveCoverage(ctx, cp.ScanID, summary); err != nil {
		return nil, fmt.Errorf("save coverage: %w", err)
	}

	if err := p.checkpoints.Clear(cp.ScanID); err != nil {
		return nil, fmt.Errorf("clear checkpoint: %w", err)
	}

	p.logger.Info("verification finalized",
		"scan_id", cp.ScanID,
		"criteria_checked", summary.CriteriaChecked,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"tokens_used", summary.TokensUsed)
	return &summary, nil
}

func aggregate(cp *checkpoint.Checkpoint, model string) models.CoverageSummary {
	summary := models.CoverageSummary{
		CriteriaChecked: len(cp.PartialResults),
		TokensUsed:      cp.TokensUsed,
		Model:           model,
		CompletedAt:     time.Now().UTC(),
	}
	for _, r := range cp.PartialResults {
		switch r.Verdict {
		case models.VerdictPass:
			summary.Passed++
		case models.VerdictFail:
			summary.Failed++
		case models.VerdictInapplicable:
			summary.Inapplicable++
		}
	}
	return summary
}
