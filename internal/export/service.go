package export

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avickers/a11ypipe/internal/db"
	"github.com/avickers/a11ypipe/internal/models"
	"github.com/avickers/a11ypipe/internal/queue"
)

// Status is the caller-visible state of an export request.
type Status string

const (
	StatusReady      Status = "ready"
	StatusGenerating Status = "generating"
	StatusFailed     Status = "failed"
)

// Result is the structured response of RequestExport and GetExportStatus.
// Failures the caller can act on (absent subject, failed generation,
// inconsistent records) surface here as StatusFailed with a message, never
// as an error.
type Result struct {
	Status       Status     `json:"status"`
	URL          string     `json:"url,omitempty"`
	ReportID     string     `json:"report_id"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Repository is the slice of the record store the service needs.
// *db.Client satisfies it.
type Repository interface {
	GetReportBySubject(ctx context.Context, subjectID string, format models.ReportFormat) (*models.ReportRecord, error)
	GetReportByID(ctx context.Context, reportID string) (*models.ReportRecord, error)
	CreateReportRecord(ctx context.Context, subjectID string, format models.ReportFormat, reportID string) (*models.ReportRecord, error)
	ReclaimFailedReport(ctx context.Context, subjectID string, format models.ReportFormat, newReportID string) (*models.ReportRecord, error)
	FailReport(ctx context.Context, subjectID string, format models.ReportFormat, reportID, message string) (bool, error)
}

// Enqueuer publishes generation jobs. *queue.Queue satisfies it.
type Enqueuer interface {
	PublishGeneration(ctx context.Context, job queue.GenerationJob) error
}

// URLSigner issues time-limited retrieval URLs. blob.Store satisfies it.
type URLSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error)
}

// Service answers export requests from a cache of report records,
// guaranteeing at most one in-flight generation per (subject, format).
// It never blocks on generation; its only side effect is enqueuing a job.
type Service struct {
	repo       Repository
	jobs       Enqueuer
	signer     URLSigner
	presignTTL time.Duration
	logger     *slog.Logger
}

// NewService assembles the export request service.
func NewService(repo Repository, jobs Enqueuer, signer URLSigner, presignTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       repo,
		jobs:       jobs,
		signer:     signer,
		presignTTL: presignTTL,
		logger:     logger,
	}
}

// RequestExport returns the cached report if ready, reports an in-flight
// generation, or starts exactly one new generation for the pair.
func (s *Service) RequestExport(ctx context.Context, subjectID string, format models.ReportFormat) (Result, error) {
	rec, err := s.repo.GetReportBySubject(ctx, subjectID, format)
	if err != nil {
		return Result{}, wrapErr("lookup record", err)
	}

	if rec == nil {
		return s.startNew(ctx, subjectID, format)
	}

	switch rec.Status {
	case models.ReportFailed:
		return s.reclaimFailed(ctx, subjectID, format)
	default:
		return s.resultFor(ctx, rec)
	}
}

// GetExportStatus maps a record looked up by report id to the same response
// shape, creating nothing. Unknown ids (including ids superseded by a newer
// generation attempt) come back as a failed status, not an error.
func (s *Service) GetExportStatus(ctx context.Context, reportID string) (Result, error) {
	rec, err := s.repo.GetReportByID(ctx, reportID)
	if err != nil {
		return Result{}, wrapErr("lookup record", err)
	}
	if rec == nil {
		return Result{
			Status:       StatusFailed,
			ReportID:     reportID,
			ErrorMessage: "Report not found",
		}, nil
	}
	return s.resultFor(ctx, rec)
}

// startNew claims the (subject, format) pair with an atomic create. Losing
// the create race means a concurrent identical request won; the loser
// re-reads and reports that generation instead of enqueuing a second job.
func (s *Service) startNew(ctx context.Context, subjectID string, format models.ReportFormat) (Result, error) {
	reportID := uuid.New().String()

	rec, err := s.repo.CreateReportRecord(ctx, subjectID, format, reportID)
	if errors.Is(err, db.ErrAlreadyExists) {
		existing, lookupErr := s.repo.GetReportBySubject(ctx, subjectID, format)
		if lookupErr != nil {
			return Result{}, wrapErr("lookup record", lookupErr)
		}
		if existing == nil {
			// Created and failed-reclaimed away between our two reads;
			// report generating and let the caller poll.
			return Result{Status: StatusGenerating, ReportID: reportID}, nil
		}
		return s.resultFor(ctx, existing)
	}
	if err != nil {
		return Result{}, wrapErr("create record", err)
	}

	return s.enqueue(ctx, rec)
}

// reclaimFailed transitions failed -> pending for a fresh attempt. The
// conditional update admits exactly one winner under concurrency.
func (s *Service) reclaimFailed(ctx context.Context, subjectID string, format models.ReportFormat) (Result, error) {
	reportID := uuid.New().String()

	rec, err := s.repo.ReclaimFailedReport(ctx, subjectID, format, reportID)
	if err != nil {
		return Result{}, wrapErr("reclaim record", err)
	}
	if rec == nil {
		// Lost the reclaim race; whoever won enqueued the job.
		existing, lookupErr := s.repo.GetReportBySubject(ctx, subjectID, format)
		if lookupErr != nil {
			return Result{}, wrapErr("lookup record", lookupErr)
		}
		if existing == nil {
			return Result{
				Status:       StatusFailed,
				ReportID:     reportID,
				ErrorMessage: "Report not found",
			}, nil
		}
		return s.resultFor(ctx, existing)
	}

	return s.enqueue(ctx, rec)
}

func (s *Service) enqueue(ctx context.Context, rec *models.ReportRecord) (Result, error) {
	job := queue.GenerationJob{
		SubjectID: rec.SubjectID,
		Format:    rec.Format,
		ReportID:  rec.ReportID,
	}
	if err := s.jobs.PublishGeneration(ctx, job); err != nil {
		// The pending record would otherwise block future requests forever;
		// fail it so the next request can start over.
		if _, failErr := s.repo.FailReport(ctx, rec.SubjectID, rec.Format, rec.ReportID, "failed to enqueue generation job"); failErr != nil {
			s.logger.Error("failed to fail report after enqueue error",
				"subject_id", rec.SubjectID, "format", rec.Format, "error", failErr)
		}
		return Result{}, wrapErr("enqueue generation", err)
	}

	s.logger.Info("generation started",
		"subject_id", rec.SubjectID, "format", rec.Format, "report_id", rec.ReportID)
	return Result{Status: StatusGenerating, ReportID: rec.ReportID}, nil
}

// resultFor maps a record's status to the response shape.
func (s *Service) resultFor(ctx context.Context, rec *models.ReportRecord) (Result, error) {
	switch rec.Status {
	case models.ReportPending, models.ReportGenerating:
		return Result{Status: StatusGenerating, ReportID: rec.ReportID}, nil

	case models.ReportCompleted:
		if rec.StorageKey == nil || *rec.StorageKey == "" {
			// A completed record without a file is an anomaly worth its own
			// log line; it is reported, never silently repaired.
			s.logger.Error("completed report has no storage key",
				"subject_id", rec.SubjectID, "format", rec.Format, "report_id", rec.ReportID)
			return Result{
				Status:       StatusFailed,
				ReportID:     rec.ReportID,
				ErrorMessage: "Report completed but file not found",
			}, nil
		}
		url, expiresAt, err := s.signer.PresignGet(ctx, *rec.StorageKey, s.presignTTL)
		if err != nil {
			return Result{}, wrapErr("presign url", err)
		}
		return Result{
			Status:    StatusReady,
			URL:       url,
			ReportID:  rec.ReportID,
			ExpiresAt: &expiresAt,
		}, nil

	case models.ReportFailed:
		msg := "Report generation failed"
		if rec.Error != nil && *rec.Error != "" {
			msg = *rec.Error
		}
		return Result{
			Status:       StatusFailed,
			ReportID:     rec.ReportID,
			ErrorMessage: msg,
		}, nil

	default:
		return Result{
			Status:       StatusFailed,
			ReportID:     rec.ReportID,
			ErrorMessage: "Unknown report status",
		}, nil
	}
}
