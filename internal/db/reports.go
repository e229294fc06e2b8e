// Package db provides SurrealDB query functions for pipeline records.
package db

import (
	"context"
	"fmt"

	"github.com/avickers/a11ypipe/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateReportRecord atomically claims the (subject, format) pair by creating
// the report record under its deterministic ID with status 'pending'.
// Returns ErrAlreadyExists (wrapped) when a concurrent request won the race
// or a live record already exists.
func (c *Client) CreateReportRecord(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
	reportID string,
) (*models.ReportRecord, error) {
	results, err := surrealdb.Query[[]models.ReportRecord](ctx, c.db, `
		CREATE type::record("report", $id) SET
			report_id = $report_id,
			subject_id = $subject_id,
			format = $format,
			status = 'pending'
	`, map[string]any{
		"id":         models.ReportRecordID(subjectID, format),
		"report_id":  reportID,
		"subject_id": subjectID,
		"format":     string(format),
	})
	if err != nil {
		return nil, fmt.Errorf("create report record: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create report record: empty result")
	}
	return &(*results)[0].Result[0], nil
}

// GetReportBySubject retrieves the report record for a (subject, format) pair.
// Returns nil if not found.
func (c *Client) GetReportBySubject(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
) (*models.ReportRecord, error) {
	results, err := surrealdb.Query[[]models.ReportRecord](ctx, c.db, `
		SELECT * FROM type::record("report", $id)
	`, map[string]any{"id": models.ReportRecordID(subjectID, format)})

	if err != nil {
		return nil, fmt.Errorf("get report by subject: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// GetReportByID retrieves a report record by its user-facing report_id.
// Returns nil if not found (including ids superseded by a later generation).
func (c *Client) GetReportByID(ctx context.Context, reportID string) (*models.ReportRecord, error) {
	results, err := surrealdb.Query[[]models.ReportRecord](ctx, c.db, `
		SELECT * FROM report WHERE report_id = $report_id LIMIT 1
	`, map[string]any{"report_id": reportID})

	if err != nil {
		return nil, fmt.Errorf("get report by id: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ReclaimFailedReport transitions a failed record back to pending for a new
// generation attempt. The WHERE clause makes the transition conditional, so
// under concurrent identical requests exactly one caller gets the record
// back; losers receive nil and should re-read.
func (c *Client) ReclaimFailedReport(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
	newReportID string,
) (*models.ReportRecord, error) {
	results, err := surrealdb.Query[[]models.ReportRecord](ctx, c.db, `
		UPDATE type::record("report", $id) SET
			report_id = $report_id,
			status = 'pending',
			storage_key = NONE,
			error = NONE,
			updated = time::now()
		WHERE status = 'failed'
		RETURN AFTER
	`, map[string]any{
		"id":        models.ReportRecordID(subjectID, format),
		"report_id": newReportID,
	})
	if err != nil {
		return nil, fmt.Errorf("reclaim failed report: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ClaimReportGenerating transitions pending -> generating for the given
// generation attempt. Returns false if the record is not in the expected
// state (e.g. the attempt was superseded), in which case the worker must
// drop the job.
func (c *Client) ClaimReportGenerating(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
	reportID string,
) (bool, error) {
	return c.transitionReport(ctx, subjectID, format, reportID, `
		UPDATE type::record("report", $id) SET
			status = 'generating',
			updated = time::now()
		WHERE status = 'pending' AND report_id = $report_id
		RETURN AFTER
	`, nil)
}

// CompleteReport transitions generating -> completed with the storage key.
// The transition happens at most once per generation attempt.
func (c *Client) CompleteReport(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
	reportID string,
	storageKey string,
) (bool, error) {
	return c.transitionReport(ctx, subjectID, format, reportID, `
		UPDATE type::record("report", $id) SET
			status = 'completed',
			storage_key = $storage_key,
			error = NONE,
			updated = time::now()
		WHERE status IN ['pending', 'generating'] AND report_id = $report_id
		RETURN AFTER
	`, map[string]any{"storage_key": storageKey})
}

// FailReport transitions a non-terminal record to failed with a message.
func (c *Client) FailReport(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
	reportID string,
	message string,
) (bool, error) {
	return c.transitionReport(ctx, subjectID, format, reportID, `
		UPDATE type::record("report", $id) SET
			status = 'failed',
			error = $error,
			updated = time::now()
		WHERE status IN ['pending', 'generating'] AND report_id = $report_id
		RETURN AFTER
	`, map[string]any{"error": message})
}

func (c *Client) transitionReport(
	ctx context.Context,
	subjectID string,
	format models.ReportFormat,
	reportID string,
	sql string,
	extra map[string]any,
) (bool, error) {
	vars := map[string]any{
		"id":        models.ReportRecordID(subjectID, format),
		"report_id": reportID,
	}
	for k, v := range extra {
		vars[k] = v
	}

	results, err := surrealdb.Query[[]models.ReportRecord](ctx, c.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("transition report: %w", wrapQueryError(err))
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}
