package db

import (
	"context"
	"fmt"
	"time"

	"github.com/avickers/a11ypipe/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// GetScan retrieves a scan record by ID.
// Returns nil if not found.
func (c *Client) GetScan(ctx context.Context, scanID string) (*models.Scan, error) {
	results, err := surrealdb.Query[[]models.Scan](ctx, c.db, `
		SELECT * FROM type::record("scan", $id)
	`, map[string]any{"id": scanID})

	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ListScansAwaitingVerification returns completed scans that have no
// coverage summary yet, oldest first. The orchestrator polls this to find
// work; a scan leaves the result set once SaveCoverage lands.
func (c *Client) ListScansAwaitingVerification(ctx context.Context, limit int) ([]models.Scan, error) {
	results, err := surrealdb.Query[[]models.Scan](ctx, c.db, `
		SELECT * FROM scan
		WHERE status = 'completed' AND coverage = NONE
		ORDER BY finished ASC
		LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list scans awaiting verification: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// SaveCoverage stores the finalized verification summary on the scan record.
func (c *Client) SaveCoverage(ctx context.Context, scanID string, summary models.CoverageSummary) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("scan", $id) SET coverage = $coverage
	`, map[string]any{"id": scanID, "coverage": summary})
	if err != nil {
		return fmt.Errorf("save coverage: %w", wrapQueryError(err))
	}
	return nil
}

// ClearNotifyEmail nulls the stored recipient address on a scan.
// Setting an already-absent field to NONE is a no-op, so replays after a
// terminal notification outcome are safe.
func (c *Client) ClearNotifyEmail(ctx context.Context, scanID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("scan", $id) SET notify_email = NONE
	`, map[string]any{"id": scanID})
	if err != nil {
		return fmt.Errorf("clear notify email: %w", wrapQueryError(err))
	}
	return nil
}

// RecordNotificationOutcome appends a terminal outcome row to the
// notification log.
func (c *Client) RecordNotificationOutcome(ctx context.Context, out models.NotificationOutcome) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE notification_log SET
			subject_id = $subject_id,
			kind = $kind,
			outcome = $outcome,
			provider = $provider,
			message_id = $message_id,
			recipient_hash = $recipient_hash,
			error = $error,
			attempts = $attempts
	`, map[string]any{
		"subject_id":     out.SubjectID,
		"kind":           out.Kind,
		"outcome":        out.Outcome,
		"provider":       out.Provider,
		"message_id":     out.MessageID,
		"recipient_hash": out.RecipientHash,
		"error":          out.Error,
		"attempts":       out.Attempts,
	})
	if err != nil {
		return fmt.Errorf("record notification outcome: %w", wrapQueryError(err))
	}
	return nil
}

// PruneNotificationLog deletes sent and skipped outcome rows older than the
// retention window. Failed rows are never pruned.
func (c *Client) PruneNotificationLog(ctx context.Context, olderThan time.Duration) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE notification_log
		WHERE outcome IN ['sent', 'skipped'] AND created < time::now() - $window
	`, map[string]any{"window": olderThan})
	if err != nil {
		return fmt.Errorf("prune notification log: %w", err)
	}
	return nil
}
