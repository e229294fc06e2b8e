package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// TokenUsage is one row per AI call, for cost monitoring.
type TokenUsage struct {
	ID           surrealmodels.RecordID `json:"id"`
	ScanID       string                 `json:"scan_id"`
	Operation    string                 `json:"operation"` // "verify_batch", "verify_finalize"
	Model        string                 `json:"model"`
	InputTokens  int                    `json:"input_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	Created      time.Time              `json:"created"`
}

// NotificationOutcome records the terminal result of a notification job.
// Sent and skipped rows are pruned after a retention window; failed rows
// are kept indefinitely for inspection.
type NotificationOutcome struct {
	ID            surrealmodels.RecordID `json:"id"`
	SubjectID     string                 `json:"subject_id"`
	Kind          string                 `json:"kind"`
	Outcome       string                 `json:"outcome"` // "sent", "skipped", "failed"
	Provider      string                 `json:"provider,omitempty"`
	MessageID     string                 `json:"message_id,omitempty"`
	RecipientHash string                 `json:"recipient_hash"`
	Error         *string                `json:"error,omitempty"`
	Attempts      int                    `json:"attempts"`
	Created       time.Time              `json:"created"`
}
