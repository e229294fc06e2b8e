package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ScanStatus is the lifecycle state of a scan or batch.
type ScanStatus string

const (
	ScanQueued    ScanStatus = "queued"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// ConformanceLevel is the WCAG conformance target of a scan.
type ConformanceLevel string

const (
	LevelA   ConformanceLevel = "A"
	LevelAA  ConformanceLevel = "AA"
	LevelAAA ConformanceLevel = "AAA"
)

// Issue is a single accessibility finding produced by the rule engine.
type Issue struct {
	Criterion string `json:"criterion"`
	Severity  string `json:"severity"`
	Selector  string `json:"selector,omitempty"`
	Summary   string `json:"summary"`
}

// CoverageSummary is the aggregated result of AI batch verification,
// stored on the scan once finalization completes.
type CoverageSummary struct {
	CriteriaChecked int       `json:"criteria_checked"`
	Passed          int       `json:"passed"`
	Failed          int       `json:"failed"`
	Inapplicable    int       `json:"inapplicable"`
	TokensUsed      int       `json:"tokens_used"`
	Model           string    `json:"model,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Scan is the subject record the pipeline workers read and update.
// Creation and listing belong to the CRUD layer; the workers only consume
// finished scans, attach coverage summaries, and null the notify address.
type Scan struct {
	ID          surrealmodels.RecordID `json:"id"`
	URL         string                 `json:"url"`
	Level       ConformanceLevel       `json:"level"`
	Status      ScanStatus             `json:"status"`
	Issues      []Issue                `json:"issues,omitempty"`
	NotifyEmail *string                `json:"notify_email,omitempty"`
	Coverage    *CoverageSummary       `json:"coverage,omitempty"`
	Started     time.Time              `json:"started"`
	Finished    *time.Time             `json:"finished,omitempty"`
}

// Duration returns how long the scan ran, or zero if it has not finished.
func (s *Scan) Duration() time.Duration {
	if s.Finished == nil {
		return 0
	}
	return s.Finished.Sub(s.Started)
}
