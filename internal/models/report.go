// Package models defines data structures for the a11ypipe scan pipeline.
package models

import (
	"fmt"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ReportFormat is the requested export format for a report.
type ReportFormat string

const (
	FormatPDF  ReportFormat = "pdf"
	FormatJSON ReportFormat = "json"
	FormatCSV  ReportFormat = "csv"
)

// ParseReportFormat validates a user-supplied format string.
func ParseReportFormat(s string) (ReportFormat, error) {
	switch f := ReportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// Ext returns the file extension for the format.
func (f ReportFormat) Ext() string {
	return string(f)
}

// ReportStatus is the lifecycle state of a report record.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportGenerating ReportStatus = "generating"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// Terminal reports whether the status admits starting a new generation.
func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// ReportRecord is the persisted export record. One record exists per
// (subject, format) pair; its record ID is deterministic (see ReportRecordID)
// so creation is an atomic claim. ReportID is a fresh UUID per generation
// attempt and is what callers poll by.
type ReportRecord struct {
	ID         surrealmodels.RecordID `json:"id"`
	ReportID   string                 `json:"report_id"`
	SubjectID  string                 `json:"subject_id"`
	Format     ReportFormat           `json:"format"`
	Status     ReportStatus           `json:"status"`
	StorageKey *string                `json:"storage_key,omitempty"`
	Error      *string                `json:"error,omitempty"`
	Created    time.Time              `json:"created"`
	Updated    time.Time              `json:"updated"`
}

// ReportRecordID builds the deterministic record ID for a (subject, format)
// pair. Two concurrent first requests for the same pair race on a single
// CREATE of this ID; exactly one wins.
func ReportRecordID(subjectID string, format ReportFormat) string {
	return subjectID + "_" + string(format)
}
