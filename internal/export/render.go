package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/avickers/a11ypipe/internal/models"
)

// reportDocument is the canonical report content, shared by all renderers.
type reportDocument struct {
	SubjectID   string                  `json:"subject_id"`
	URL         string                  `json:"url"`
	Level       models.ConformanceLevel `json:"level"`
	GeneratedAt time.Time               `json:"generated_at"`
	IssueCount  int                     `json:"issue_count"`
	Issues      []models.Issue          `json:"issues"`
	Coverage    *models.CoverageSummary `json:"coverage,omitempty"`
}

func buildDocument(subjectID string, scan *models.Scan) reportDocument {
	return reportDocument{
		SubjectID:   subjectID,
		URL:         scan.URL,
		Level:       scan.Level,
		GeneratedAt: time.Now().UTC(),
		IssueCount:  len(scan.Issues),
		Issues:      scan.Issues,
		Coverage:    scan.Coverage,
	}
}

// Render produces the report bytes and content type for the format.
func Render(format models.ReportFormat, subjectID string, scan *models.Scan) ([]byte, string, error) {
	doc := buildDocument(subjectID, scan)

	switch format {
	case models.FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("render json: %w", err)
		}
		return data, "application/json", nil

	case models.FormatCSV:
		data, err := renderCSV(doc)
		if err != nil {
			return nil, "", err
		}
		return data, "text/csv", nil

	case models.FormatPDF:
		data, err := renderPDF(doc)
		if err != nil {
			return nil, "", err
		}
		return data, "application/pdf", nil

	default:
		return nil, "", fmt.Errorf("render: unsupported format %q", format)
	}
}

func renderCSV(doc reportDocument) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"criterion", "severity", "selector", "summary"}); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	for _, issue := range doc.Issues {
		if err := w.Write([]string{issue.Criterion, issue.Severity, issue.Selector, issue.Summary}); err != nil {
			return nil, fmt.Errorf("render csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render csv: %w", err)
	}
	return buf.Bytes(), nil
}

func renderPDF(doc reportDocument) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Accessibility Report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("Subject: %s", doc.URL))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Conformance target: WCAG %s", doc.Level))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Generated: %s", doc.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Issues found: %d", doc.IssueCount))
	pdf.Ln(10)

	if doc.Coverage != nil {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "AI verification coverage")
		pdf.Ln(9)
		pdf.SetFont("Helvetica", "", 11)
		pdf.Cell(0, 7, fmt.Sprintf("Criteria checked: %d (passed %d, failed %d, inapplicable %d)",
			doc.Coverage.CriteriaChecked, doc.Coverage.Passed, doc.Coverage.Failed, doc.Coverage.Inapplicable))
		pdf.Ln(10)
	}

	if len(doc.Issues) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Findings")
		pdf.Ln(9)
		pdf.SetFont("Helvetica", "", 10)
		for _, issue := range doc.Issues {
			pdf.MultiCell(0, 6, fmt.Sprintf("[%s] %s: %s", issue.Severity, issue.Criterion, issue.Summary), "", "L", false)
			pdf.Ln(1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
