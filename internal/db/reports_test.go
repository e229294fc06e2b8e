package db

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avickers/a11ypipe/internal/models"
)

func TestCreateReportRecordClaimsPair(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	rec, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "rep-1", rec.ReportID)
	assert.Equal(t, "scan_1", rec.SubjectID)
	assert.Equal(t, models.FormatPDF, rec.Format)
	assert.Equal(t, models.ReportPending, rec.Status)

	// The deterministic record ID makes the second create lose.
	_, err = testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// A different format is a different pair.
	_, err = testDB.CreateReportRecord(ctx, "scan_1", models.FormatJSON, "rep-3")
	require.NoError(t, err)
}

func TestCreateReportRecordConcurrentClaims(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	// All contenders race the same (subject, format) pair; the atomic
	// create lets exactly one through.
	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, fmt.Sprintf("rep-%d", i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, errs[i], ErrAlreadyExists)
	}
	assert.Equal(t, 1, winners, "exactly one create may claim the pair")

	rec, err := testDB.GetReportBySubject(ctx, "scan_1", models.FormatPDF)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ReportPending, rec.Status)
}

func TestReportLifecycleTransitions(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)

	claimed, err := testDB.ClaimReportGenerating(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim for the same attempt finds no pending record.
	claimed, err = testDB.ClaimReportGenerating(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	done, err := testDB.CompleteReport(ctx, "scan_1", models.FormatPDF, "rep-1", "reports/scan_1/report.pdf")
	require.NoError(t, err)
	assert.True(t, done)

	rec, err := testDB.GetReportBySubject(ctx, "scan_1", models.FormatPDF)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.ReportCompleted, rec.Status)
	require.NotNil(t, rec.StorageKey)
	assert.Equal(t, "reports/scan_1/report.pdf", *rec.StorageKey)

	// Terminal records refuse further transitions.
	failed, err := testDB.FailReport(ctx, "scan_1", models.FormatPDF, "rep-1", "too late")
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestClaimSupersededAttemptIsRejected(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatCSV, "rep-old")
	require.NoError(t, err)

	// A job carrying a stale report id must not claim the record.
	claimed, err := testDB.ClaimReportGenerating(ctx, "scan_1", models.FormatCSV, "rep-stale")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestReclaimFailedReport(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)
	_, err = testDB.ClaimReportGenerating(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)
	failed, err := testDB.FailReport(ctx, "scan_1", models.FormatPDF, "rep-1", "upload denied")
	require.NoError(t, err)
	require.True(t, failed)

	rec, err := testDB.ReclaimFailedReport(ctx, "scan_1", models.FormatPDF, "rep-2")
	require.NoError(t, err)
	require.NotNil(t, rec, "first reclaim wins")
	assert.Equal(t, models.ReportPending, rec.Status)
	assert.Equal(t, "rep-2", rec.ReportID)
	assert.Nil(t, rec.Error)
	assert.Nil(t, rec.StorageKey)

	// The record is pending now, so a second reclaim loses.
	rec, err = testDB.ReclaimFailedReport(ctx, "scan_1", models.FormatPDF, "rep-3")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestReclaimNonFailedReportIsNoop(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)

	rec, err := testDB.ReclaimFailedReport(ctx, "scan_1", models.FormatPDF, "rep-2")
	require.NoError(t, err)
	assert.Nil(t, rec, "pending records cannot be reclaimed")

	// The original attempt is untouched.
	current, err := testDB.GetReportBySubject(ctx, "scan_1", models.FormatPDF)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "rep-1", current.ReportID)
}

func TestGetReportByID(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)

	rec, err := testDB.GetReportByID(ctx, "rep-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "scan_1", rec.SubjectID)

	rec, err = testDB.GetReportByID(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetReportByIDSupersededAttempt(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateReportRecord(ctx, "scan_1", models.FormatPDF, "rep-1")
	require.NoError(t, err)
	_, err = testDB.FailReport(ctx, "scan_1", models.FormatPDF, "rep-1", "boom")
	require.NoError(t, err)
	_, err = testDB.ReclaimFailedReport(ctx, "scan_1", models.FormatPDF, "rep-2")
	require.NoError(t, err)

	// The reclaim replaced report_id, so the old id resolves to nothing.
	rec, err := testDB.GetReportByID(ctx, "rep-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = testDB.GetReportByID(ctx, "rep-2")
	require.NoError(t, err)
	require.NotNil(t, rec)
}
