package export

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avickers/a11ypipe/internal/db"
	"github.com/avickers/a11ypipe/internal/models"
	"github.com/avickers/a11ypipe/internal/queue"
)

// fakeRepo is an in-memory Repository keyed the same way the real store is,
// one record per (subject, format) pair. The mutex gives it the same
// atomic-create semantics as the real store, so it can host race tests.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*models.ReportRecord

	createErr   error
	lookupErr   error
	failedCalls []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*models.ReportRecord)}
}

func (r *fakeRepo) put(rec *models.ReportRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[models.ReportRecordID(rec.SubjectID, rec.Format)] = rec
}

func (r *fakeRepo) GetReportBySubject(_ context.Context, subjectID string, format models.ReportFormat) (*models.ReportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	rec, ok := r.records[models.ReportRecordID(subjectID, format)]
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (r *fakeRepo) GetReportByID(_ context.Context, reportID string) (*models.ReportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	for _, rec := range r.records {
		if rec.ReportID == reportID {
			return rec, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) CreateReportRecord(_ context.Context, subjectID string, format models.ReportFormat, reportID string) (*models.ReportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	key := models.ReportRecordID(subjectID, format)
	if _, exists := r.records[key]; exists {
		return nil, db.ErrAlreadyExists
	}
	rec := &models.ReportRecord{
		ReportID:  reportID,
		SubjectID: subjectID,
		Format:    format,
		Status:    models.ReportPending,
		Created:   time.Now(),
		Updated:   time.Now(),
	}
	r.records[key] = rec
	return rec, nil
}

func (r *fakeRepo) ReclaimFailedReport(_ context.Context, subjectID string, format models.ReportFormat, newReportID string) (*models.ReportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[models.ReportRecordID(subjectID, format)]
	if !ok || rec.Status != models.ReportFailed {
		return nil, nil
	}
	rec.Status = models.ReportPending
	rec.ReportID = newReportID
	rec.StorageKey = nil
	rec.Error = nil
	return rec, nil
}

func (r *fakeRepo) FailReport(_ context.Context, subjectID string, format models.ReportFormat, reportID, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedCalls = append(r.failedCalls, reportID)
	rec, ok := r.records[models.ReportRecordID(subjectID, format)]
	if !ok || rec.ReportID != reportID || rec.Status.Terminal() {
		return false, nil
	}
	rec.Status = models.ReportFailed
	rec.Error = &message
	return true, nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []queue.GenerationJob
	err  error
}

func (e *fakeEnqueuer) PublishGeneration(_ context.Context, job queue.GenerationJob) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

type fakeSigner struct {
	err error
}

func (s *fakeSigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return "https://blobs.example.com/" + key + "?signed", time.Now().Add(ttl), nil
}

func newTestService(repo *fakeRepo, jobs *fakeEnqueuer, signer *fakeSigner) *Service {
	return NewService(repo, jobs, signer, 15*time.Minute, nil)
}

func strPtr(s string) *string { return &s }

func TestRequestExportStartsNewGeneration(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{}

	svc := newTestService(repo, jobs, &fakeSigner{})
	res, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)

	assert.Equal(t, StatusGenerating, res.Status)
	assert.NotEmpty(t, res.ReportID)
	assert.Empty(t, res.URL)

	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, "scan_123", jobs.jobs[0].SubjectID)
	assert.Equal(t, models.FormatPDF, jobs.jobs[0].Format)
	assert.Equal(t, res.ReportID, jobs.jobs[0].ReportID)

	rec := repo.records[models.ReportRecordID("scan_123", models.FormatPDF)]
	require.NotNil(t, rec)
	assert.Equal(t, models.ReportPending, rec.Status)
}

func TestRequestExportDeduplicatesInFlight(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	first, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)

	// Second identical request while the first is still pending.
	second, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)

	assert.Equal(t, StatusGenerating, second.Status)
	assert.Equal(t, first.ReportID, second.ReportID)
	assert.Len(t, jobs.jobs, 1, "dedup must not enqueue a second job")
}

func TestRequestExportDifferentFormatsAreIndependent(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	pdfRes, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)
	jsonRes, err := svc.RequestExport(context.Background(), "scan_123", models.FormatJSON)
	require.NoError(t, err)

	assert.NotEqual(t, pdfRes.ReportID, jsonRes.ReportID)
	assert.Len(t, jobs.jobs, 2)
}

func TestRequestExportReturnsCachedCompleted(t *testing.T) {
	repo := newFakeRepo()
	repo.put(&models.ReportRecord{
		ReportID:   "rep-1",
		SubjectID:  "scan_123",
		Format:     models.FormatPDF,
		Status:     models.ReportCompleted,
		StorageKey: strPtr("reports/scan_123/report.pdf"),
	})
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	res, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)

	assert.Equal(t, StatusReady, res.Status)
	assert.Equal(t, "rep-1", res.ReportID)
	assert.Contains(t, res.URL, "reports/scan_123/report.pdf")
	require.NotNil(t, res.ExpiresAt)
	assert.Empty(t, jobs.jobs, "cached hit must not enqueue")
}

func TestRequestExportReclaimsFailed(t *testing.T) {
	repo := newFakeRepo()
	repo.put(&models.ReportRecord{
		ReportID:  "rep-old",
		SubjectID: "scan_123",
		Format:    models.FormatCSV,
		Status:    models.ReportFailed,
		Error:     strPtr("render csv: boom"),
	})
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	res, err := svc.RequestExport(context.Background(), "scan_123", models.FormatCSV)
	require.NoError(t, err)

	assert.Equal(t, StatusGenerating, res.Status)
	assert.NotEqual(t, "rep-old", res.ReportID, "retry must issue a fresh report id")
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, res.ReportID, jobs.jobs[0].ReportID)

	rec := repo.records[models.ReportRecordID("scan_123", models.FormatCSV)]
	assert.Equal(t, models.ReportPending, rec.Status)
	assert.Nil(t, rec.Error)
}

func TestRequestExportLostCreateRaceReportsWinner(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	// Simulate the winner committing between our lookup and create.
	repo.createErr = db.ErrAlreadyExists
	repo.put(&models.ReportRecord{
		ReportID:  "winner-id",
		SubjectID: "scan_123",
		Format:    models.FormatJSON,
		Status:    models.ReportGenerating,
	})

	res, err := svc.startNew(context.Background(), "scan_123", models.FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, StatusGenerating, res.Status)
	assert.Equal(t, "winner-id", res.ReportID)
	assert.Empty(t, jobs.jobs, "race loser must not enqueue")
}

func TestRequestExportConcurrentRequestsEnqueueOneJob(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	const n = 32
	results := make([]Result, n)
	errs := make([]error, n)

	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			results[i], errs[i] = svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
		}(i)
	}
	start.Done()
	wg.Wait()

	// Exactly one record, one job; every caller is told about that one
	// generation, whoever won the create.
	require.Len(t, jobs.jobs, 1)
	require.Len(t, repo.records, 1)
	rec := repo.records[models.ReportRecordID("scan_123", models.FormatPDF)]
	require.NotNil(t, rec)
	assert.Equal(t, jobs.jobs[0].ReportID, rec.ReportID)

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, StatusGenerating, results[i].Status)
		assert.Equal(t, rec.ReportID, results[i].ReportID)
	}
}

func TestRequestExportEnqueueFailureFailsRecord(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{err: errors.New("jetstream unavailable")}
	svc := newTestService(repo, jobs, &fakeSigner{})

	_, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.Error(t, err)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, "enqueue generation", exportErr.Op)

	// The pending record must not wedge the pair; it gets failed so the
	// next request starts over.
	rec := repo.records[models.ReportRecordID("scan_123", models.FormatPDF)]
	require.NotNil(t, rec)
	assert.Equal(t, models.ReportFailed, rec.Status)
}

func TestRequestExportStoreErrorIsWrapped(t *testing.T) {
	repo := newFakeRepo()
	cause := errors.New("connection reset")
	repo.lookupErr = cause
	svc := newTestService(repo, &fakeEnqueuer{}, &fakeSigner{})

	_, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var exportErr *Error
	assert.ErrorAs(t, err, &exportErr)
}

func TestGetExportStatusMapsRecordStates(t *testing.T) {
	tests := []struct {
		name       string
		record     *models.ReportRecord
		wantStatus Status
		wantURL    bool
		wantMsg    string
	}{
		{
			name:       "pending reports generating",
			record:     &models.ReportRecord{ReportID: "r1", SubjectID: "s1", Format: models.FormatPDF, Status: models.ReportPending},
			wantStatus: StatusGenerating,
		},
		{
			name:       "generating reports generating",
			record:     &models.ReportRecord{ReportID: "r1", SubjectID: "s1", Format: models.FormatPDF, Status: models.ReportGenerating},
			wantStatus: StatusGenerating,
		},
		{
			name:       "completed reports ready with url",
			record:     &models.ReportRecord{ReportID: "r1", SubjectID: "s1", Format: models.FormatPDF, Status: models.ReportCompleted, StorageKey: strPtr("reports/s1/report.pdf")},
			wantStatus: StatusReady,
			wantURL:    true,
		},
		{
			name:       "completed without file reports failed",
			record:     &models.ReportRecord{ReportID: "r1", SubjectID: "s1", Format: models.FormatPDF, Status: models.ReportCompleted},
			wantStatus: StatusFailed,
			wantMsg:    "Report completed but file not found",
		},
		{
			name:       "failed reports stored error",
			record:     &models.ReportRecord{ReportID: "r1", SubjectID: "s1", Format: models.FormatPDF, Status: models.ReportFailed, Error: strPtr("upload report: denied")},
			wantStatus: StatusFailed,
			wantMsg:    "upload report: denied",
		},
		{
			name:       "failed without message gets generic text",
			record:     &models.ReportRecord{ReportID: "r1", SubjectID: "s1", Format: models.FormatPDF, Status: models.ReportFailed},
			wantStatus: StatusFailed,
			wantMsg:    "Report generation failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.put(tc.record)
			svc := newTestService(repo, &fakeEnqueuer{}, &fakeSigner{})

			res, err := svc.GetExportStatus(context.Background(), "r1")
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, "r1", res.ReportID)
			if tc.wantURL {
				assert.NotEmpty(t, res.URL)
				assert.NotNil(t, res.ExpiresAt)
			} else {
				assert.Empty(t, res.URL)
			}
			if tc.wantMsg != "" {
				assert.Equal(t, tc.wantMsg, res.ErrorMessage)
			}
		})
	}
}

func TestGetExportStatusUnknownID(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeEnqueuer{}, &fakeSigner{})

	res, err := svc.GetExportStatus(context.Background(), "no-such-id")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "no-such-id", res.ReportID)
	assert.Equal(t, "Report not found", res.ErrorMessage)
}

func TestGetExportStatusSupersededIDIsNotFound(t *testing.T) {
	repo := newFakeRepo()
	jobs := &fakeEnqueuer{}
	svc := newTestService(repo, jobs, &fakeSigner{})

	// First attempt fails, a retry reclaims the record under a new id.
	first, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)
	_, err = repo.FailReport(context.Background(), "scan_123", models.FormatPDF, first.ReportID, "boom")
	require.NoError(t, err)
	second, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.NoError(t, err)
	require.NotEqual(t, first.ReportID, second.ReportID)

	res, err := svc.GetExportStatus(context.Background(), first.ReportID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Report not found", res.ErrorMessage)
}

func TestRequestExportPresignFailureIsError(t *testing.T) {
	repo := newFakeRepo()
	repo.put(&models.ReportRecord{
		ReportID:   "rep-1",
		SubjectID:  "scan_123",
		Format:     models.FormatPDF,
		Status:     models.ReportCompleted,
		StorageKey: strPtr("reports/scan_123/report.pdf"),
	})
	cause := errors.New("credentials expired")
	svc := newTestService(repo, &fakeEnqueuer{}, &fakeSigner{err: cause})

	_, err := svc.RequestExport(context.Background(), "scan_123", models.FormatPDF)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}
