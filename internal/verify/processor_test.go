package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avickers/a11ypipe/internal/checkpoint"
	"github.com/avickers/a11ypipe/internal/models"
)

// scriptedVerifier returns canned verdicts and can be told to fail from a
// given call onward, simulating a provider outage mid-scan.
type scriptedVerifier struct {
	calls     int
	failAfter int // fail calls numbered > failAfter; 0 means never fail
	err       error
	perCall   Usage
}

func (v *scriptedVerifier) VerifyBatch(_ context.Context, _ string, _ models.ConformanceLevel, criteria []Criterion) ([]models.CriterionResult, Usage, error) {
	v.calls++
	if v.failAfter > 0 && v.calls > v.failAfter {
		return nil, Usage{}, v.err
	}
	results := make([]models.CriterionResult, 0, len(criteria))
	for _, c := range criteria {
		verdict := models.VerdictPass
		if c.ID == "1.4.3" {
			verdict = models.VerdictFail
		}
		results = append(results, models.CriterionResult{Criterion: c.ID, Verdict: verdict})
	}
	return results, v.perCall, nil
}

func (v *scriptedVerifier) Model() string { return "test-model" }

type recordedUsage struct {
	scanID       string
	operation    string
	inputTokens  int
	outputTokens int
}

type fakeRecorder struct {
	coverage map[string]models.CoverageSummary
	usage    []recordedUsage
	saveErr  error
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{coverage: make(map[string]models.CoverageSummary)}
}

func (r *fakeRecorder) SaveCoverage(_ context.Context, scanID string, summary models.CoverageSummary) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.coverage[scanID] = summary
	return nil
}

func (r *fakeRecorder) RecordTokenUsage(_ context.Context, scanID, operation, _ string, in, out int) error {
	r.usage = append(r.usage, recordedUsage{scanID: scanID, operation: operation, inputTokens: in, outputTokens: out})
	return nil
}

func newTestProcessor(t *testing.T, verifier BatchVerifier, recorder Recorder, batchSize int) (*Processor, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return NewProcessor(store, verifier, recorder, batchSize, nil, nil), store
}

func TestRunCompletesScan(t *testing.T) {
	verifier := &scriptedVerifier{perCall: Usage{InputTokens: 100, OutputTokens: 20}}
	recorder := newFakeRecorder()
	p, store := newTestProcessor(t, verifier, recorder, 10)

	summary, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelAA)
	require.NoError(t, err)

	criteria := CriteriaForLevel(models.LevelAA)
	batches := SubBatches(criteria, 10)
	assert.Equal(t, len(batches), verifier.calls)

	assert.Equal(t, len(criteria), summary.CriteriaChecked)
	assert.Equal(t, 1, summary.Failed, "the scripted 1.4.3 failure")
	assert.Equal(t, len(criteria)-1, summary.Passed)
	assert.Equal(t, len(batches)*120, summary.TokensUsed)
	assert.Equal(t, "test-model", summary.Model)

	// Coverage stored on the scan, checkpoint consumed.
	assert.Contains(t, recorder.coverage, "scan_1")
	cp, err := store.Get("scan_1")
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint cleared after finalization")

	// One usage row per batch.
	assert.Len(t, recorder.usage, len(batches))
	assert.Equal(t, "verify_batch", recorder.usage[0].operation)
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	cause := errors.New("provider unavailable")
	verifier := &scriptedVerifier{perCall: Usage{InputTokens: 50, OutputTokens: 10}, failAfter: 2, err: cause}
	recorder := newFakeRecorder()
	p, store := newTestProcessor(t, verifier, recorder, 10)

	// First run fails on the third batch.
	_, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelAA)
	require.ErrorIs(t, err, cause)

	cp, err := store.Get("scan_1")
	require.NoError(t, err)
	require.NotNil(t, cp, "failed run leaves the checkpoint in place")
	assert.Equal(t, []int{0, 1}, cp.CompletedBatches)
	assert.Equal(t, 120, cp.TokensUsed, "only committed batches are billed")

	// Restart: the provider recovers and the run completes.
	verifier.failAfter = 0
	callsBefore := verifier.calls
	summary, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelAA)
	require.NoError(t, err)

	totalBatches := len(SubBatches(CriteriaForLevel(models.LevelAA), 10))
	assert.Equal(t, totalBatches-2, verifier.calls-callsBefore, "completed batches are not re-run")
	assert.Equal(t, totalBatches*60, summary.TokensUsed, "no batch is double-counted")
	assert.Equal(t, len(CriteriaForLevel(models.LevelAA)), summary.CriteriaChecked)
}

func TestRunRestartsWhenBatchLayoutChanges(t *testing.T) {
	verifier := &scriptedVerifier{perCall: Usage{InputTokens: 10, OutputTokens: 5}}
	recorder := newFakeRecorder()
	p, store := newTestProcessor(t, verifier, recorder, 10)

	// A checkpoint written under a different batch layout.
	_, err := store.Init("scan_1", "https://shop.example.com", models.LevelAA, 3)
	require.NoError(t, err)
	_, err = store.MarkBatchComplete("scan_1", 0, nil, 500)
	require.NoError(t, err)

	summary, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelAA)
	require.NoError(t, err)

	totalBatches := len(SubBatches(CriteriaForLevel(models.LevelAA), 10))
	assert.Equal(t, totalBatches, verifier.calls, "stale progress is discarded, all batches run")
	assert.Equal(t, totalBatches*15, summary.TokensUsed, "stale token count is discarded")
}

func TestRunResumesAfterCrashBeforeCoverageSave(t *testing.T) {
	verifier := &scriptedVerifier{perCall: Usage{InputTokens: 10, OutputTokens: 5}}
	recorder := newFakeRecorder()
	recorder.saveErr = errors.New("store down")
	p, store := newTestProcessor(t, verifier, recorder, 10)

	// All batches complete and finalization commits, but the coverage write
	// fails. The checkpoint must survive with the finalization result.
	_, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelAA)
	require.Error(t, err)

	cp, err := store.Get("scan_1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.FinalizationComplete)
	require.NotNil(t, cp.FinalizationResult)

	// Retry: no verification calls happen, the stored result is reused.
	recorder.saveErr = nil
	callsBefore := verifier.calls
	summary, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelAA)
	require.NoError(t, err)

	assert.Equal(t, callsBefore, verifier.calls, "finalized scans never re-verify")
	assert.Equal(t, cp.FinalizationResult.TokensUsed, summary.TokensUsed)
	assert.Contains(t, recorder.coverage, "scan_1")
}

func TestRunUnknownLevelFails(t *testing.T) {
	p, _ := newTestProcessor(t, &scriptedVerifier{}, newFakeRecorder(), 10)
	_, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.ConformanceLevel("bogus"))
	require.Error(t, err)
}

func TestRunFatalAPIErrorPropagates(t *testing.T) {
	verifier := &scriptedVerifier{failAfter: 1, err: wrapFatalError(errors.New("insufficient credit balance"))}
	p, _ := newTestProcessor(t, verifier, newFakeRecorder(), 10)

	_, err := p.Run(context.Background(), "scan_1", "https://shop.example.com", models.LevelA)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
}
