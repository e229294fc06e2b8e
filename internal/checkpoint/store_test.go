package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/avickers/a11ypipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestInitAndGet(t *testing.T) {
	store := testStore(t)

	cp, err := store.Init("scan-1", "https://example.com", models.LevelAA, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, cp.TotalBatches)
	assert.Empty(t, cp.CompletedBatches)
	assert.Zero(t, cp.TokensUsed)

	loaded, err := store.Get("scan-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "scan-1", loaded.ScanID)
	assert.Equal(t, "https://example.com", loaded.SubjectURL)
	assert.Equal(t, models.LevelAA, loaded.Level)
}

func TestGetAbsent(t *testing.T) {
	store := testStore(t)

	cp, err := store.Get("never-initialized")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestIncompleteBatches(t *testing.T) {
	cp := &Checkpoint{TotalBatches: 5, CompletedBatches: []int{0, 2, 4}}
	assert.Equal(t, []int{1, 3}, cp.IncompleteBatches())

	assert.True(t, cp.IsBatchComplete(2))
	assert.False(t, cp.IsBatchComplete(3))

	none := &Checkpoint{TotalBatches: 3}
	assert.Equal(t, []int{0, 1, 2}, none.IncompleteBatches())

	done := &Checkpoint{TotalBatches: 2, CompletedBatches: []int{0, 1}}
	assert.Empty(t, done.IncompleteBatches())
}

func TestMarkBatchComplete(t *testing.T) {
	store := testStore(t)
	_, err := store.Init("scan-2", "https://example.com", models.LevelAA, 3)
	require.NoError(t, err)

	results := []models.CriterionResult{
		{Criterion: "1.1.1", Verdict: models.VerdictPass},
		{Criterion: "1.2.1", Verdict: models.VerdictFail, Note: "missing captions"},
	}

	cp, err := store.MarkBatchComplete("scan-2", 1, results, 420)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cp.CompletedBatches)
	assert.Len(t, cp.PartialResults, 2)
	assert.Equal(t, 420, cp.TokensUsed)

	// Survives reload.
	loaded, err := store.Get("scan-2")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, loaded.CompletedBatches)
	assert.Equal(t, 420, loaded.TokensUsed)
}

func TestMarkBatchCompleteReplayIsNoOp(t *testing.T) {
	store := testStore(t)
	_, err := store.Init("scan-3", "https://example.com", models.LevelAA, 3)
	require.NoError(t, err)

	results := []models.CriterionResult{{Criterion: "1.1.1", Verdict: models.VerdictPass}}

	_, err = store.MarkBatchComplete("scan-3", 0, results, 100)
	require.NoError(t, err)

	// Replay with the same index: no duplicate index, results, or tokens.
	cp, err := store.MarkBatchComplete("scan-3", 0, results, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, cp.CompletedBatches)
	assert.Len(t, cp.PartialResults, 1)
	assert.Equal(t, 100, cp.TokensUsed)

	loaded, err := store.Get("scan-3")
	require.NoError(t, err)
	assert.Equal(t, 100, loaded.TokensUsed)
	assert.Len(t, loaded.PartialResults, 1)
}

func TestMarkBatchCompleteKeepsIndicesSorted(t *testing.T) {
	store := testStore(t)
	_, err := store.Init("scan-4", "https://example.com", models.LevelA, 4)
	require.NoError(t, err)

	for _, idx := range []int{3, 0, 2} {
		_, err := store.MarkBatchComplete("scan-4", idx, nil, 10)
		require.NoError(t, err)
	}

	cp, err := store.Get("scan-4")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 3}, cp.CompletedBatches)
	assert.Equal(t, []int{1}, cp.IncompleteBatches())
}

func TestMarkBatchCompleteAbsentCheckpoint(t *testing.T) {
	store := testStore(t)

	_, err := store.MarkBatchComplete("uninitialized", 0, nil, 5)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestMarkBatchCompleteIndexOutOfRange(t *testing.T) {
	store := testStore(t)
	_, err := store.Init("scan-5", "https://example.com", models.LevelAA, 2)
	require.NoError(t, err)

	_, err = store.MarkBatchComplete("scan-5", 2, nil, 5)
	require.Error(t, err)
	_, err = store.MarkBatchComplete("scan-5", -1, nil, 5)
	require.Error(t, err)
}

func TestMarkFinalizationComplete(t *testing.T) {
	store := testStore(t)
	_, err := store.Init("scan-6", "https://example.com", models.LevelAA, 1)
	require.NoError(t, err)
	_, err = store.MarkBatchComplete("scan-6", 0, nil, 50)
	require.NoError(t, err)

	summary := models.CoverageSummary{CriteriaChecked: 10, Passed: 8, Failed: 2}
	cp, err := store.MarkFinalizationComplete("scan-6", summary, 30)
	require.NoError(t, err)
	assert.True(t, cp.FinalizationComplete)
	require.NotNil(t, cp.FinalizationResult)
	assert.Equal(t, 10, cp.FinalizationResult.CriteriaChecked)
	assert.Equal(t, 80, cp.TokensUsed)

	// Replay sets the result at most once and adds no cost.
	cp, err = store.MarkFinalizationComplete("scan-6", models.CoverageSummary{CriteriaChecked: 99}, 30)
	require.NoError(t, err)
	assert.Equal(t, 10, cp.FinalizationResult.CriteriaChecked)
	assert.Equal(t, 80, cp.TokensUsed)
}

func TestMarkFinalizationCompleteAbsent(t *testing.T) {
	store := testStore(t)
	_, err := store.MarkFinalizationComplete("uninitialized", models.CoverageSummary{}, 0)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestClear(t *testing.T) {
	store := testStore(t)
	_, err := store.Init("scan-7", "https://example.com", models.LevelAA, 1)
	require.NoError(t, err)

	require.NoError(t, store.Clear("scan-7"))
	cp, err := store.Get("scan-7")
	require.NoError(t, err)
	assert.Nil(t, cp)

	// Clearing an absent checkpoint is a no-op.
	require.NoError(t, store.Clear("scan-7"))
	require.NoError(t, store.Clear("never-existed"))
}

func TestCorruptFileTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)

	_, err = store.Init("scan-8", "https://example.com", models.LevelAA, 3)
	require.NoError(t, err)

	path := filepath.Join(dir, "scan-8.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	cp, err := store.Get("scan-8")
	require.NoError(t, err)
	assert.Nil(t, cp)

	// The corrupt file is quarantined, not destroyed.
	_, statErr := os.Stat(path + ".corrupt")
	assert.NoError(t, statErr)
}

func TestStructurallyInvalidTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)

	// Parses fine but is missing subject_url and level.
	partial, err := json.Marshal(map[string]any{
		"scan_id":       "scan-9",
		"total_batches": 3,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan-9.json"), partial, 0644))

	cp, err := store.Get("scan-9")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCrashBeforeRenameKeepsPreviousState(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	require.NoError(t, err)

	_, err = store.Init("scan-10", "https://example.com", models.LevelAA, 2)
	require.NoError(t, err)
	_, err = store.MarkBatchComplete("scan-10", 0, nil, 25)
	require.NoError(t, err)

	// Simulate a crash after "write temp" but before "rename": a stray temp
	// file next to the canonical one. The committed state must still load.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan-10.tmp-crash"), []byte("garbage"), 0644))

	cp, err := store.Get("scan-10")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, []int{0}, cp.CompletedBatches)
	assert.Equal(t, 25, cp.TokensUsed)

	// Stray temp files are not listed as checkpoints either.
	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"scan-10"}, ids)
}
