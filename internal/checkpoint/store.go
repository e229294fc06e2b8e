package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/avickers/a11ypipe/internal/models"
)

// ErrNoCheckpoint indicates progress was recorded for a scan that was never
// initialized. A processor hitting this has a wiring bug, not a transient
// condition.
var ErrNoCheckpoint = errors.New("no checkpoint for scan")

// Store persists one checkpoint file per scan under a data directory.
// Every mutation is committed with a temp-write + fsync + rename, so a
// reader observes either the fully-previous or the fully-new state.
//
// Different scans may be processed by different workers concurrently; each
// worker owns its own scan's file, so the store does no cross-scan locking.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the data directory if needed and returns a store.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Init creates a fresh checkpoint with empty progress and zero cost.
// An existing checkpoint for the scan is overwritten; callers resume via
// Get before deciding to Init.
func (s *Store) Init(
	scanID, subjectURL string,
	level models.ConformanceLevel,
	totalBatches int,
) (*Checkpoint, error) {
	if totalBatches <= 0 {
		return nil, fmt.Errorf("init checkpoint: total batches must be positive, got %d", totalBatches)
	}

	now := time.Now().UTC()
	cp := &Checkpoint{
		ScanID:           scanID,
		SubjectURL:       subjectURL,
		Level:            level,
		TotalBatches:     totalBatches,
		CompletedBatches: []int{},
		PartialResults:   []models.CriterionResult{},
		StartedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.write(cp); err != nil {
		return nil, err
	}

	s.logger.Info("checkpoint initialized",
		"scan_id", scanID, "url", subjectURL, "total_batches", totalBatches)
	return cp, nil
}

// Get loads the checkpoint for a scan. Returns nil if absent.
//
// A file that exists but cannot be parsed, or that fails structural
// validation, is quarantined with a .corrupt suffix and reported as absent:
// a corrupt checkpoint must not livelock the pipeline, and the quarantined
// file keeps the evidence for inspection.
func (s *Store) Get(scanID string) (*Checkpoint, error) {
	path := s.path(scanID)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.quarantine(path, scanID, err)
		return nil, nil
	}
	if err := cp.validate(); err != nil {
		s.quarantine(path, scanID, err)
		return nil, nil
	}
	return &cp, nil
}

// MarkBatchComplete records a finished sub-batch: adds the index to the
// completed set, appends its results, and adds its token cost, then
// persists. Replaying an already-completed index is a true no-op: the set,
// the results, and the token accumulator are all left untouched.
func (s *Store) MarkBatchComplete(
	scanID string,
	index int,
	results []models.CriterionResult,
	tokenCost int,
) (*Checkpoint, error) {
	cp, err := s.Get(scanID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("mark batch complete for %s: %w", scanID, ErrNoCheckpoint)
	}

	if index < 0 || index >= cp.TotalBatches {
		return nil, fmt.Errorf("mark batch complete: index %d out of range [0,%d)", index, cp.TotalBatches)
	}

	// Membership check before any mutation: a retried call for a batch that
	// already committed must not double-count tokens or duplicate results.
	if cp.IsBatchComplete(index) {
		s.logger.Debug("batch already complete, skipping", "scan_id", scanID, "batch", index)
		return cp, nil
	}

	cp.CompletedBatches = append(cp.CompletedBatches, index)
	slices.Sort(cp.CompletedBatches)
	cp.PartialResults = append(cp.PartialResults, results...)
	cp.TokensUsed += tokenCost
	cp.UpdatedAt = time.Now().UTC()

	if err := s.write(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// MarkFinalizationComplete records the finalization result exactly once and
// adds any additional token cost spent on finalization.
func (s *Store) MarkFinalizationComplete(
	scanID string,
	result models.CoverageSummary,
	tokenCost int,
) (*Checkpoint, error) {
	cp, err := s.Get(scanID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("mark finalization complete for %s: %w", scanID, ErrNoCheckpoint)
	}

	if cp.FinalizationComplete {
		s.logger.Debug("finalization already complete, skipping", "scan_id", scanID)
		return cp, nil
	}

	cp.FinalizationComplete = true
	cp.FinalizationResult = &result
	cp.TokensUsed += tokenCost
	cp.UpdatedAt = time.Now().UTC()

	if err := s.write(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Clear removes the persisted checkpoint. Removing an absent checkpoint is
// a no-op, not an error.
func (s *Store) Clear(scanID string) error {
	err := os.Remove(s.path(scanID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// List returns the scan IDs of all persisted checkpoints.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) path(scanID string) string {
	return filepath.Join(s.dir, sanitize(scanID)+".json")
}

// write commits the checkpoint atomically: temp file in the same directory,
// fsync, then rename over the canonical path.
func (s *Store) write(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, sanitize(cp.ScanID)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path(cp.ScanID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// quarantine renames an unreadable checkpoint aside so the evidence
// survives the restart that re-runs the scan.
func (s *Store) quarantine(path, scanID string, cause error) {
	s.logger.Error("checkpoint unreadable, quarantining and starting fresh",
		"scan_id", scanID, "path", path, "error", cause)
	if err := os.Rename(path, path+".corrupt"); err != nil {
		s.logger.Error("failed to quarantine checkpoint", "path", path, "error", err)
	}
}

// sanitize makes a scan ID safe to use as a file name.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
