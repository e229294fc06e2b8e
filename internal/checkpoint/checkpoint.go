// Package checkpoint persists partial batch-verification progress so a
// restarted worker resumes mid-scan instead of re-running (and re-billing)
// completed sub-batches.
package checkpoint

import (
	"fmt"
	"slices"
	"time"

	"github.com/avickers/a11ypipe/internal/models"
)

// Checkpoint is the durable progress record for one scan's batch
// verification. CompletedBatches is kept sorted and unique; TokensUsed only
// ever grows; PartialResults is append-only.
type Checkpoint struct {
	ScanID               string                   `json:"scan_id"`
	SubjectURL           string                   `json:"subject_url"`
	Level                models.ConformanceLevel  `json:"level"`
	TotalBatches         int                      `json:"total_batches"`
	CompletedBatches     []int                    `json:"completed_batches"`
	PartialResults       []models.CriterionResult `json:"partial_results"`
	TokensUsed           int                      `json:"tokens_used"`
	FinalizationComplete bool                     `json:"finalization_complete"`
	FinalizationResult   *models.CoverageSummary  `json:"finalization_result,omitempty"`
	StartedAt            time.Time                `json:"started_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

// IsBatchComplete reports whether the given sub-batch index has already been
// processed. Pure, no I/O.
func (c *Checkpoint) IsBatchComplete(index int) bool {
	return slices.Contains(c.CompletedBatches, index)
}

// IncompleteBatches returns the sub-batch indices not yet completed, in
// ascending order. Pure, no I/O.
func (c *Checkpoint) IncompleteBatches() []int {
	incomplete := make([]int, 0, c.TotalBatches-len(c.CompletedBatches))
	for i := 0; i < c.TotalBatches; i++ {
		if !c.IsBatchComplete(i) {
			incomplete = append(incomplete, i)
		}
	}
	return incomplete
}

// validate checks the structural requirements for a checkpoint read from
// disk. A checkpoint failing validation is treated as absent by the store.
func (c *Checkpoint) validate() error {
	if c.ScanID == "" {
		return fmt.Errorf("missing scan_id")
	}
	if c.SubjectURL == "" {
		return fmt.Errorf("missing subject_url")
	}
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if c.TotalBatches <= 0 {
		return fmt.Errorf("total_batches must be positive, got %d", c.TotalBatches)
	}
	for _, idx := range c.CompletedBatches {
		if idx < 0 || idx >= c.TotalBatches {
			return fmt.Errorf("completed batch index %d out of range [0,%d)", idx, c.TotalBatches)
		}
	}
	return nil
}
