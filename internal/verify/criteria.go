// Package verify runs AI-assisted WCAG criterion verification in resumable
// sub-batches, checkpointing progress so a restart never re-bills work.
package verify

import "github.com/avickers/a11ypipe/internal/models"

// Criterion is one WCAG success criterion the verifier can assess.
type Criterion struct {
	ID    string
	Name  string
	Level models.ConformanceLevel
}

// catalog is the WCAG 2.2 success criteria the verifier covers. Conformance
// levels nest: an AA scan checks A and AA criteria, an AAA scan checks all.
var catalog = []Criterion{
	{"1.1.1", "Non-text Content", models.LevelA},
	{"1.2.1", "Audio-only and Video-only (Prerecorded)", models.LevelA},
	{"1.2.2", "Captions (Prerecorded)", models.LevelA},
	{"1.2.3", "Audio Description or Media Alternative (Prerecorded)", models.LevelA},
	{"1.3.1", "Info and Relationships", models.LevelA},
	{"1.3.2", "Meaningful Sequence", models.LevelA},
	{"1.3.3", "Sensory Characteristics", models.LevelA},
	{"1.4.1", "Use of Color", models.LevelA},
	{"1.4.2", "Audio Control", models.LevelA},
	{"2.1.1", "Keyboard", models.LevelA},
	{"2.1.2", "No Keyboard Trap", models.LevelA},
	{"2.1.4", "Character Key Shortcuts", models.LevelA},
	{"2.2.1", "Timing Adjustable", models.LevelA},
	{"2.2.2", "Pause, Stop, Hide", models.LevelA},
	{"2.3.1", "Three Flashes or Below Threshold", models.LevelA},
	{"2.4.1", "Bypass Blocks", models.LevelA},
	{"2.4.2", "Page Titled", models.LevelA},
	{"2.4.3", "Focus Order", models.LevelA},
	{"2.4.4", "Link Purpose (In Context)", models.LevelA},
	{"2.5.1", "Pointer Gestures", models.LevelA},
	{"2.5.2", "Pointer Cancellation", models.LevelA},
	{"2.5.3", "Label in Name", models.LevelA},
	{"2.5.4", "Motion Actuation", models.LevelA},
	{"3.1.1", "Language of Page", models.LevelA},
	{"3.2.1", "On Focus", models.LevelA},
	{"3.2.2", "On Input", models.LevelA},
	{"3.2.6", "Consistent Help", models.LevelA},
	{"3.3.1", "Error Identification", models.LevelA},
	{"3.3.2", "Labels or Instructions", models.LevelA},
	{"3.3.7", "Redundant Entry", models.LevelA},
	{"4.1.2", "Name, Role, Value", models.LevelA},
	{"4.1.3", "Status Messages", models.LevelAA},
	{"1.2.4", "Captions (Live)", models.LevelAA},
	{"1.2.5", "Audio Description (Prerecorded)", models.LevelAA},
	{"1.3.4", "Orientation", models.LevelAA},
	{"1.3.5", "Identify Input Purpose", models.LevelAA},
	{"1.4.3", "Contrast (Minimum)", models.LevelAA},
	{"1.4.4", "Resize Text", models.LevelAA},
	{"1.4.5", "Images of Text", models.LevelAA},
	{"1.4.10", "Reflow", models.LevelAA},
	{"1.4.11", "Non-text Contrast", models.LevelAA},
	{"1.4.12", "Text Spacing", models.LevelAA},
	{"1.4.13", "Content on Hover or Focus", models.LevelAA},
	{"2.4.5", "Multiple Ways", models.LevelAA},
	{"2.4.6", "Headings and Labels", models.LevelAA},
	{"2.4.7", "Focus Visible", models.LevelAA},
	{"2.4.11", "Focus Not Obscured (Minimum)", models.LevelAA},
	{"2.5.7", "Dragging Movements", models.LevelAA},
	{"2.5.8", "Target Size (Minimum)", models.LevelAA},
	{"3.1.2", "Language of Parts", models.LevelAA},
	{"3.2.3", "Consistent Navigation", models.LevelAA},
	{"3.2.4", "Consistent Identification", models.LevelAA},
	{"3.3.3", "Error Suggestion", models.LevelAA},
	{"3.3.4", "Error Prevention (Legal, Financial, Data)", models.LevelAA},
	{"3.3.8", "Accessible Authentication (Minimum)", models.LevelAA},
	{"1.2.6", "Sign Language (Prerecorded)", models.LevelAAA},
	{"1.2.8", "Media Alternative (Prerecorded)", models.LevelAAA},
	{"1.4.6", "Contrast (Enhanced)", models.LevelAAA},
	{"1.4.8", "Visual Presentation", models.LevelAAA},
	{"2.1.3", "Keyboard (No Exception)", models.LevelAAA},
	{"2.2.3", "No Timing", models.LevelAAA},
	{"2.3.2", "Three Flashes", models.LevelAAA},
	{"2.4.8", "Location", models.LevelAAA},
	{"2.4.9", "Link Purpose (Link Only)", models.LevelAAA},
	{"2.4.12", "Focus Not Obscured (Enhanced)", models.LevelAAA},
	{"2.5.5", "Target Size (Enhanced)", models.LevelAAA},
	{"3.1.3", "Unusual Words", models.LevelAAA},
	{"3.1.4", "Abbreviations", models.LevelAAA},
	{"3.2.5", "Change on Request", models.LevelAAA},
	{"3.3.6", "Error Prevention (All)", models.LevelAAA},
	{"3.3.9", "Accessible Authentication (Enhanced)", models.LevelAAA},
}

func levelRank(level models.ConformanceLevel) int {
	switch level {
	case models.LevelA:
		return 1
	case models.LevelAA:
		return 2
	case models.LevelAAA:
		return 3
	default:
		return 0
	}
}

// CriteriaForLevel returns the criteria a scan at the given conformance
// target must check, in catalog order.
func CriteriaForLevel(level models.ConformanceLevel) []Criterion {
	rank := levelRank(level)
	out := make([]Criterion, 0, len(catalog))
	for _, c := range catalog {
		if levelRank(c.Level) <= rank {
			out = append(out, c)
		}
	}
	return out
}

// SubBatches splits criteria into fixed-size chunks, the unit of
// verification and checkpointing. The last chunk may be short.
func SubBatches(criteria []Criterion, size int) [][]Criterion {
	if size <= 0 {
		size = len(criteria)
	}
	if len(criteria) == 0 {
		return nil
	}
	batches := make([][]Criterion, 0, (len(criteria)+size-1)/size)
	for start := 0; start < len(criteria); start += size {
		end := start + size
		if end > len(criteria) {
			end = len(criteria)
		}
		batches = append(batches, criteria[start:end])
	}
	return batches
}
