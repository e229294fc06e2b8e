package models

// Verdict is the outcome of verifying a single WCAG criterion.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictInapplicable Verdict = "inapplicable"
	VerdictUnknown      Verdict = "unknown"
)

// CriterionResult is one AI verification verdict for one success criterion.
type CriterionResult struct {
	Criterion string  `json:"criterion"`
	Verdict   Verdict `json:"verdict"`
	Note      string  `json:"note,omitempty"`
}
