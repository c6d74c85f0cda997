// Package transform provides the change ledger and the CST rewrite framework
// shared by all rule-based transformers.
package transform

// Status represents the terminal state of one file's transform attempt.
type Status string

const (
	// StatusSuccess means every attempted transformer applied cleanly
	StatusSuccess Status = "success"
	// StatusPartial means changes were made but at least one needs review
	StatusPartial Status = "partial"
	// StatusNoChanges means the file needed no migration
	StatusNoChanges Status = "no_changes"
	// StatusFailed means the file could not be migrated
	StatusFailed Status = "failed"
)

// Change records a single rewrite in a file's ledger.
// Immutable once recorded.
type Change struct {
	Description   string  `json:"description"`
	Line          int     `json:"line"`
	Original      string  `json:"original"`
	Replacement   string  `json:"replacement"`
	TransformName string  `json:"transformName"`
	Confidence    float64 `json:"confidence"`
	Notes         string  `json:"notes,omitempty"`
}

// Result is the outcome of migrating one file. One per file per attempt;
// the orchestrator owns it and freezes it after the tier decision.
type Result struct {
	FilePath        string   `json:"filePath"`
	Status          Status   `json:"status"`
	OriginalCode    string   `json:"originalCode"`
	TransformedCode string   `json:"transformedCode"`
	Changes         []Change `json:"changes"`
	Errors          []string `json:"errors,omitempty"`
	UsedCache       bool     `json:"usedCache,omitempty"`
	UsedGenerative  bool     `json:"usedGenerative,omitempty"`
}

// ChangeCount returns the number of recorded changes.
func (r *Result) ChangeCount() int {
	return len(r.Changes)
}

// MinConfidence returns the lowest change confidence, or 1.0 for an
// empty ledger.
func (r *Result) MinConfidence() float64 {
	min := 1.0
	for _, c := range r.Changes {
		if c.Confidence < min {
			min = c.Confidence
		}
	}
	return min
}

// ResolveStatus derives a file status from its ledger and errors.
// Any change below the auto-apply threshold forces PARTIAL even when the
// rewrite is structurally complete.
func ResolveStatus(changes []Change, errs []string, autoApplyThreshold float64) Status {
	if len(errs) > 0 {
		return StatusFailed
	}
	if len(changes) == 0 {
		return StatusNoChanges
	}
	for _, c := range changes {
		if c.Confidence < autoApplyThreshold {
			return StatusPartial
		}
	}
	return StatusSuccess
}
