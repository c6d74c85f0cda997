// Package risk scores a migration batch and decides auto-apply
// eligibility. Assessment is deterministic: identical results always
// produce identical verdicts, and the assessor never fails — degenerate
// input yields a conservative unsafe verdict instead.
package risk

import (
	"fmt"
	"sort"
	"strings"

	"upshift/internal/transform"
)

// Severity grades one risk factor.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Factor is one scored contributor to the overall verdict.
// Derived fresh every assessment, never persisted alone.
type Factor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Score       float64  `json:"score"`
	Mitigation  string   `json:"mitigation,omitempty"`
}

// Assessment is the verdict for one run.
type Assessment struct {
	OverallRisk     Severity `json:"overallRisk"`
	ConfidenceScore float64  `json:"confidenceScore"`
	IsSafe          bool     `json:"isSafe"`
	Factors         []Factor `json:"factors"`
	Recommendations []string `json:"recommendations"`
}

// Factor names are a fixed vocabulary; activation thresholds and
// recommendation templates key off them.
const (
	FactorLowConfidence = "low_confidence_changes"
	FactorFailedFiles   = "failed_files"
	FactorEditVolume    = "edit_volume"
	FactorGenerative    = "generative_changes"
)

// recommendationTemplates maps factor names to deterministic guidance.
var recommendationTemplates = map[string]string{
	FactorLowConfidence: "Review every change below the auto-apply threshold before applying; they are advisory, not guaranteed.",
	FactorFailedFiles:   "Retry or hand-migrate the failed files before applying; the batch is incomplete without them.",
	FactorEditVolume:    "Large rewrites deserve a full diff review; apply file by file rather than all at once.",
	FactorGenerative:    "Model-generated code is not rule-guaranteed; run the affected files' tests before applying.",
}

// Config tunes the assessor.
type Config struct {
	// AutoApplyThreshold separates mechanical from advisory changes.
	AutoApplyThreshold float64
	// ConfidenceFloor is the minimum batch confidence for a safe verdict.
	ConfidenceFloor float64
	// MaxSafeRisk is the risk ceiling for a safe verdict.
	MaxSafeRisk Severity
	// Activation maps factor names to the score a factor must exceed to
	// count toward the overall risk.
	Activation map[string]float64
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold: 0.9,
		ConfidenceFloor:    0.85,
		MaxSafeRisk:        SeverityMedium,
		Activation: map[string]float64{
			FactorLowConfidence: 0.1,
			FactorFailedFiles:   0.0,
			FactorEditVolume:    0.3,
			FactorGenerative:    0.0,
		},
	}
}

// Assessor scores migration batches.
type Assessor struct {
	cfg Config
}

// NewAssessor builds an assessor with the given tuning.
func NewAssessor(cfg Config) *Assessor {
	if cfg.Activation == nil {
		cfg.Activation = DefaultConfig().Activation
	}
	return &Assessor{cfg: cfg}
}

// Assess scores one batch. Order of results does not affect the verdict.
func (a *Assessor) Assess(results []transform.Result) *Assessment {
	if len(results) == 0 {
		return &Assessment{
			OverallRisk:     SeverityLow,
			ConfidenceScore: 1.0,
			IsSafe:          true,
			Factors:         []Factor{},
			Recommendations: []string{},
		}
	}

	factors := []Factor{
		a.lowConfidenceFactor(results),
		a.failureFactor(results),
		a.editVolumeFactor(results),
		a.generativeFactor(results),
	}

	overall := Aggregate(factors, a.cfg.Activation)
	confidence := confidenceScore(results)
	failed := countStatus(results, transform.StatusFailed)

	safe := severityRank[overall] <= severityRank[a.cfg.MaxSafeRisk] &&
		confidence >= a.cfg.ConfidenceFloor &&
		failed == 0

	return &Assessment{
		OverallRisk:     overall,
		ConfidenceScore: confidence,
		IsSafe:          safe,
		Factors:         factors,
		Recommendations: recommendations(factors, a.cfg.Activation),
	}
}

// Aggregate computes the overall risk: the maximum severity among factors
// whose score exceeds that factor's activation threshold. One critical
// factor always dominates; this is not an average.
func Aggregate(factors []Factor, activation map[string]float64) Severity {
	overall := SeverityLow
	for _, f := range factors {
		threshold, ok := activation[f.Name]
		if !ok {
			threshold = 0.0
		}
		if f.Score <= threshold {
			continue
		}
		if f.Severity.AtLeast(overall) {
			overall = f.Severity
		}
	}
	return overall
}

func (a *Assessor) lowConfidenceFactor(results []transform.Result) Factor {
	total, low := 0, 0
	for _, r := range results {
		for _, c := range r.Changes {
			total++
			if c.Confidence < a.cfg.AutoApplyThreshold {
				low++
			}
		}
	}

	score := 0.0
	if total > 0 {
		score = float64(low) / float64(total)
	}

	severity := SeverityLow
	switch {
	case score > 0.5:
		severity = SeverityHigh
	case score > 0.1:
		severity = SeverityMedium
	}

	return Factor{
		Name:        FactorLowConfidence,
		Description: fmt.Sprintf("%d of %d changes fall below the auto-apply confidence threshold", low, total),
		Severity:    severity,
		Score:       score,
		Mitigation:  "review flagged changes individually",
	}
}

func (a *Assessor) failureFactor(results []transform.Result) Factor {
	failed := countStatus(results, transform.StatusFailed)
	partial := countStatus(results, transform.StatusPartial)

	// Any file the pipeline could not finish cleanly makes the batch
	// unsafe to auto-apply: partial presence rates high, failure
	// critical.
	score := float64(failed+partial) / float64(len(results))
	severity := SeverityLow
	switch {
	case failed > 0:
		severity = SeverityCritical
	case partial > 0:
		severity = SeverityHigh
	}

	return Factor{
		Name:        FactorFailedFiles,
		Description: fmt.Sprintf("%d failed and %d partial files out of %d", failed, partial, len(results)),
		Severity:    severity,
		Score:       score,
		Mitigation:  "retry failed files individually",
	}
}

func (a *Assessor) editVolumeFactor(results []transform.Result) Factor {
	totalLines, changed := 0, 0
	for _, r := range results {
		lines := strings.Count(r.OriginalCode, "\n") + 1
		totalLines += lines
		changed += len(r.Changes)
	}

	score := 0.0
	if totalLines > 0 {
		score = float64(changed) / float64(totalLines)
	}
	if score > 1.0 {
		score = 1.0
	}

	severity := SeverityLow
	switch {
	case score > 0.5:
		severity = SeverityHigh
	case score > 0.3:
		severity = SeverityMedium
	}

	return Factor{
		Name:        FactorEditVolume,
		Description: fmt.Sprintf("%d changes across %d source lines", changed, totalLines),
		Severity:    severity,
		Score:       score,
		Mitigation:  "apply and review files incrementally",
	}
}

func (a *Assessor) generativeFactor(results []transform.Result) Factor {
	generative := 0
	for _, r := range results {
		if r.UsedGenerative {
			generative++
		}
	}

	score := float64(generative) / float64(len(results))
	severity := SeverityLow
	switch {
	case score > 0.5:
		severity = SeverityHigh
	case generative > 0:
		severity = SeverityMedium
	}

	return Factor{
		Name:        FactorGenerative,
		Description: fmt.Sprintf("%d of %d files carry model-generated changes", generative, len(results)),
		Severity:    severity,
		Score:       score,
		Mitigation:  "test model-generated files before applying",
	}
}

// confidenceScore is the mean confidence over every recorded change,
// which weights each file by its change count.
func confidenceScore(results []transform.Result) float64 {
	total, sum := 0, 0.0
	for _, r := range results {
		for _, c := range r.Changes {
			total++
			sum += c.Confidence
		}
	}
	if total == 0 {
		return 1.0
	}
	return sum / float64(total)
}

// recommendations renders the fixed template for every activated factor
// at medium severity or above, in a stable order.
func recommendations(factors []Factor, activation map[string]float64) []string {
	var recs []string
	sorted := make([]Factor, len(factors))
	copy(sorted, factors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, f := range sorted {
		threshold := activation[f.Name]
		if f.Score <= threshold {
			continue
		}
		if !f.Severity.AtLeast(SeverityMedium) {
			continue
		}
		if tmpl, ok := recommendationTemplates[f.Name]; ok {
			recs = append(recs, tmpl)
		}
	}
	if recs == nil {
		recs = []string{}
	}
	return recs
}

func countStatus(results []transform.Result, status transform.Status) int {
	n := 0
	for _, r := range results {
		if r.Status == status {
			n++
		}
	}
	return n
}
