// Package report renders the batch report consumed by downstream
// tooling. The JSON field names and nesting are a frozen external
// contract; change them and every consumer breaks.
package report

import (
	"encoding/json"

	"upshift/internal/risk"
	"upshift/internal/transform"
)

// Migration identifies one requested library upgrade.
type Migration struct {
	Library     string `json:"library"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
}

// FileResult is the per-file slice of the report.
type FileResult struct {
	File    string             `json:"file"`
	Changes []transform.Change `json:"changes"`
	Status  transform.Status   `json:"status"`
	Errors  []string           `json:"errors,omitempty"`
}

// Summary carries the batch totals.
type Summary struct {
	MigrationsCount int `json:"migrations_count"`
	FilesChanged    int `json:"files_changed"`
	TotalChanges    int `json:"total_changes"`
}

// Batch is the full report for one run.
type Batch struct {
	Migrations     []Migration      `json:"migrations"`
	Results        []FileResult     `json:"results"`
	RiskAssessment *risk.Assessment `json:"risk_assessment"`
	Summary        Summary          `json:"summary"`
}

// Build assembles a Batch from one run's results. Result order is
// preserved; files with no changes still appear so callers see the
// full inventory.
func Build(migrations []Migration, results []transform.Result, assessment *risk.Assessment) *Batch {
	batch := &Batch{
		Migrations:     migrations,
		Results:        make([]FileResult, 0, len(results)),
		RiskAssessment: assessment,
	}
	if batch.Migrations == nil {
		batch.Migrations = []Migration{}
	}

	filesChanged, totalChanges := 0, 0
	for _, r := range results {
		changes := r.Changes
		if changes == nil {
			changes = []transform.Change{}
		}
		batch.Results = append(batch.Results, FileResult{
			File:    r.FilePath,
			Changes: changes,
			Status:  r.Status,
			Errors:  r.Errors,
		})
		if r.ChangeCount() > 0 {
			filesChanged++
		}
		totalChanges += r.ChangeCount()
	}

	batch.Summary = Summary{
		MigrationsCount: len(batch.Migrations),
		FilesChanged:    filesChanged,
		TotalChanges:    totalChanges,
	}
	return batch
}

// Render serializes the batch as indented JSON.
func (b *Batch) Render() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}
