package main

import (
	"fmt"
	"strings"

	"upshift/internal/report"
	"upshift/internal/transform"
)

// printBatch renders a batch report as JSON or a human summary.
func printBatch(batch *report.Batch, format string) error {
	if format == "json" {
		data, err := batch.Render()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	for _, m := range batch.Migrations {
		fmt.Printf("Migration: %s %s -> %s\n", m.Library, m.FromVersion, m.ToVersion)
	}
	fmt.Println()

	for _, r := range batch.Results {
		fmt.Printf("  %-10s %s", statusGlyph(r.Status), r.File)
		if len(r.Changes) > 0 {
			fmt.Printf(" (%d change(s))", len(r.Changes))
		}
		fmt.Println()
		for _, c := range r.Changes {
			line := ""
			if c.Line > 0 {
				line = fmt.Sprintf(" L%d", c.Line)
			}
			fmt.Printf("      -%s %s [%.2f]\n", line, c.Description, c.Confidence)
			if c.Notes != "" {
				fmt.Printf("         note: %s\n", c.Notes)
			}
		}
		for _, e := range r.Errors {
			fmt.Printf("      error: %s\n", e)
		}
	}

	fmt.Println()
	fmt.Printf("Files: %d changed, %d change(s) total\n",
		batch.Summary.FilesChanged, batch.Summary.TotalChanges)

	if a := batch.RiskAssessment; a != nil {
		verdict := "UNSAFE"
		if a.IsSafe {
			verdict = "safe"
		}
		fmt.Printf("Risk: %s (confidence %.2f) - %s to auto-apply\n",
			strings.ToUpper(string(a.OverallRisk)), a.ConfidenceScore, verdict)
		for _, rec := range a.Recommendations {
			fmt.Printf("  - %s\n", rec)
		}
	}
	return nil
}

func statusGlyph(status transform.Status) string {
	switch status {
	case transform.StatusSuccess:
		return "[ok]"
	case transform.StatusPartial:
		return "[partial]"
	case transform.StatusFailed:
		return "[failed]"
	default:
		return "[--]"
	}
}
