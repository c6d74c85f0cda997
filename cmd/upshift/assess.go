package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	assessLibrary string
	assessFrom    string
	assessTo      string
	assessFormat  string
)

var assessCmd = &cobra.Command{
	Use:   "assess [path]",
	Short: "Dry-run a migration and print only the risk assessment",
	Long: `Run the full pipeline without writing anything and report the
risk verdict: overall risk, confidence score, per-factor breakdown,
and whether the batch is safe to auto-apply.

Examples:
  upshift assess ./src --library=pydantic --from=1.10.0 --to=2.5.0
  upshift assess ./src --library=sqlalchemy --from=1.4.0 --to=2.0.0 --format=json`,
	Args: cobra.MaximumNArgs(1),
	Run:  runAssess,
}

func init() {
	assessCmd.Flags().StringVar(&assessLibrary, "library", "", "Library being migrated (required)")
	assessCmd.Flags().StringVar(&assessFrom, "from", "", "Version migrating from (required)")
	assessCmd.Flags().StringVar(&assessTo, "to", "", "Version migrating to (required)")
	assessCmd.Flags().StringVar(&assessFormat, "format", "human", "Output format (json, human)")
	assessCmd.MarkFlagRequired("library")
	assessCmd.MarkFlagRequired("from")
	assessCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(assessCmd)
}

func runAssess(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	logger := newLogger(cfg, assessFormat)

	target := repoFlag
	if len(args) > 0 {
		target = args[0]
	}

	_, files, err := gatherTarget(target, assessLibrary, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error collecting files: %v\n", err)
		os.Exit(1)
	}

	svc, err := buildServices(cfg, logger, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing migration services: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Engine.FileTimeoutMs)*time.Millisecond*time.Duration(len(files)+1))
	defer cancel()

	results := svc.Orchestrator.SubmitMigration(ctx, files, assessLibrary, assessFrom, assessTo)
	assessment := svc.Assessor.Assess(results)

	if assessFormat == "json" {
		data, err := json.MarshalIndent(assessment, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
	} else {
		verdict := "UNSAFE to auto-apply"
		if assessment.IsSafe {
			verdict = "safe to auto-apply"
		}
		fmt.Printf("Overall risk: %s\n", assessment.OverallRisk)
		fmt.Printf("Confidence:   %.2f\n", assessment.ConfidenceScore)
		fmt.Printf("Verdict:      %s\n\n", verdict)
		for _, f := range assessment.Factors {
			fmt.Printf("  %-24s %-8s %.2f  %s\n", f.Name, f.Severity, f.Score, f.Description)
		}
		for _, rec := range assessment.Recommendations {
			fmt.Printf("\n  - %s", rec)
		}
		fmt.Println()
	}

	if !assessment.IsSafe {
		os.Exit(1)
	}
}
