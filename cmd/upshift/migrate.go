package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"upshift/internal/config"
	"upshift/internal/engine"
	"upshift/internal/report"
	"upshift/internal/transform"
)

var (
	migrateLibrary   string
	migrateFrom      string
	migrateTo        string
	migrateFormat    string
	migrateApply     bool
	migrateForce     bool
	migrateTier1Only bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [path]",
	Short: "Migrate source files across a library version boundary",
	Long: `Run the migration pipeline over a directory or a single file.

The run is a dry run by default: it prints the batch report with the
risk assessment and writes nothing. Pass --apply to write transformed
files back; unsafe batches need --force on top.

Examples:
  upshift migrate ./src --library=pydantic --from=1.10.0 --to=2.5.0
  upshift migrate app/models.py --library=sqlalchemy --from=1.4.0 --to=2.0.0 --apply
  upshift migrate ./src --library=pydantic --from=1.10.0 --to=2.5.0 --tier1-only
  upshift migrate ./src --library=requests --from=2.0.0 --to=2.31.0 --format=json`,
	Args: cobra.MaximumNArgs(1),
	Run:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateLibrary, "library", "", "Library being migrated (required)")
	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "Version migrating from (required)")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "Version migrating to (required)")
	migrateCmd.Flags().StringVar(&migrateFormat, "format", "human", "Output format (json, human)")
	migrateCmd.Flags().BoolVar(&migrateApply, "apply", false, "Write transformed files back to disk")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "Apply even when the risk assessment says unsafe")
	migrateCmd.Flags().BoolVar(&migrateTier1Only, "tier1-only", false, "Disable the generative fallback tier")
	migrateCmd.MarkFlagRequired("library")
	migrateCmd.MarkFlagRequired("from")
	migrateCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	start := time.Now()
	cfg := mustLoadConfig()
	logger := newLogger(cfg, migrateFormat)

	target := repoFlag
	if len(args) > 0 {
		target = args[0]
	}

	root, files, err := gatherTarget(target, migrateLibrary, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error collecting files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No migratable files found under %s\n", target)
		os.Exit(1)
	}

	svc, err := buildServices(cfg, logger, migrateTier1Only)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing migration services: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Engine.FileTimeoutMs)*time.Millisecond*time.Duration(len(files)))
	defer cancel()

	results := svc.Orchestrator.SubmitMigration(ctx, files, migrateLibrary, migrateFrom, migrateTo)
	assessment := svc.Assessor.Assess(results)

	batch := report.Build([]report.Migration{{
		Library:     migrateLibrary,
		FromVersion: migrateFrom,
		ToVersion:   migrateTo,
	}}, results, assessment)

	if err := printBatch(batch, migrateFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}

	if migrateApply {
		if !assessment.IsSafe && !migrateForce {
			fmt.Fprintln(os.Stderr, "Refusing to apply: risk assessment is unsafe (use --force to override)")
			os.Exit(1)
		}
		if err := applyResults(root, files, results); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying results: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Debug("Migration run completed", map[string]interface{}{
		"files":    len(files),
		"changes":  batch.Summary.TotalChanges,
		"duration": time.Since(start).Milliseconds(),
	})

	if !assessment.IsSafe {
		os.Exit(1)
	}
}

// gatherTarget reads a single file, or walks a directory for migratable
// sources. Returns the root that result paths are relative to.
func gatherTarget(target, library string, cfg *config.Config) (string, []engine.File, error) {
	info, err := os.Stat(target)
	if err != nil {
		return "", nil, err
	}

	if !info.IsDir() {
		content, err := os.ReadFile(target)
		if err != nil {
			return "", nil, err
		}
		return filepath.Dir(target), []engine.File{
			{Path: filepath.Base(target), Content: string(content)},
		}, nil
	}

	files, err := collectFiles(target, library, cfg)
	if err != nil {
		return "", nil, err
	}
	return target, files, nil
}

// applyResults writes successful and partial rewrites back to disk.
// Failed and unchanged files are left alone; the run already reported
// them.
func applyResults(root string, files []engine.File, results []transform.Result) error {
	byPath := make(map[string]os.FileMode, len(files))
	for _, f := range files {
		info, err := os.Stat(filepath.Join(root, f.Path))
		if err == nil {
			byPath[f.Path] = info.Mode()
		} else {
			byPath[f.Path] = 0o644
		}
	}

	applied := 0
	for _, r := range results {
		if r.Status != transform.StatusSuccess && r.Status != transform.StatusPartial {
			continue
		}
		if r.TransformedCode == r.OriginalCode {
			continue
		}
		path := filepath.Join(root, r.FilePath)
		if err := os.WriteFile(path, []byte(r.TransformedCode), byPath[r.FilePath]); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		applied++
	}
	fmt.Fprintf(os.Stderr, "Applied %d file(s)\n", applied)
	return nil
}
