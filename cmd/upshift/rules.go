package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"upshift/internal/knowledge"
	"upshift/internal/registry"
)

var rulesValidate bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List registered transformers and knowledge-base coverage",
	Long: `Show every registered rule-based transformer with the version
ranges it speaks to, plus the knowledge-base catalogues backing the
generative tier.

Examples:
  upshift rules
  upshift rules --validate`,
	Run: runRules,
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesValidate, "validate", false,
		"Validate knowledge-base catalogue files and exit")

	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()

	kb, err := knowledge.Load(cfg.Knowledge.CatalogueDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Knowledge base validation failed: %v\n", err)
		os.Exit(1)
	}
	if rulesValidate {
		fmt.Printf("Knowledge base OK: %d catalogue(s)\n", kb.Count())
		return
	}

	fmt.Println("Registered transformers:")
	for _, reg := range registry.Default().Registrations() {
		fmt.Printf("  %-20s %-12s from %-10s to %s\n",
			reg.Name, reg.Library, reg.FromRange, reg.ToRange)
	}
	fmt.Printf("\nKnowledge-base catalogues: %d\n", kb.Count())
}
