package main

import (
	"upshift/internal/version"

	"github.com/spf13/cobra"
)

var (
	// repoFlag overrides the repository root (default: current directory)
	repoFlag string
)

var rootCmd = &cobra.Command{
	Use:   "upshift",
	Short: "Upshift - automated library migration",
	Long: `Upshift rewrites source code across library version boundaries.
Rule-based transformers handle the mechanical changes; a generative
fallback covers what the rules cannot, behind a quota gate and a
result cache. Every run ends in a risk assessment - nothing is
applied until you accept it.`,
	Version: version.Info(),
}

func init() {
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", ".",
		"Repository root to operate on")
}
