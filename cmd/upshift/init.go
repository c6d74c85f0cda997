package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"upshift/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default .upshift/config.json in the repository",
	Run:   runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	path := filepath.Join(repoFlag, ".upshift", "config.json")
	if _, err := os.Stat(path); err == nil && !initForce {
		fmt.Fprintf(os.Stderr, "Configuration already exists at %s (use --force to overwrite)\n", path)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.RepoRoot = repoFlag
	if err := cfg.Save(repoFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", path)
}
