package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configCheck string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the merged configuration (defaults, config file, UPSHIFT_
environment overrides), or check one subsystem's readiness.

Examples:
  upshift config
  upshift config --check=model`,
	Run: runConfig,
}

func init() {
	configCmd.Flags().StringVar(&configCheck, "check", "",
		"Check a subsystem's configuration (model)")

	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()

	if configCheck != "" {
		switch configCheck {
		case "model":
			checkModel(cfg.Model.Endpoint, cfg.Model.APIKeyEnv)
		default:
			fmt.Fprintf(os.Stderr, "Unknown check %q (supported: model)\n", configCheck)
			os.Exit(1)
		}
		return
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func checkModel(endpoint, apiKeyEnv string) {
	ok := true
	if endpoint == "" {
		fmt.Println("model.endpoint: not set")
		ok = false
	} else {
		fmt.Printf("model.endpoint: %s\n", endpoint)
	}
	if os.Getenv(apiKeyEnv) == "" {
		fmt.Printf("%s: not set\n", apiKeyEnv)
		ok = false
	} else {
		fmt.Printf("%s: set\n", apiKeyEnv)
	}

	if !ok {
		fmt.Println("\nGenerative fallback is UNAVAILABLE; rule-based migration still works.")
		os.Exit(1)
	}
	fmt.Println("\nModel access configured.")
}
