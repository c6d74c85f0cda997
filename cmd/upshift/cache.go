package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"upshift/internal/storage"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the generative migration cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count and stored size",
	Run:   runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached migration result",
	Run:   runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

func openCache() *storage.Cache {
	cfg := mustLoadConfig()
	logger := newLogger(cfg, "human")

	db, err := storage.Open(repoFlag, cfg.Cache.Path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	cache, err := storage.NewCache(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	return cache
}

func runCacheStats(cmd *cobra.Command, args []string) {
	cache := openCache()

	count, bytes, err := cache.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading cache stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Entries: %d\n", count)
	fmt.Printf("Stored:  %d bytes (compressed)\n", bytes)

	entries, err := cache.Entries(10)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing cache entries: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		return
	}
	fmt.Println("\nRecent entries:")
	for _, e := range entries {
		fmt.Printf("  %s %s -> %s (%s)\n",
			e.Library, e.FromVersion, e.ToVersion,
			e.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func runCacheClear(cmd *cobra.Command, args []string) {
	cache := openCache()

	if err := cache.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Cache cleared")
}
