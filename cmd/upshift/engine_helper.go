package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"upshift/internal/config"
	"upshift/internal/engine"
	"upshift/internal/fallback"
	"upshift/internal/knowledge"
	"upshift/internal/lang"
	"upshift/internal/logging"
	"upshift/internal/model"
	"upshift/internal/quota"
	"upshift/internal/registry"
	"upshift/internal/risk"
	"upshift/internal/storage"
)

// newLogger builds a logger from config, quieting human output when the
// command itself prints JSON.
func newLogger(cfg *config.Config, format string) *logging.Logger {
	level := logging.LogLevel(cfg.Logging.Level)
	logFormat := logging.Format(cfg.Logging.Format)
	if format == "json" {
		logFormat = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{Format: logFormat, Level: level})
}

func mustLoadConfig() *config.Config {
	cfg, err := config.LoadConfig(repoFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// services bundles one run's wired dependencies.
type services struct {
	Orchestrator *engine.Orchestrator
	Assessor     *risk.Assessor
	Gate         *quota.MemoryGate
	Cache        *storage.Cache

	db *storage.DB
}

// Close releases the run's resources.
func (s *services) Close() {
	if s.Gate != nil {
		s.Gate.StopSweeper()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// buildServices wires the migration pipeline the way a run needs it:
// registry, knowledge base, cache, quota gate, model client, fallback
// migrator, orchestrator, assessor.
func buildServices(cfg *config.Config, logger *logging.Logger, tier1Only bool) (*services, error) {
	s := &services{}

	kb, err := knowledge.Load(cfg.Knowledge.CatalogueDir)
	if err != nil {
		return nil, err
	}

	var migrator *fallback.Migrator
	if cfg.Engine.FallbackEnabled && !tier1Only {
		if cfg.Cache.Enabled {
			db, err := storage.Open(repoFlag, cfg.Cache.Path, logger)
			if err != nil {
				return nil, err
			}
			s.db = db
			cache, err := storage.NewCache(db)
			if err != nil {
				db.Close()
				s.db = nil
				return nil, err
			}
			s.Cache = cache
		}

		ttl := time.Duration(cfg.Quota.ReservationTtlSeconds) * time.Second
		s.Gate = quota.NewMemoryGate(cfg.Quota.DailyLimit, ttl, logger)
		s.Gate.StartSweeper(time.Duration(cfg.Quota.SweepIntervalSeconds) * time.Second)

		client := model.NewHTTPClient(cfg.Model, logger)
		migrator = fallback.NewMigrator(client, s.Cache, s.Gate,
			cfg.Model.MaxTokens, cfg.Model.Temperature, logger)
	}

	s.Orchestrator = engine.NewOrchestrator(registry.Default(), migrator, kb, engine.Config{
		Workers:            cfg.Engine.Workers,
		AutoApplyThreshold: cfg.Engine.AutoApplyThreshold,
		User:               quotaUser(),
	}, logger)

	s.Assessor = risk.NewAssessor(risk.Config{
		AutoApplyThreshold: cfg.Engine.AutoApplyThreshold,
		ConfidenceFloor:    cfg.Risk.ConfidenceFloor,
		MaxSafeRisk:        risk.Severity(strings.ToLower(cfg.Risk.MaxSafeRisk)),
		Activation:         cfg.Risk.Activation,
	})

	return s, nil
}

func quotaUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

// extensionsFor maps a source language to the file extensions collected
// for it.
func extensionsFor(language lang.Language) []string {
	switch language {
	case lang.LangPython:
		return []string{".py"}
	case lang.LangGo:
		return []string{".go"}
	case lang.LangJavaScript:
		return []string{".js", ".jsx"}
	default:
		return nil
	}
}

// collectFiles gathers the migratable files for one library under root,
// honoring the configured ignore list and size ceiling.
func collectFiles(root, library string, cfg *config.Config) ([]engine.File, error) {
	language, ok := lang.LanguageForLibrary(library)
	if !ok {
		return nil, fmt.Errorf("no migration support for library %q", library)
	}
	extensions := extensionsFor(language)

	ignored := make(map[string]bool, len(cfg.Engine.IgnoreDirs))
	for _, dir := range cfg.Engine.IgnoreDirs {
		ignored[dir] = true
	}

	var files []engine.File
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if ignored[info.Name()] || strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !hasExtension(path, extensions) {
			return nil
		}
		if cfg.Engine.MaxFileSizeBytes > 0 && info.Size() > int64(cfg.Engine.MaxFileSizeBytes) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, engine.File{Path: rel, Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func hasExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}
