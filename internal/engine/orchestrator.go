// Package engine drives the tiered migration pipeline: rule-based
// transformers first, generative fallback second, with a per-file state
// machine and a bounded worker pool. The engine never touches the
// filesystem; applying results is the caller's step after risk review.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	upshifterrors "upshift/internal/errors"
	"upshift/internal/fallback"
	"upshift/internal/knowledge"
	"upshift/internal/lang"
	"upshift/internal/logging"
	"upshift/internal/registry"
	"upshift/internal/transform"
)

// File is one in-memory source file submitted for migration.
type File struct {
	Path    string
	Content string
}

// Config tunes the orchestrator.
type Config struct {
	// Workers bounds the per-file concurrency.
	Workers int
	// AutoApplyThreshold separates mechanical from advisory changes.
	AutoApplyThreshold float64
	// User is the quota principal charged for generative escalations.
	User string
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Workers:            4,
		AutoApplyThreshold: 0.9,
		User:               "default",
	}
}

// Orchestrator owns one run's services. All dependencies are injected;
// migrator may be nil to disable the generative tier entirely.
type Orchestrator struct {
	registry *registry.Registry
	migrator *fallback.Migrator
	kb       *knowledge.Base
	logger   *logging.Logger
	cfg      Config

	// unavailableReported dedupes the missing-model report across files.
	mu                  sync.Mutex
	unavailableReported bool
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(reg *registry.Registry, migrator *fallback.Migrator, kb *knowledge.Base, cfg Config, logger *logging.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.AutoApplyThreshold <= 0 {
		cfg.AutoApplyThreshold = DefaultConfig().AutoApplyThreshold
	}
	if cfg.User == "" {
		cfg.User = DefaultConfig().User
	}
	return &Orchestrator{
		registry: reg,
		migrator: migrator,
		kb:       kb,
		logger:   logger,
		cfg:      cfg,
	}
}

// SubmitMigration migrates a batch of files for one library upgrade.
// Results come back in input order; one bad file never aborts the batch.
// The call is synchronous and writes nothing to disk.
func (o *Orchestrator) SubmitMigration(ctx context.Context, files []File, library, fromVersion, toVersion string) []transform.Result {
	results := make([]transform.Result, len(files))

	runID := uuid.NewString()
	language, known := lang.LanguageForLibrary(library)
	var guidance *knowledge.Catalogue
	if o.kb != nil {
		guidance = o.kb.Lookup(library, fromVersion, toVersion)
	}

	o.logger.Info("Starting migration batch", map[string]interface{}{
		"run":     runID,
		"library": library,
		"from":    fromVersion,
		"to":      toVersion,
		"files":   len(files),
		"workers": o.cfg.Workers,
	})

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker owns its parser: the underlying tree-sitter
			// parser is single-threaded.
			parser := lang.NewParser()
			for idx := range jobs {
				file := files[idx]
				if !known {
					results[idx] = unchangedResult(file, transform.StatusNoChanges)
					continue
				}
				results[idx] = o.migrateFile(ctx, parser, file, library, fromVersion, toVersion, language, guidance)
			}
		}()
	}

	// Cancellation is cooperative between files; a file already in
	// flight finishes.
dispatch:
	for i := range files {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	// Files never dispatched because of cancellation surface as failed
	// with the cancellation recorded.
	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].FilePath == "" {
				r := unchangedResult(files[i], transform.StatusFailed)
				r.Errors = []string{fmt.Sprintf("migration cancelled: %v", err)}
				results[i] = r
			}
		}
	}

	counts := map[transform.Status]int{}
	for i := range results {
		counts[results[i].Status]++
	}
	o.logger.Info("Migration batch finished", map[string]interface{}{
		"run":       runID,
		"success":   counts[transform.StatusSuccess],
		"partial":   counts[transform.StatusPartial],
		"unchanged": counts[transform.StatusNoChanges],
		"failed":    counts[transform.StatusFailed],
	})

	return results
}

// migrateFile runs the per-file state machine: rule tier, then
// escalation when the rules could not finish the job.
func (o *Orchestrator) migrateFile(ctx context.Context, parser *lang.Parser, file File, library, fromVersion, toVersion string, language lang.Language, guidance *knowledge.Catalogue) transform.Result {
	transformers := o.registry.TransformersFor(library, fromVersion, toVersion)

	result := o.runRuleTier(ctx, parser, file, transformers)

	switch {
	case result.Status == transform.StatusSuccess:
		return result
	case result.Status == transform.StatusNoChanges && len(transformers) == 0:
		// Nothing registered can speak to this upgrade.
		return result
	}

	if o.migrator == nil {
		return result
	}
	return o.escalate(ctx, file, result, library, fromVersion, toVersion, language, guidance)
}

// runRuleTier applies every registered transformer in declared order,
// each seeing the previous one's output. A panicking transformer fails
// the file, not the batch.
func (o *Orchestrator) runRuleTier(ctx context.Context, parser *lang.Parser, file File, transformers []*transform.RuleSet) transform.Result {
	source := []byte(file.Content)
	var changes []transform.Change
	var errs []string

	for _, rs := range transformers {
		out, ruleChanges, err := o.applyRuleSet(ctx, parser, rs, source)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		source = out
		changes = append(changes, ruleChanges...)
	}

	return transform.Result{
		FilePath:        file.Path,
		Status:          transform.ResolveStatus(changes, errs, o.cfg.AutoApplyThreshold),
		OriginalCode:    file.Content,
		TransformedCode: string(source),
		Changes:         changes,
		Errors:          errs,
	}
}

func (o *Orchestrator) applyRuleSet(ctx context.Context, parser *lang.Parser, rs *transform.RuleSet, source []byte) (out []byte, changes []transform.Change, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Transformer panicked", map[string]interface{}{
				"transformer": rs.Name,
				"panic":       fmt.Sprintf("%v", r),
				"stack":       string(debug.Stack()),
			})
			err = upshifterrors.New(upshifterrors.RuleApplicationError,
				fmt.Sprintf("transformer %s failed: %v", rs.Name, r), nil)
		}
	}()

	out, changes, err = rs.Apply(ctx, parser, source)
	if err != nil {
		return nil, nil, upshifterrors.New(upshifterrors.RuleApplicationError,
			fmt.Sprintf("transformer %s failed", rs.Name), err)
	}
	return out, changes, nil
}

// escalate hands the file to the generative tier with the rule tier's
// output as base text and its errors as context.
func (o *Orchestrator) escalate(ctx context.Context, file File, prior transform.Result, library, fromVersion, toVersion string, language lang.Language, guidance *knowledge.Catalogue) transform.Result {
	outcome, err := o.migrator.Migrate(ctx, fallback.Request{
		User:        o.cfg.User,
		FilePath:    file.Path,
		Content:     prior.TransformedCode,
		Library:     library,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Language:    language,
		Context:     strings.Join(prior.Errors, "; "),
		Guidance:    guidance,
	})
	if err != nil {
		return o.escalationFailed(file, prior, err)
	}

	if outcome.Code == prior.TransformedCode {
		// The model agreed with the rule tier: nothing further to do.
		// An idle escalation must not change the verdict or the ledger.
		return prior
	}

	merged := prior
	merged.TransformedCode = outcome.Code
	merged.UsedGenerative = true
	merged.UsedCache = outcome.UsedCache
	merged.Changes = append(merged.Changes, transform.Change{
		Description:   "assisted migration applied",
		TransformName: "generative_fallback",
		Confidence:    0.8,
		Notes:         "model-generated rewrite; review before applying",
	})
	merged.Errors = nil

	// The synthetic entry is exempt from the confidence gate; only the
	// rule tier's own changes can hold the file at partial.
	merged.Status = transform.StatusSuccess
	if prior.MinConfidence() < o.cfg.AutoApplyThreshold {
		merged.Status = transform.StatusPartial
	}
	return merged
}

// escalationFailed maps a fallback error onto the file's final state.
func (o *Orchestrator) escalationFailed(file File, prior transform.Result, err error) transform.Result {
	code := upshifterrors.CodeOf(err)

	switch code {
	case upshifterrors.QuotaExhausted:
		// Keep the pre-escalation status but surface the refusal; a
		// quota refusal is never a silent downgrade.
		prior.Errors = append(prior.Errors, err.Error())
		o.logger.Warn("Generative escalation refused by quota", map[string]interface{}{
			"file": file.Path,
		})
		return prior

	case upshifterrors.GenerativeUnavailable:
		prior.Errors = append(prior.Errors, o.reportUnavailableOnce(err))
		return prior
	}

	// Invalid output or a transport failure: the file fails and the
	// original content is preserved verbatim.
	failed := unchangedResult(file, transform.StatusFailed)
	failed.Errors = append(append([]string{}, prior.Errors...), err.Error())
	o.logger.Warn("Generative escalation failed", map[string]interface{}{
		"file":  file.Path,
		"error": err.Error(),
	})
	return failed
}

// reportUnavailableOnce logs the missing-model condition on first sight
// and returns the per-file error text.
func (o *Orchestrator) reportUnavailableOnce(err error) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.unavailableReported {
		o.unavailableReported = true
		o.logger.Error("Model access is not configured; generative tier disabled for this run", nil)
	}
	return err.Error()
}

func unchangedResult(file File, status transform.Status) transform.Result {
	return transform.Result{
		FilePath:        file.Path,
		Status:          status,
		OriginalCode:    file.Content,
		TransformedCode: file.Content,
	}
}
