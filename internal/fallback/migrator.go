// Package fallback implements the generative escalation path: when the
// rule-based tier cannot finish a file, the migrator asks a model, then
// validates, repairs, and caches what comes back.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	upshifterrors "upshift/internal/errors"
	"upshift/internal/knowledge"
	"upshift/internal/lang"
	"upshift/internal/logging"
	"upshift/internal/model"
	"upshift/internal/quota"
	"upshift/internal/storage"
)

const systemPrompt = `You are a source-code migration assistant. You rewrite code to work
with a newer version of a library. Output only the complete rewritten
file in a single fenced code block. Preserve formatting, comments, and
behavior everywhere the migration does not require a change.`

// Request describes one escalation.
type Request struct {
	User        string
	FilePath    string
	Content     string
	Library     string
	FromVersion string
	ToVersion   string
	Language    lang.Language
	// Context carries prior-tier issues worth telling the model about.
	Context string
	// Guidance is the knowledge-base catalogue, nil when none exists.
	Guidance *knowledge.Catalogue
}

// Outcome is one escalation's result.
type Outcome struct {
	Code      string
	UsedCache bool
	Usage     model.Usage
}

// Migrator drives the Generate -> Validate -> Repair -> Validate -> Fail
// machine with a read-through cache in front.
type Migrator struct {
	client model.Client
	cache  *storage.Cache
	gate   quota.Gate
	logger *logging.Logger

	maxTokens   int
	temperature float64

	// unavailable latches after the first not-configured report so the
	// condition is reported once, not retried per file. Migrate is
	// called from concurrent workers.
	unavailable atomic.Bool
}

// NewMigrator builds a migrator. cache may be nil to disable caching.
func NewMigrator(client model.Client, cache *storage.Cache, gate quota.Gate, maxTokens int, temperature float64, logger *logging.Logger) *Migrator {
	return &Migrator{
		client:      client,
		cache:       cache,
		gate:        gate,
		logger:      logger,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Migrate runs one escalation. On any failure the caller keeps the
// pre-fallback code: broken output is never returned.
func (m *Migrator) Migrate(ctx context.Context, req Request) (*Outcome, error) {
	key := CacheKey(req.Content, req.Library, req.FromVersion, req.ToVersion)

	// A cache hit bypasses quota consumption entirely.
	if m.cache != nil {
		cached, found, err := m.cache.Get(key)
		if err != nil {
			m.logger.Warn("Cache lookup failed; regenerating", map[string]interface{}{
				"file":  req.FilePath,
				"error": err.Error(),
			})
		} else if found {
			return &Outcome{Code: cached, UsedCache: true}, nil
		}
	}

	if m.unavailable.Load() {
		return nil, upshifterrors.New(upshifterrors.GenerativeUnavailable, "model access is not configured", nil)
	}

	reservationID, err := m.gate.Reserve(req.User, 1)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Complete(ctx, model.Request{
		Prompt:       m.buildPrompt(req),
		SystemPrompt: systemPrompt,
		MaxTokens:    m.maxTokens,
		Temperature:  m.temperature,
	})
	if err != nil {
		if relErr := m.gate.Release(reservationID); relErr != nil {
			m.logger.Error("Failed to release quota reservation", map[string]interface{}{
				"reservation": reservationID,
				"error":       relErr.Error(),
			})
		}
		if errors.Is(err, model.ErrNotConfigured) {
			m.unavailable.Store(true)
			return nil, upshifterrors.New(upshifterrors.GenerativeUnavailable, "model access is not configured", err)
		}
		return nil, fmt.Errorf("model call for %s failed: %w", req.FilePath, err)
	}

	// Tokens were spent; the reservation is debited regardless of what
	// validation says about the output.
	if err := m.gate.Confirm(reservationID); err != nil {
		m.logger.Error("Failed to confirm quota reservation", map[string]interface{}{
			"reservation": reservationID,
			"error":       err.Error(),
		})
	}

	// Fresh parser per call: the underlying tree-sitter parser is
	// single-threaded and escalations run concurrently.
	parser := lang.NewParser()
	code := ExtractCode(resp.Text)
	valid, err := parser.Validate(ctx, []byte(code), req.Language)
	if err != nil {
		return nil, fmt.Errorf("validating generated code for %s: %w", req.FilePath, err)
	}

	if !valid {
		code = RepairCode(code)
		valid, err = parser.Validate(ctx, []byte(code), req.Language)
		if err != nil {
			return nil, fmt.Errorf("validating repaired code for %s: %w", req.FilePath, err)
		}
		if !valid {
			return nil, upshifterrors.New(upshifterrors.GenerativeInvalidOutput,
				"generated output has syntax errors", nil).WithDetails(req.FilePath)
		}
	}

	if m.cache != nil {
		if err := m.cache.Put(key, req.Library, req.FromVersion, req.ToVersion, code); err != nil {
			m.logger.Warn("Failed to write cache entry", map[string]interface{}{
				"file":  req.FilePath,
				"error": err.Error(),
			})
		}
	}

	return &Outcome{Code: code, UsedCache: false, Usage: resp.Usage}, nil
}

func (m *Migrator) buildPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Migrate the following %s file from %s %s to %s %s.\n\n",
		req.Language, req.Library, req.FromVersion, req.Library, req.ToVersion)

	if req.Guidance != nil {
		sb.WriteString("Known breaking changes in this upgrade:\n")
		sb.WriteString(req.Guidance.PromptSection())
		sb.WriteString("\n")
	}

	if req.Context != "" {
		sb.WriteString("Notes from the rule-based pass:\n")
		sb.WriteString(req.Context)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "File: %s\n\n```%s\n%s\n```\n", req.FilePath, req.Language, strings.TrimRight(req.Content, "\n"))
	return sb.String()
}
