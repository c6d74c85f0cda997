package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"upshift/internal/fallback"
	"upshift/internal/knowledge"
	"upshift/internal/lang"
	"upshift/internal/logging"
	"upshift/internal/model"
	"upshift/internal/quota"
	"upshift/internal/registry"
	"upshift/internal/storage"
	"upshift/internal/transform"
)

// fakeModel returns scripted completions and counts calls. Escalations
// run from concurrent workers, so call accounting is locked.
type fakeModel struct {
	mu          sync.Mutex
	completions []string
	err         error
	calls       int
}

func (f *fakeModel) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	text := f.completions[0]
	if len(f.completions) > 1 {
		f.completions = f.completions[1:]
	}
	return &model.Response{Text: text, Usage: model.Usage{PromptTokens: 10, CompletionTokens: 20}}, nil
}

func newTestCache(t *testing.T) *storage.Cache {
	t.Helper()
	db, err := storage.Open("", filepath.Join(t.TempDir(), "cache.db"), logging.Nop())
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache, err := storage.NewCache(db)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return cache
}

func newOrchestrator(t *testing.T, client model.Client, cache *storage.Cache, gate quota.Gate) *Orchestrator {
	t.Helper()
	var migrator *fallback.Migrator
	if client != nil {
		migrator = fallback.NewMigrator(client, cache, gate, 4000, 0.2, logging.Nop())
	}
	kb, err := knowledge.Load("")
	if err != nil {
		t.Fatalf("knowledge.Load failed: %v", err)
	}
	return NewOrchestrator(registry.Default(), migrator, kb, Config{Workers: 2, AutoApplyThreshold: 0.9, User: "maintainer"}, logging.Nop())
}

func submit(t *testing.T, o *Orchestrator, files []File) []transform.Result {
	t.Helper()
	return o.SubmitMigration(context.Background(), files, "pydantic", "1.10.0", "2.5.0")
}

const configAndDictSource = `from pydantic import BaseModel, ConfigDict

class User(BaseModel):
    name: str

    class Config:
        orm_mode = True

def dump(user: User) -> dict:
    return user.dict()
`

func TestSubmitMigrationRuleTierSuccess(t *testing.T) {
	o := newOrchestrator(t, nil, nil, nil)

	results := submit(t, o, []File{{Path: "app/models.py", Content: configAndDictSource}})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Status != transform.StatusSuccess {
		t.Fatalf("Status = %s, want success (errors: %v)", r.Status, r.Errors)
	}
	if len(r.Changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(r.Changes), r.Changes)
	}
	for _, c := range r.Changes {
		if c.Confidence != 1.0 {
			t.Errorf("change %q confidence = %v, want 1.0", c.Description, c.Confidence)
		}
	}
	if !strings.Contains(r.TransformedCode, "model_config = ConfigDict(from_attributes=True)") {
		t.Errorf("config class not rewritten:\n%s", r.TransformedCode)
	}
	if !strings.Contains(r.TransformedCode, "user.model_dump()") {
		t.Errorf("method call not renamed:\n%s", r.TransformedCode)
	}
	if r.UsedGenerative || r.UsedCache {
		t.Error("rule-tier result must not be marked generative or cached")
	}
}

func TestSubmitMigrationIdempotentOnMigratedFile(t *testing.T) {
	o := newOrchestrator(t, nil, nil, nil)

	first := submit(t, o, []File{{Path: "app/models.py", Content: configAndDictSource}})
	second := submit(t, o, []File{{Path: "app/models.py", Content: first[0].TransformedCode}})

	r := second[0]
	if r.Status != transform.StatusNoChanges {
		t.Errorf("Status = %s, want no_changes", r.Status)
	}
	if len(r.Changes) != 0 {
		t.Errorf("ledger not empty on re-run: %+v", r.Changes)
	}
	if r.TransformedCode != first[0].TransformedCode {
		t.Error("re-run modified an already-migrated file")
	}
}

func TestSubmitMigrationEscalatesUncoveredRename(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nu = item.model_copy()\n```"}}
	gate := quota.NewMemoryGate(10, time.Minute, logging.Nop())
	o := newOrchestrator(t, client, newTestCache(t), gate)

	results := submit(t, o, []File{{Path: "app/clone.py", Content: "u = item.copy()"}})

	r := results[0]
	if r.Status != transform.StatusSuccess {
		t.Fatalf("Status = %s, want success (errors: %v)", r.Status, r.Errors)
	}
	if len(r.Changes) != 1 {
		t.Fatalf("got %d changes, want 1 synthetic entry", len(r.Changes))
	}
	c := r.Changes[0]
	if c.Description != "assisted migration applied" || c.Confidence != 0.8 {
		t.Errorf("synthetic change = %+v", c)
	}
	if c.Notes == "" {
		t.Error("synthetic change needs a reviewer note")
	}
	if !r.UsedGenerative || r.UsedCache {
		t.Errorf("UsedGenerative = %v, UsedCache = %v", r.UsedGenerative, r.UsedCache)
	}
	if r.TransformedCode != "u = item.model_copy()" {
		t.Errorf("TransformedCode = %q", r.TransformedCode)
	}
}

func TestSubmitMigrationWarmCacheSkipsQuota(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nu = item.model_copy()\n```"}}
	gate := quota.NewMemoryGate(10, time.Minute, logging.Nop())
	cache := newTestCache(t)

	first := submit(t, newOrchestrator(t, client, cache, gate),
		[]File{{Path: "app/clone.py", Content: "u = item.copy()"}})
	remainingAfterFirst := gate.Remaining()

	// Fresh orchestrator, same cache: the repeat run must be served
	// without a model call or a reservation.
	second := submit(t, newOrchestrator(t, client, cache, gate),
		[]File{{Path: "app/clone.py", Content: "u = item.copy()"}})

	if second[0].TransformedCode != first[0].TransformedCode {
		t.Errorf("warm-cache output differs:\n%q\nvs\n%q", second[0].TransformedCode, first[0].TransformedCode)
	}
	if !second[0].UsedCache {
		t.Error("UsedCache = false on warm-cache run")
	}
	if client.calls != 1 {
		t.Errorf("model called %d times, want 1", client.calls)
	}
	if gate.Remaining() != remainingAfterFirst {
		t.Errorf("warm-cache run consumed quota: %d -> %d", remainingAfterFirst, gate.Remaining())
	}
}

func TestSubmitMigrationInvalidOutputFailsFile(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\ndef broken(:\n    pass\n```"}}
	gate := quota.NewMemoryGate(10, time.Minute, logging.Nop())
	o := newOrchestrator(t, client, nil, gate)

	results := submit(t, o, []File{{Path: "app/clone.py", Content: "u = item.copy()"}})

	r := results[0]
	if r.Status != transform.StatusFailed {
		t.Fatalf("Status = %s, want failed", r.Status)
	}
	if r.TransformedCode != r.OriginalCode {
		t.Error("failed file must preserve the original content verbatim")
	}
	if len(r.Errors) == 0 || !strings.Contains(r.Errors[0], "syntax errors") {
		t.Errorf("Errors = %v, want syntax-error report", r.Errors)
	}
	if len(r.Changes) != 0 {
		t.Errorf("failed file must carry an empty ledger: %+v", r.Changes)
	}
}

func TestSubmitMigrationQuotaExhaustedKeepsPriorStatus(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nx = 1\n```"}}
	gate := quota.NewMemoryGate(0, time.Minute, logging.Nop())
	o := newOrchestrator(t, client, nil, gate)

	results := submit(t, o, []File{{Path: "app/clone.py", Content: "u = item.copy()"}})

	r := results[0]
	if r.Status != transform.StatusNoChanges {
		t.Errorf("Status = %s, want pre-escalation no_changes", r.Status)
	}
	if len(r.Errors) == 0 || !strings.Contains(r.Errors[0], "QUOTA_EXHAUSTED") {
		t.Errorf("Errors = %v, want explicit quota refusal", r.Errors)
	}
	if client.calls != 0 {
		t.Errorf("model called %d times after quota refusal, want 0", client.calls)
	}
}

func TestSubmitMigrationModelAgreesKeepsVerdict(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nu = item.copy()\n```"}}
	gate := quota.NewMemoryGate(10, time.Minute, logging.Nop())
	o := newOrchestrator(t, client, nil, gate)

	results := submit(t, o, []File{{Path: "app/clone.py", Content: "u = item.copy()"}})

	r := results[0]
	if r.Status != transform.StatusNoChanges {
		t.Errorf("Status = %s, want no_changes when the model returns the input", r.Status)
	}
	if r.UsedGenerative {
		t.Error("idle escalation must not mark the file generative")
	}
	if len(r.Changes) != 0 {
		t.Errorf("idle escalation must not add ledger entries: %+v", r.Changes)
	}
}

func TestSubmitMigrationUnknownLibrary(t *testing.T) {
	o := newOrchestrator(t, nil, nil, nil)

	results := o.SubmitMigration(context.Background(),
		[]File{{Path: "main.tf", Content: "resource {}"}}, "terraform", "1.0.0", "2.0.0")

	if results[0].Status != transform.StatusNoChanges {
		t.Errorf("Status = %s, want no_changes for unknown library", results[0].Status)
	}
}

func TestSubmitMigrationCancelledContext(t *testing.T) {
	o := newOrchestrator(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := o.SubmitMigration(ctx,
		[]File{{Path: "a.py", Content: "x = 1"}, {Path: "b.py", Content: "y = 2"}},
		"pydantic", "1.10.0", "2.5.0")

	for _, r := range results {
		if r.Status != transform.StatusFailed {
			t.Errorf("%s: Status = %s, want failed on cancelled run", r.FilePath, r.Status)
		}
		if len(r.Errors) == 0 {
			t.Errorf("%s: cancellation not recorded", r.FilePath)
		}
		if r.TransformedCode != r.OriginalCode {
			t.Errorf("%s: cancelled file was modified", r.FilePath)
		}
	}
}

func TestSubmitMigrationPanickingTransformerFailsFileOnly(t *testing.T) {
	reg := registry.NewRegistry()
	err := reg.Register(registry.Registration{
		Name:      "exploding_rule",
		Library:   "pydantic",
		FromRange: "< 2.0.0",
		ToRange:   ">= 2.0.0",
		Factory: func() *transform.RuleSet {
			return &transform.RuleSet{
				Name:     "exploding_rule",
				Library:  "pydantic",
				Language: lang.LangPython,
				Handlers: map[transform.NodeKind]transform.Handler{
					transform.KindCall: func(node *sitter.Node, source []byte) []transform.Rewrite {
						panic("boom")
					},
				},
			}
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	o := NewOrchestrator(reg, nil, nil, Config{Workers: 1}, logging.Nop())

	results := o.SubmitMigration(context.Background(),
		[]File{
			{Path: "a.py", Content: "f()"},
			{Path: "b.py", Content: "x = 1"},
		},
		"pydantic", "1.10.0", "2.5.0")

	if results[0].Status != transform.StatusFailed {
		t.Errorf("a.py Status = %s, want failed", results[0].Status)
	}
	if len(results[0].Errors) == 0 || !strings.Contains(results[0].Errors[0], "RULE_APPLICATION_ERROR") {
		t.Errorf("a.py Errors = %v, want rule application error", results[0].Errors)
	}
	if results[1].Status != transform.StatusNoChanges {
		t.Errorf("b.py Status = %s, want no_changes; one bad file must not poison the batch", results[1].Status)
	}
}

func TestSubmitMigrationParallelBatch(t *testing.T) {
	kb, err := knowledge.Load("")
	if err != nil {
		t.Fatalf("knowledge.Load failed: %v", err)
	}
	o := NewOrchestrator(registry.Default(), nil, kb,
		Config{Workers: 4, AutoApplyThreshold: 0.9, User: "maintainer"}, logging.Nop())

	var files []File
	for i := 0; i < 12; i++ {
		files = append(files, File{
			Path:    fmt.Sprintf("app/model_%02d.py", i),
			Content: configAndDictSource,
		})
	}

	results := submit(t, o, files)

	if len(results) != len(files) {
		t.Fatalf("got %d results, want %d", len(results), len(files))
	}
	for i, r := range results {
		if r.FilePath != files[i].Path {
			t.Errorf("results[%d] = %s, want %s", i, r.FilePath, files[i].Path)
		}
		if r.Status != transform.StatusSuccess {
			t.Errorf("%s: Status = %s, want success (errors: %v)", r.FilePath, r.Status, r.Errors)
		}
		if len(r.Changes) != 2 {
			t.Errorf("%s: got %d changes, want 2", r.FilePath, len(r.Changes))
		}
		if !strings.Contains(r.TransformedCode, "model_config = ConfigDict(from_attributes=True)") {
			t.Errorf("%s: config class not rewritten", r.FilePath)
		}
	}
}

func TestSubmitMigrationPreservesInputOrder(t *testing.T) {
	o := newOrchestrator(t, nil, nil, nil)
	files := []File{
		{Path: "one.py", Content: "x = 1"},
		{Path: "two.py", Content: "y = 2"},
		{Path: "three.py", Content: "z = 3"},
	}

	results := submit(t, o, files)

	for i, f := range files {
		if results[i].FilePath != f.Path {
			t.Errorf("results[%d] = %s, want %s", i, results[i].FilePath, f.Path)
		}
	}
}
