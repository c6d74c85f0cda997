package fallback

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	upshifterrors "upshift/internal/errors"
	"upshift/internal/lang"
	"upshift/internal/logging"
	"upshift/internal/model"
	"upshift/internal/quota"
	"upshift/internal/storage"
)

// fakeModel returns scripted completions and counts calls. Migrate is
// called from concurrent workers, so call accounting is locked.
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

func newTestMigrator(t *testing.T, client model.Client, gate quota.Gate) *Migrator {
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
	return NewMigrator(client, cache, gate, 4000, 0.2, logging.Nop())
}

func pyRequest(content string) Request {
	return Request{
		User:        "maintainer",
		FilePath:    "models.py",
		Content:     content,
		Library:     "pydantic",
		FromVersion: "1.10.0",
		ToVersion:   "2.0.0",
		Language:    lang.LangPython,
	}
}

func TestMigrateGenerateAndCache(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nx = user.model_dump()\n```"}}
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	out, err := m.Migrate(context.Background(), pyRequest("x = user.dict()\n"))
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if out.UsedCache {
		t.Error("first run must not hit the cache")
	}
	if out.Code != "x = user.model_dump()" {
		t.Errorf("Code = %q", out.Code)
	}
	if gate.Remaining() != 4 {
		t.Errorf("Remaining = %d, want 4 (one confirmed debit)", gate.Remaining())
	}
	if gate.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", gate.Pending())
	}
}

func TestMigrateWarmCacheBypassesModelAndQuota(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nx = user.model_dump()\n```"}}
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	req := pyRequest("x = user.dict()\n")
	first, err := m.Migrate(context.Background(), req)
	if err != nil {
		t.Fatalf("first Migrate failed: %v", err)
	}

	second, err := m.Migrate(context.Background(), req)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if !second.UsedCache {
		t.Error("second run must hit the cache")
	}
	if second.Code != first.Code {
		t.Error("warm cache must return byte-identical code")
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1", client.calls)
	}
	if gate.Remaining() != 4 {
		t.Errorf("cache hit must not consume quota; Remaining = %d, want 4", gate.Remaining())
	}
}

func TestMigrateRepairsBrokenOutput(t *testing.T) {
	// Output has an unterminated string; one repair pass fixes it.
	client := &fakeModel{completions: []string{"```python\nname = \"alice\n```"}}
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	out, err := m.Migrate(context.Background(), pyRequest("name = 'alice'\n"))
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if out.Code != "name = \"alice\"\n" {
		t.Errorf("Code = %q", out.Code)
	}
}

func TestMigrateIrreparableOutputFails(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\ndef broken(:\n    pass\n```"}}
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	_, err := m.Migrate(context.Background(), pyRequest("def ok():\n    pass\n"))
	if err == nil {
		t.Fatal("irreparable output must fail")
	}
	var merr *upshifterrors.MigrationError
	if !errors.As(err, &merr) || merr.Code != upshifterrors.GenerativeInvalidOutput {
		t.Errorf("expected GENERATIVE_INVALID_OUTPUT, got %v", err)
	}

	// Tokens were spent, so the reservation stays debited; nothing dangles.
	if gate.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", gate.Pending())
	}

	// A failed generation must not poison the cache.
	second := &fakeModel{completions: []string{"```python\nx = 1\n```"}}
	m2 := NewMigrator(second, nil, gate, 4000, 0.2, logging.Nop())
	out, err := m2.Migrate(context.Background(), pyRequest("def ok():\n    pass\n"))
	if err != nil || out.UsedCache {
		t.Errorf("cache must not hold invalid output: out=%+v err=%v", out, err)
	}
}

func TestMigrateTransportErrorReleasesReservation(t *testing.T) {
	client := &fakeModel{err: errors.New("connection reset")}
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	_, err := m.Migrate(context.Background(), pyRequest("x = 1\n"))
	if err == nil {
		t.Fatal("transport error must propagate")
	}
	if gate.Remaining() != 5 {
		t.Errorf("failed call must release its reservation; Remaining = %d, want 5", gate.Remaining())
	}
	if gate.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", gate.Pending())
	}
}

func TestMigrateQuotaRefusalSurfaced(t *testing.T) {
	client := &fakeModel{completions: []string{"```python\nx = 1\n```"}}
	gate := quota.NewMemoryGate(0, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	_, err := m.Migrate(context.Background(), pyRequest("x = 1\n"))
	var merr *upshifterrors.MigrationError
	if !errors.As(err, &merr) || merr.Code != upshifterrors.QuotaExhausted {
		t.Errorf("expected QUOTA_EXHAUSTED, got %v", err)
	}
	if client.calls != 0 {
		t.Error("refused reservation must prevent the model call")
	}
}

func TestMigrateUnavailableReportedOnce(t *testing.T) {
	client := &fakeModel{err: model.ErrNotConfigured}
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	_, err := m.Migrate(context.Background(), pyRequest("a = 1\n"))
	var merr *upshifterrors.MigrationError
	if !errors.As(err, &merr) || merr.Code != upshifterrors.GenerativeUnavailable {
		t.Fatalf("expected GENERATIVE_UNAVAILABLE, got %v", err)
	}

	_, err = m.Migrate(context.Background(), pyRequest("b = 2\n"))
	if !errors.As(err, &merr) || merr.Code != upshifterrors.GenerativeUnavailable {
		t.Fatalf("expected latched GENERATIVE_UNAVAILABLE, got %v", err)
	}
	if client.calls != 1 {
		t.Errorf("model calls = %d, want 1 (not retried after unavailability)", client.calls)
	}
	if gate.Remaining() != 5 {
		t.Errorf("unavailability must not burn quota; Remaining = %d", gate.Remaining())
	}
}

func TestMigrateConcurrentUnavailableLatch(t *testing.T) {
	client := &fakeModel{err: model.ErrNotConfigured}
	gate := quota.NewMemoryGate(20, time.Minute, logging.Nop())
	m := newTestMigrator(t, client, gate)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Migrate(context.Background(), pyRequest(fmt.Sprintf("v%d = %d\n", i, i)))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		var merr *upshifterrors.MigrationError
		if !errors.As(err, &merr) || merr.Code != upshifterrors.GenerativeUnavailable {
			t.Errorf("worker %d: expected GENERATIVE_UNAVAILABLE, got %v", i, err)
		}
	}

	before := client.calls
	if _, err := m.Migrate(context.Background(), pyRequest("z = 0\n")); err == nil {
		t.Fatal("latched migrator must keep refusing")
	}
	if client.calls != before {
		t.Errorf("latched migrator reached the model again: %d -> %d calls", before, client.calls)
	}
	if gate.Remaining() != 20 {
		t.Errorf("unavailability must not burn quota; Remaining = %d, want 20", gate.Remaining())
	}
}

func TestBuildPromptIncludesGuidanceAndContext(t *testing.T) {
	gate := quota.NewMemoryGate(5, time.Minute, logging.Nop())
	m := NewMigrator(&fakeModel{}, nil, gate, 4000, 0.2, logging.Nop())

	req := pyRequest("x = user.dict()\n")
	req.Context = "rule pydantic_v2 left 1 advisory finding"
	prompt := m.buildPrompt(req)

	for _, want := range []string{"pydantic 1.10.0", "pydantic 2.0.0", "models.py", "x = user.dict()", "advisory finding"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
