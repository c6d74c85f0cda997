package storage

import (
	"path/filepath"
	"strings"
	"testing"

	"upshift/internal/logging"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := Open("", filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cache, err := NewCache(db)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	return cache
}

func TestCacheMissThenHit(t *testing.T) {
	cache := openTestCache(t)

	if _, found, err := cache.Get("nope"); err != nil || found {
		t.Fatalf("Get on empty cache = (found=%v, err=%v), want miss", found, err)
	}

	code := "from pydantic import BaseModel\n\nclass User(BaseModel):\n    name: str\n"
	if err := cache.Put("k1", "pydantic", "1.10.0", "2.0.0", code); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, found, err := cache.Get("k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if got != code {
		t.Errorf("round-trip mismatch: got %q", got)
	}
}

func TestCachePutReplaces(t *testing.T) {
	cache := openTestCache(t)

	if err := cache.Put("k", "lib", "1.0.0", "2.0.0", "old"); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put("k", "lib", "1.0.0", "2.0.0", "new"); err != nil {
		t.Fatal(err)
	}

	got, found, _ := cache.Get("k")
	if !found || got != "new" {
		t.Errorf("Get = (%q, %v), want (new, true)", got, found)
	}

	count, _, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 after replace", count)
	}
}

func TestCacheCompressionRoundTrip(t *testing.T) {
	cache := openTestCache(t)

	// Large repetitive payload, the shape zstd is carried for.
	code := strings.Repeat("def handler(request):\n    return process(request)\n\n", 500)
	if err := cache.Put("big", "lib", "1.0.0", "2.0.0", code); err != nil {
		t.Fatal(err)
	}

	got, found, err := cache.Get("big")
	if err != nil || !found {
		t.Fatalf("Get = (found=%v, err=%v)", found, err)
	}
	if got != code {
		t.Error("large payload corrupted through compression")
	}

	_, bytes, err := cache.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if bytes >= int64(len(code)) {
		t.Errorf("stored %d bytes for a %d byte payload; compression not applied", bytes, len(code))
	}
}

func TestCacheEntriesListsMetadata(t *testing.T) {
	cache := openTestCache(t)

	if entries, err := cache.Entries(10); err != nil || len(entries) != 0 {
		t.Fatalf("Entries on empty cache = (%d, %v), want none", len(entries), err)
	}

	if err := cache.Put("k1", "pydantic", "1.10.0", "2.5.0", "code"); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put("k2", "requests", "2.25.0", "2.31.0", "code"); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put("k3", "pydantic", "1.10.0", "2.5.0", "other"); err != nil {
		t.Fatal(err)
	}

	entries, err := cache.Entries(10)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	byKey := make(map[string]CacheEntry, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
	}
	got, ok := byKey["k2"]
	if !ok {
		t.Fatal("entry k2 missing from listing")
	}
	if got.Library != "requests" || got.FromVersion != "2.25.0" || got.ToVersion != "2.31.0" {
		t.Errorf("entry metadata = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}

	limited, err := cache.Entries(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("Entries(2) returned %d rows", len(limited))
	}
}

func TestCacheClear(t *testing.T) {
	cache := openTestCache(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := cache.Put(key, "lib", "1.0.0", "2.0.0", "code"); err != nil {
			t.Fatal(err)
		}
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	count, _, _ := cache.Stats()
	if count != 0 {
		t.Errorf("count after clear = %d, want 0", count)
	}
}

func TestReopenExistingDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	db, err := Open("", path, logging.Nop())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	cache, _ := NewCache(db)
	if err := cache.Put("persist", "lib", "1.0.0", "2.0.0", "kept"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := Open("", path, logging.Nop())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()
	cache2, _ := NewCache(db2)

	got, found, err := cache2.Get("persist")
	if err != nil || !found || got != "kept" {
		t.Errorf("entry did not survive reopen: (%q, %v, %v)", got, found, err)
	}
}
