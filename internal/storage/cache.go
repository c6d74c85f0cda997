package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// CacheEntry represents one cached generative migration result.
type CacheEntry struct {
	Key         string
	Library     string
	FromVersion string
	ToVersion   string
	CreatedAt   time.Time
}

// Cache provides read-through access to cached migration results.
// Entries are keyed by a content hash, so they never go stale: a changed
// source file produces a different key.
type Cache struct {
	db      *DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCache creates a cache over an open database.
func NewCache(db *DB) (*Cache, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Cache{db: db, encoder: encoder, decoder: decoder}, nil
}

// Get retrieves a cached transformed source by key.
func (c *Cache) Get(key string) (string, bool, error) {
	var compressed []byte
	err := c.db.QueryRow(`
		SELECT transformed_zstd FROM migration_cache WHERE key = ?
	`, key).Scan(&compressed)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup failed: %w", err)
	}

	code, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", false, fmt.Errorf("cache entry for %s is corrupt: %w", key, err)
	}
	return string(code), true, nil
}

// Put stores a transformed source under key, replacing any prior entry.
func (c *Cache) Put(key, library, fromVersion, toVersion, transformed string) error {
	compressed := c.encoder.EncodeAll([]byte(transformed), nil)

	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO migration_cache
			(key, library, from_version, to_version, transformed_zstd, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key, library, fromVersion, toVersion, compressed, time.Now().UTC().Format(time.RFC3339))

	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Stats reports entry count and compressed payload bytes.
func (c *Cache) Stats() (int, int64, error) {
	var count int
	var bytes sql.NullInt64
	err := c.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(transformed_zstd)), 0) FROM migration_cache
	`).Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("cache stats failed: %w", err)
	}
	return count, bytes.Int64, nil
}

// Entries returns the most recent cache entries, newest first.
func (c *Cache) Entries(limit int) ([]CacheEntry, error) {
	rows, err := c.db.Query(`
		SELECT key, library, from_version, to_version, created_at
		FROM migration_cache
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("cache listing failed: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var created string
		if err := rows.Scan(&e.Key, &e.Library, &e.FromVersion, &e.ToVersion, &created); err != nil {
			return nil, fmt.Errorf("cache listing failed: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache listing failed: %w", err)
	}
	return entries, nil
}

// Clear removes every cache entry.
func (c *Cache) Clear() error {
	_, err := c.db.Exec("DELETE FROM migration_cache")
	if err != nil {
		return fmt.Errorf("cache clear failed: %w", err)
	}
	return nil
}
