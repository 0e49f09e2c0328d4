// Package cache holds validation verdicts keyed by stream URL so recently
// checked links are not probed again on every run.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Record is the last liveness verdict for one URL.
type Record struct {
	URL         string    `json:"-"`
	LastChecked time.Time `json:"last_checked"`
	Active      bool      `json:"is_active"`
	// ResolvedURL is the URL that answered, which differs from URL when the
	// check succeeded only after switching scheme.
	ResolvedURL string `json:"resolved_url,omitempty"`
}

// Canonical returns ResolvedURL when set, else URL.
func (r Record) Canonical() string {
	if r.ResolvedURL != "" {
		return r.ResolvedURL
	}
	return r.URL
}

// ShouldRevalidate reports whether rec must be probed again: it is absent
// (nil), was inactive, or is at least ttl old.
func ShouldRevalidate(rec *Record, ttl time.Duration, now time.Time) bool {
	if rec == nil || !rec.Active {
		return true
	}
	return now.Sub(rec.LastChecked) >= ttl
}

// Cache is a concurrent URL -> Record map. All access goes through Lookup and
// Upsert.
type Cache struct {
	m *xsync.MapOf[string, Record]
}

func New() *Cache {
	return &Cache{m: xsync.NewMapOf[string, Record]()}
}

// FromRecords builds a cache from a loaded snapshot.
func FromRecords(records map[string]Record) *Cache {
	c := New()
	for url, rec := range records {
		rec.URL = url
		c.m.Store(url, rec)
	}
	return c
}

// Lookup returns the record for url.
func (c *Cache) Lookup(url string) (Record, bool) {
	return c.m.Load(url)
}

// Upsert records a verdict for url at now. LastChecked never moves backwards.
func (c *Cache) Upsert(url string, active bool, resolvedURL string, now time.Time) Record {
	now = now.Round(0).UTC()
	rec, _ := c.m.Compute(url, func(old Record, loaded bool) (Record, bool) {
		ts := now
		if loaded && old.LastChecked.After(ts) {
			ts = old.LastChecked
		}
		return Record{URL: url, LastChecked: ts, Active: active, ResolvedURL: resolvedURL}, false
	})
	return rec
}

// Snapshot copies the current records.
func (c *Cache) Snapshot() map[string]Record {
	out := make(map[string]Record, c.m.Size())
	c.m.Range(func(url string, rec Record) bool {
		out[url] = rec
		return true
	})
	return out
}

func (c *Cache) Len() int {
	return c.m.Size()
}

// Load reads the store. A missing store yields an empty cache; a corrupt one
// is logged and also yields an empty cache. Load never fails.
func Load(ctx context.Context, store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		return New()
	}
	records, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrCorrupt):
		logger.Warn("validation cache corrupt, starting empty", "error", err)
		return New()
	case err != nil:
		logger.Warn("validation cache unreadable, starting empty", "error", err)
		return New()
	}
	logger.Debug("validation cache loaded", "records", len(records))
	return FromRecords(records)
}

// Save writes a snapshot to store.
func (c *Cache) Save(ctx context.Context, store Store) error {
	if store == nil {
		return nil
	}
	return store.Save(ctx, c.Snapshot())
}
