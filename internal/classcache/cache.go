// Package classcache holds verdicts keyed by (message, criterion) fingerprints.
package classcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mikey/sortana/internal/core"
)

const (
	// StoreKey is the persistence key of the verdict map
	StoreKey = "aiCache"
	// LegacyReasonKey held rationales separately before entries were unified
	LegacyReasonKey = "aiReasonCache"
)

// Cache is the persistent verdict map. It is loaded once, lazily, on first use.
type Cache struct {
	store  core.Store
	logger *zap.Logger
	group  singleflight.Group

	mu      sync.RWMutex
	loaded  bool
	entries map[string]core.CacheEntry
}

// New creates a Cache backed by store
func New(store core.Store, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:   store,
		logger:  logger,
		entries: make(map[string]core.CacheEntry),
	}
}

// Load reads the persisted map. Concurrent callers share a single read that
// runs detached from their cancellation. A failed load leaves the cache
// unloaded so the next access retries.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	shared := context.WithoutCancel(ctx)
	_, err, _ := c.group.Do("load", func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.loaded {
			return nil, nil
		}
		if err := c.load(shared); err != nil {
			c.entries = make(map[string]core.CacheEntry)
			return nil, err
		}
		c.loaded = true
		return nil, nil
	})
	return err
}

// load must be called with mu held
func (c *Cache) load(ctx context.Context) error {
	var raw map[string]json.RawMessage
	if _, err := core.LoadJSON(ctx, c.store, StoreKey, &raw); err != nil {
		c.logger.Error("Failed to load classification cache", zap.Error(err))
		return err
	}
	c.entries = decodeEntries(raw)

	var reasons map[string]string
	found, err := core.LoadJSON(ctx, c.store, LegacyReasonKey, &reasons)
	if err != nil {
		c.logger.Error("Failed to load legacy reason cache", zap.Error(err))
		return err
	}
	if found {
		mergeReasons(c.entries, reasons)
		if err := c.save(ctx); err != nil {
			return err
		}
		if err := c.store.Remove(ctx, LegacyReasonKey); err != nil {
			return fmt.Errorf("failed to remove legacy reason cache: %w", err)
		}
		c.logger.Info("Migrated legacy reason cache", zap.Int("reasons", len(reasons)))
	}

	c.logger.Debug("Classification cache loaded", zap.Int("entries", len(c.entries)))
	return nil
}

// Lookup returns the cached verdict for key. ok is false when the pair is
// absent or has not been classified yet.
func (c *Cache) Lookup(ctx context.Context, key string) (matched bool, ok bool) {
	entry, found := c.Entry(ctx, key)
	if !found || entry.Matched == nil {
		return false, false
	}
	return *entry.Matched, true
}

// Reason returns the cached rationale for key
func (c *Cache) Reason(ctx context.Context, key string) (string, bool) {
	entry, found := c.Entry(ctx, key)
	if !found {
		return "", false
	}
	return entry.Reason, true
}

// Entry returns the raw cached entry for key
func (c *Cache) Entry(ctx context.Context, key string) (core.CacheEntry, bool) {
	_ = c.Load(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Write updates only the fields provided and persists the whole map before
// returning. Nothing is written while the persisted map cannot be read.
func (c *Cache) Write(ctx context.Context, key string, matched *bool, reason *string) error {
	if err := c.Load(ctx); err != nil {
		return fmt.Errorf("classification cache not loaded: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.entries[key]
	if matched != nil {
		m := *matched
		entry.Matched = &m
	}
	if reason != nil {
		entry.Reason = *reason
	}
	c.entries[key] = entry

	return c.save(ctx)
}

// Record stores a complete verdict under key
func (c *Cache) Record(ctx context.Context, key string, v core.Verdict) error {
	return c.Write(ctx, key, &v.Matched, &v.Reason)
}

// Invalidate removes keys and reports how many were present. The map is
// persisted only when something was removed.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) (int, error) {
	if err := c.Load(ctx); err != nil {
		return 0, fmt.Errorf("classification cache not loaded: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			delete(c.entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.save(ctx)
}

// Len returns the number of cached entries
func (c *Cache) Len(ctx context.Context) int {
	_ = c.Load(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops the in-memory state so the next access reloads from the store
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = false
	c.entries = make(map[string]core.CacheEntry)
}

// save must be called with mu held
func (c *Cache) save(ctx context.Context) error {
	if err := core.SaveJSON(ctx, c.store, StoreKey, c.entries); err != nil {
		c.logger.Error("Failed to persist classification cache", zap.Error(err))
		return err
	}
	return nil
}
