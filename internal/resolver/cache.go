package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/texturin/catatbot/internal/logger"
)

// lifecycle markers appended to ledger descriptions, never part of a
// project's identity.
var lifecycleMarkers = []string{"(Start)", "(Finish)", "(start)", "(finish)"}

// StripLifecycleMarkers removes trailing lifecycle markers from a name.
func StripLifecycleMarkers(name string) string {
	name = strings.TrimSpace(name)
	for changed := true; changed; {
		changed = false
		for _, m := range lifecycleMarkers {
			if strings.HasSuffix(name, m) {
				name = strings.TrimSpace(strings.TrimSuffix(name, m))
				changed = true
			}
		}
	}
	return name
}

// ProjectKey is the canonical registry key for a project name: lifecycle
// markers stripped, then case-folded.
func ProjectKey(name string) string {
	return strings.ToLower(StripLifecycleMarkers(name))
}

// NameSource supplies the authoritative project-name list.
type NameSource func(ctx context.Context) ([]string, error)

// NameCache caches the known project names with a short TTL so resolution
// does not hit the ledger on every message.
type NameCache struct {
	mu        sync.Mutex
	source    NameSource
	ttl       time.Duration
	names     []string
	fetchedAt time.Time
}

// NewNameCache builds a cache over the source with the given TTL.
func NewNameCache(source NameSource, ttl time.Duration) *NameCache {
	return &NameCache{source: source, ttl: ttl}
}

// Names returns the cached name list, refreshing from the source when the
// TTL has lapsed. A failed refresh falls back to the stale list when one
// exists.
func (c *NameCache) Names(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetchedAt) < c.ttl && c.names != nil {
		return c.snapshot(), nil
	}

	fresh, err := c.source(ctx)
	if err != nil {
		if c.names != nil {
			logger.Log.Warn().Err(err).Msg("project name refresh failed, serving stale cache")
			return c.snapshot(), nil
		}
		return nil, err
	}

	cleaned := make([]string, 0, len(fresh))
	seen := make(map[string]struct{}, len(fresh))
	for _, name := range fresh {
		name = StripLifecycleMarkers(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, name)
	}

	c.names = cleaned
	c.fetchedAt = time.Now()
	return c.snapshot(), nil
}

// Add inserts a freshly committed project name without waiting for the next
// refresh.
func (c *NameCache) Add(name string) {
	name = StripLifecycleMarkers(name)
	if name == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	for _, existing := range c.names {
		if strings.ToLower(existing) == key {
			return
		}
	}
	c.names = append(c.names, name)
}

// Invalidate forces a refresh on the next read.
func (c *NameCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

func (c *NameCache) snapshot() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}
