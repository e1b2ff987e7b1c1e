package cache

import (
	"time"
)

// CacheEntry represents a cached annotation response.
type CacheEntry struct {
	// Fields is the decoded JSON object returned by the service.
	Fields map[string]any `json:"fields"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when we cached this response.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry that expires after ttl.
func NewEntry(fields map[string]any, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Fields:   fields,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
