// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"math"
	"sync"
	"time"
)

// coordPrecision is the precision used to quantize coordinates (0.0001 degrees ≈ 11 m)
const coordPrecision = 1e-4

type cacheKey struct {
	Provider string
	LatQ     int32
	LonQ     int32
	Max      int
}

type cacheEntry struct {
	Addresses []Address
	Expiry    time.Time
}

// CachedGeocoder caches the answers of a Geocoder. Found addresses are kept for ttlHit, empty
// answers for ttlMiss. Errors are never cached.
type CachedGeocoder struct {
	coder   Geocoder
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewCachedGeocoder(coder Geocoder, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		coder:   coder,
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

func (c *CachedGeocoder) Name() string {
	return c.coder.Name()
}

func (c *CachedGeocoder) Reverse(ctx context.Context, lat, lon float64, max int) ([]Address, error) {
	if err := ValidateCoordinate(lat, lon); err != nil {
		return nil, err
	}
	key := newKey(c.coder.Name(), lat, lon, max)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.Expiry) {
		return entry.Addresses, nil
	}

	addrs, err := c.coder.Reverse(ctx, lat, lon, max)
	if err != nil {
		return nil, err
	}

	ttl := c.ttlHit
	if len(addrs) == 0 {
		ttl = c.ttlMiss
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{
		Addresses: addrs,
		Expiry:    time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return addrs, nil
}

// Purge removes all expired entries from the cache and returns how many were removed.
func (c *CachedGeocoder) Purge() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	purged := 0
	for key, entry := range c.cache {
		if !now.Before(entry.Expiry) {
			delete(c.cache, key)
			purged++
		}
	}
	return purged
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}

func newKey(provider string, lat, lon float64, max int) cacheKey {
	return cacheKey{
		Provider: provider,
		LatQ:     quantizeCoord(lat),
		LonQ:     quantizeCoord(lon),
		Max:      max,
	}
}
