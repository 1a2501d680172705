package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// WeatherData is one cached weather reading for a (postalCode, country)
// pair. Fetching it from an upstream weather provider is out of scope for
// this core; WeatherCache only serves whatever has already been cached.
type WeatherData struct {
	Current  objectstore.Value
	Location string
}

// WeatherCache answers whether weather for a postal code is cached, per
// §4.G's "if weather for that (postalCode, country) is cached".
type WeatherCache interface {
	Lookup(ctx context.Context, postalCode, country string) (WeatherData, bool, error)
}

// MemoryWeatherCache is an in-process WeatherCache with a fixed TTL,
// suitable for a single-instance deployment or for tests; a clustered
// deployment would back this with the shared `weather` table instead.
type MemoryWeatherCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]weatherEntry
}

type weatherEntry struct {
	data      WeatherData
	updatedAt time.Time
}

// NewMemoryWeatherCache returns a cache with the §6 default 30-minute TTL.
func NewMemoryWeatherCache(clock func() time.Time) *MemoryWeatherCache {
	return &MemoryWeatherCache{
		ttl:     30 * time.Minute,
		clock:   clock,
		entries: make(map[string]weatherEntry),
	}
}

func weatherCacheKey(postalCode, country string) string { return postalCode + "/" + country }

// Set records a fresh reading, timestamped at the current clock time.
func (c *MemoryWeatherCache) Set(postalCode, country string, data WeatherData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[weatherCacheKey(postalCode, country)] = weatherEntry{data: data, updatedAt: c.clock()}
}

func (c *MemoryWeatherCache) Lookup(_ context.Context, postalCode, country string) (WeatherData, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[weatherCacheKey(postalCode, country)]
	if !ok || c.clock().Sub(entry.updatedAt) > c.ttl {
		return WeatherData{}, false, nil
	}
	return entry.data, true, nil
}

// WeatherReconciler implements §4.G's weather derivation: pick the first
// owned device with a postal code, look it up in the cache, and write the
// result onto every owned device's user object.
type WeatherReconciler struct {
	store    stateStore
	resolver OwnershipResolver
	cache    WeatherCache
	clock    func() time.Time
	logger   *logging.Logger
}

func NewWeatherReconciler(store stateStore, resolver OwnershipResolver, cache WeatherCache, clock func() time.Time, logger *logging.Logger) *WeatherReconciler {
	return &WeatherReconciler{store: store, resolver: resolver, cache: cache, clock: clock, logger: logger}
}

func (r *WeatherReconciler) ReconcileUser(ctx context.Context, userID string) error {
	serials, err := r.resolver.SerialsForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("reconciler: weather: load device set: %w", err)
	}
	if len(serials) == 0 {
		return nil
	}

	postalCode, country, err := r.firstPostalCode(ctx, serials)
	if err != nil {
		return err
	}
	if postalCode == "" {
		return nil
	}

	data, ok, err := r.cache.Lookup(ctx, postalCode, country)
	if err != nil {
		return fmt.Errorf("reconciler: weather: cache lookup: %w", err)
	}
	if !ok {
		return nil
	}

	weather := objectstore.ObjectValue(map[string]objectstore.Value{
		"weather": objectstore.ObjectValue(map[string]objectstore.Value{
			"current":   data.Current,
			"location":  objectstore.StringValue(data.Location),
			"updatedAt": objectstore.NumberValue(float64(r.clock().UnixMilli())),
		}),
	})

	userObjectKey := "user." + userID
	for _, serial := range serials {
		revision, err := nextRevision(ctx, r.store, serial, userObjectKey)
		if err != nil {
			if r.logger != nil {
				r.logger.Error("reconciler: weather: read revision", "serial", serial, "user_id", userID, "error", err)
			}
			continue
		}
		if _, err := r.store.Upsert(ctx, serial, userObjectKey, revision, 0, weather); err != nil {
			if r.logger != nil {
				r.logger.Error("reconciler: weather: write user object", "serial", serial, "user_id", userID, "error", err)
			}
		}
	}
	return nil
}

func (r *WeatherReconciler) firstPostalCode(ctx context.Context, serials []string) (postalCode, country string, err error) {
	for _, serial := range serials {
		device, err := deviceObject(ctx, r.store, serial)
		if err != nil {
			return "", "", fmt.Errorf("reconciler: weather: read device %s: %w", serial, err)
		}
		if pc, ok := stringField(device, "postal_code"); ok && pc != "" {
			c, ok := stringField(device, "country")
			if !ok || c == "" {
				c = "US"
			}
			return pc, c, nil
		}
	}
	return "", "", nil
}
