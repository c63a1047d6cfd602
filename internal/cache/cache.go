package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"motion-event-backend/internal/db"
)

var ErrHydrateFailed = errors.New("cache hydration failed")

// Source supplies the newest stored event per sensor for hydration.
type Source interface {
	LoadLatestStates(ctx context.Context) (map[string]db.SensorState, error)
}

// Cache tracks the last accepted event per sensor. The ingestion endpoint uses
// it to judge client-supplied timestamps, so it is read by every request
// handler concurrently.
type Cache struct {
	mu    sync.RWMutex
	store map[string]db.SensorState
}

func New() *Cache {
	return &Cache{store: make(map[string]db.SensorState)}
}

func (c *Cache) Get(sensorID string) (db.SensorState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, exists := c.store[sensorID]
	return state, exists
}

func (c *Cache) Set(sensorID string, state db.SensorState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[sensorID] = state
}

// Observe records a newly accepted event, keeping only the newest timestamp.
func (c *Cache) Observe(sensorID, eventType string, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, exists := c.store[sensorID]
	if exists && cur.LastTimestamp >= ts {
		return
	}
	c.store[sensorID] = db.SensorState{
		SensorID:      sensorID,
		LastEvent:     eventType,
		LastTimestamp: ts,
	}
}

// Hydrate fills the cache from the store's latest-per-sensor view.
func (c *Cache) Hydrate(ctx context.Context, src Source) error {
	const fn = "Cache:Hydrate"
	states, err := src.LoadLatestStates(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrHydrateFailed, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for sensorID, state := range states {
		c.store[sensorID] = state
	}
	slog.InfoContext(ctx, "Cache hydrated", "sensors", len(states))
	return nil
}

func (c *Cache) Dump() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for sensorID, state := range c.store {
		slog.Info("Cache Dump", "sensor_id", sensorID, "state", state)
	}
}
