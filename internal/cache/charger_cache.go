package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/metrics"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

const chargerTTL = 30 * time.Second

type cachedCharger struct {
	Status   persistence.ChargerStatus `json:"status"`
	MaxPower *float64                  `json:"maxPower,omitempty"`
}

// ChargerCache wraps a persistence.Store with a read-through Cache for the
// session-start lookup of a charger's persistent row (spec §3). Entries
// live for chargerTTL unless Invalidate drops them first, which the
// mediator does after each write to the row.
type ChargerCache struct {
	store persistence.Store
	cache Cache
	log   *zap.Logger
}

// NewChargerCache builds a read-through cache in front of store. cache
// may be a RedisCache or a LocalCache fallback; either satisfies Cache.
func NewChargerCache(store persistence.Store, cache Cache, log *zap.Logger) *ChargerCache {
	return &ChargerCache{store: store, cache: cache, log: log}
}

func chargerKey(chargePointID string) string {
	return fmt.Sprintf("charger:%s", chargePointID)
}

// GetCharger returns the persistent row for chargePointID, preferring
// the cache and falling back to the store on a miss.
func (c *ChargerCache) GetCharger(ctx context.Context, chargePointID string) (*persistence.ChargerRow, error) {
	if raw, err := c.cache.Get(ctx, chargerKey(chargePointID)); err == nil {
		var cc cachedCharger
		if jsonErr := json.Unmarshal([]byte(raw), &cc); jsonErr == nil {
			metrics.CacheAccessTotal.WithLabelValues("hit").Inc()
			return &persistence.ChargerRow{ChargePointID: chargePointID, Status: cc.Status, MaxPower: cc.MaxPower}, nil
		}
	}
	metrics.CacheAccessTotal.WithLabelValues("miss").Inc()

	row, err := c.store.GetCharger(ctx, chargePointID)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(cachedCharger{Status: row.Status, MaxPower: row.MaxPower}); err == nil {
		if err := c.cache.Set(ctx, chargerKey(chargePointID), b, chargerTTL); err != nil {
			c.log.Warn("failed to populate charger cache", zap.String("chargePointId", chargePointID), zap.Error(err))
		}
	}
	return row, nil
}

// Invalidate drops the cached entry for chargePointID, used after
// SetPersistentLimit writes so the next session start sees the change.
func (c *ChargerCache) Invalidate(ctx context.Context, chargePointID string) {
	if err := c.cache.Delete(ctx, chargerKey(chargePointID)); err != nil {
		c.log.Warn("failed to invalidate charger cache", zap.String("chargePointId", chargePointID), zap.Error(err))
	}
}
