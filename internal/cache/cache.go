// Package cache provides the read-through charger-row cache the session
// mediator consults once per session creation (spec §3: "maxPower is
// read once per session creation"). It wraps persistence.Store's
// GetCharger. The mediator invalidates the cached entry after every write
// to the charger row (the ONLINE/OFFLINE upserts at session start and
// close, and SetPersistentLimit), so a session start that follows an
// earlier session's close reads the row from the store.
package cache

import (
	"context"
	"time"
)

// Cache is the narrow key/value contract both backends satisfy.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
