// Package persistence defines the narrow contract the session mediator
// uses for durable state: configuration, charger rows, message logging,
// and user lookup. Any backend honoring this interface is acceptable;
// internal/persistence/postgres is the reference implementation.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("persistence: not found")

// ChargerStatus is the ONLINE/OFFLINE state of a persisted charger row.
type ChargerStatus string

const (
	StatusOnline  ChargerStatus = "ONLINE"
	StatusOffline ChargerStatus = "OFFLINE"
)

// ChargerRow is the persistent row for a charge point, keyed by
// ChargePointID. MaxPower, when set, is the durable per-charger current
// limit (amperes) the mediator re-applies via SetChargingProfile on
// every session start.
type ChargerRow struct {
	ChargePointID string
	Status        ChargerStatus
	LastSeen      time.Time
	MaxPower      *float64
}

// LogDirection tags a persisted message-log record; see spec §6.
type LogDirection string

const (
	DirUpstream          LogDirection = "UPSTREAM"
	DirDownstream        LogDirection = "DOWNSTREAM"
	DirInjectionRequest  LogDirection = "INJECTION_REQUEST"
	DirInjectionResponse LogDirection = "INJECTION_RESPONSE"
	DirProxyResponse     LogDirection = "PROXY_RESPONSE"
)

// LogRecord is one persisted message-log entry.
type LogRecord struct {
	ChargePointID string
	Direction     LogDirection
	PayloadJSON   string
	UnixSeconds   int64
}

// User is the minimal operator/user row the control surface's auth
// collaborator looks up; the mediator itself never authenticates users.
type User struct {
	ID    string
	Email string
}

// Store is the contract the session mediator, control surface, and
// acceptor depend on. Nothing outside this interface is assumed about
// the backing store.
type Store interface {
	// GetConfig returns the persisted dynamic-policy key/value pairs.
	GetConfig(ctx context.Context) (map[string]string, error)
	// SetConfig persists an updated set of dynamic-policy key/value pairs.
	SetConfig(ctx context.Context, values map[string]string) error

	// UpsertCharger creates or updates a charger row's status/last-seen.
	UpsertCharger(ctx context.Context, chargePointID string, status ChargerStatus) error
	// GetCharger returns the persisted row, or ErrNotFound.
	GetCharger(ctx context.Context, chargePointID string) (*ChargerRow, error)
	// SetPersistentLimit writes (or, if amperes is nil, clears) the
	// durable per-charger current limit.
	SetPersistentLimit(ctx context.Context, chargePointID string, amperes *float64) error

	// AppendLog persists one message-log record. Callers must treat
	// failures as logged-not-propagated per spec §7; the Store itself
	// does not retry.
	AppendLog(ctx context.Context, rec LogRecord) error

	// FindUser looks up an operator/user by id.
	FindUser(ctx context.Context, id string) (*User, error)
}
