// Package config holds the hot-reloadable policy snapshot (spec §3:
// "Configuration (read once at startup, hot-reloaded on POST)"). It is
// rebuilt in full and swapped atomically on every write so concurrent
// readers in the forwarding path never observe a half-updated snapshot.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Dynamic is the live policy snapshot the mediator consults on the hot
// path. Instances are immutable; updates build a new Dynamic and swap it
// into a Store.
type Dynamic struct {
	TargetCSMSURL         string
	CSMSForwardingEnabled bool
	AutoChargeEnabled     bool
	DefaultIDTag          string
	MaxReconnectAttempts  int
	ReconnectBaseDelayMS  int
	EgressBufferCap       int
}

// DefaultDynamic returns the policy defaults named throughout spec §4.3/§5.
func DefaultDynamic() Dynamic {
	return Dynamic{
		TargetCSMSURL:         "",
		CSMSForwardingEnabled: false,
		AutoChargeEnabled:     false,
		DefaultIDTag:          "",
		MaxReconnectAttempts:  3,
		ReconnectBaseDelayMS:  1000,
		EgressBufferCap:       1024,
	}
}

// UpstreamURL returns TargetCSMSURL with chargePointID appended, inserting
// a "/" separator if the base URL lacks a trailing one (spec §6).
func (d Dynamic) UpstreamURL(chargePointID string) string {
	base := d.TargetCSMSURL
	if strings.HasSuffix(base, "/") {
		return base + chargePointID
	}
	return base + "/" + chargePointID
}

// AsMap renders the snapshot as the flat key/value form the persistence
// interface stores and the control surface's getConfig returns.
func (d Dynamic) AsMap() map[string]string {
	return map[string]string{
		"targetCsmsUrl":         d.TargetCSMSURL,
		"csmsForwardingEnabled": strconv.FormatBool(d.CSMSForwardingEnabled),
		"autoChargeEnabled":     strconv.FormatBool(d.AutoChargeEnabled),
		"defaultIdTag":          d.DefaultIDTag,
		"maxReconnectAttempts":  strconv.Itoa(d.MaxReconnectAttempts),
		"reconnectBaseDelayMs":  strconv.Itoa(d.ReconnectBaseDelayMS),
		"egressBufferCap":       strconv.Itoa(d.EgressBufferCap),
	}
}

// FromMap builds a Dynamic from persisted/posted key/value pairs, keeping
// base's value for any key that is absent so a partial POST only changes
// the keys it names.
func FromMap(base Dynamic, values map[string]string) (Dynamic, error) {
	d := base
	if v, ok := values["targetCsmsUrl"]; ok {
		d.TargetCSMSURL = v
	}
	if v, ok := values["csmsForwardingEnabled"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Dynamic{}, fmt.Errorf("csmsForwardingEnabled: %w", err)
		}
		d.CSMSForwardingEnabled = b
	}
	if v, ok := values["autoChargeEnabled"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Dynamic{}, fmt.Errorf("autoChargeEnabled: %w", err)
		}
		d.AutoChargeEnabled = b
	}
	if v, ok := values["defaultIdTag"]; ok {
		d.DefaultIDTag = v
	}
	if v, ok := values["maxReconnectAttempts"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Dynamic{}, fmt.Errorf("maxReconnectAttempts: invalid value %q", v)
		}
		d.MaxReconnectAttempts = n
	}
	if v, ok := values["reconnectBaseDelayMs"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Dynamic{}, fmt.Errorf("reconnectBaseDelayMs: invalid value %q", v)
		}
		d.ReconnectBaseDelayMS = n
	}
	if v, ok := values["egressBufferCap"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Dynamic{}, fmt.Errorf("egressBufferCap: invalid value %q", v)
		}
		d.EgressBufferCap = n
	}
	return d, nil
}

// Store holds the current Dynamic snapshot behind an atomic pointer so
// readers never block on writers and never see a torn update.
type Store struct {
	ptr atomic.Pointer[Dynamic]
}

// NewStore builds a Store seeded with initial.
func NewStore(initial Dynamic) *Store {
	s := &Store{}
	s.ptr.Store(&initial)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() Dynamic {
	return *s.ptr.Load()
}

// Swap atomically replaces the snapshot.
func (s *Store) Swap(next Dynamic) {
	s.ptr.Store(&next)
}
