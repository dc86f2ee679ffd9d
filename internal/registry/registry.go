// Package registry implements the process-wide mapping from charge
// point id to its live Session (spec §4.2). It is the only multi-writer
// shared structure in the system and is protected by a single
// short-held mutex; no long operations run while it is held.
package registry

import (
	"sync"

	"github.com/eva-sean/oye-proxy/internal/mediator"
)

// Registry tracks at most one live Session per chargePointId (spec §8
// invariant 2).
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*mediator.Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*mediator.Session)}
}

// DuplicatePolicy governs what Create does when a session already
// exists for id. The source simply overwrote the previous entry; this
// implementation makes the choice explicit and documents it (see
// DESIGN.md): a fresh upgrade displaces the stale one rather than being
// rejected, since a charger that re-dials almost always means its old
// TCP connection is already dead on the charger's side and rejecting
// the new socket would strand it permanently.
type DuplicatePolicy int

const (
	// DisplaceOld closes any existing session for the id and installs
	// the new one in its place.
	DisplaceOld DuplicatePolicy = iota
	// RejectNew refuses to register the new session, leaving the
	// existing one in place.
	RejectNew
)

// Create registers session under its ChargePointID. Under RejectNew, a
// live existing session causes mediator.ErrDuplicateSession. Under
// DisplaceOld (the default), any existing session is closed first.
func (r *Registry) Create(session *mediator.Session, policy DuplicatePolicy) error {
	r.mu.Lock()
	existing, ok := r.sessions[session.ChargePointID]
	if ok {
		if policy == RejectNew {
			r.mu.Unlock()
			return mediator.ErrDuplicateSession
		}
	}
	r.sessions[session.ChargePointID] = session
	r.mu.Unlock()

	if ok {
		existing.Close()
		// existing.Close() marks the shared charge-point row OFFLINE;
		// the new session is already live, so re-assert ONLINE.
		session.MarkOnline()
	}
	return nil
}

// Lookup returns the live Session for id, or nil if none exists.
func (r *Registry) Lookup(id string) *mediator.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove idempotently drops id from the registry. It only removes the
// entry if it still points at session, so a stale Remove from a
// displaced session can't clobber its successor.
func (r *Registry) Remove(id string, session *mediator.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[id]; ok && current == session {
		delete(r.sessions, id)
	}
}

// Snapshot returns the Sessions currently registered, for
// introspection endpoints (SPEC_FULL "connected-clients introspection").
func (r *Registry) Snapshot() []*mediator.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*mediator.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
