// Package acceptor accepts the charger-facing WebSocket upgrade at
// /ocpp/{chargePointId} (spec §6) and hands each connection to the
// session mediator.
package acceptor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/mediator"
	"github.com/eva-sean/oye-proxy/internal/registry"
)

const upgradeTimeout = 5 * time.Second

// Acceptor is the HTTP handler serving the charger-facing listener.
type Acceptor struct {
	registry *registry.Registry
	deps     mediator.Deps
	policy   registry.DuplicatePolicy
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New builds an Acceptor bound to reg, handing every successfully
// upgraded session the same Deps.
func New(reg *registry.Registry, deps mediator.Deps, policy registry.DuplicatePolicy) *Acceptor {
	return &Acceptor{
		registry: reg,
		deps:     deps,
		policy:   policy,
		upgrader: websocket.Upgrader{
			// Chargers are not browsers; origin checking doesn't apply.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: upgradeTimeout,
		},
		log: deps.Log,
	}
}

// ServeHTTP implements http.Handler. Any path that doesn't match
// /ocpp/{chargePointId} yields 404 (spec §6).
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := chargePointIDFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	subprotocol := negotiateSubprotocol(r.Header.Get("Sec-WebSocket-Protocol"))
	responseHeader := http.Header{}
	if subprotocol != "" {
		responseHeader.Set("Sec-WebSocket-Protocol", subprotocol)
	}

	conn, err := a.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		a.log.Warn("websocket upgrade failed", zap.String("chargePointId", id), zap.Error(err))
		return
	}

	handshake := mediator.HandshakeMeta{
		Authorization: r.Header.Get("Authorization"),
		Subprotocol:   subprotocol,
	}

	ctx, cancel := context.WithTimeout(context.Background(), upgradeTimeout)
	session, err := mediator.New(ctx, id, conn, handshake, a.deps, nil)
	cancel()
	if err != nil {
		a.log.Error("failed to start session", zap.String("chargePointId", id), zap.Error(err))
		conn.Close()
		return
	}

	if err := a.registry.Create(session, a.policy); err != nil {
		a.log.Warn("rejecting duplicate session", zap.String("chargePointId", id), zap.Error(err))
		session.Close()
		return
	}

	a.log.Info("charger connected", zap.String("chargePointId", id))
	session.Serve()
	a.registry.Remove(id, session)
	a.log.Info("charger disconnected", zap.String("chargePointId", id))
}

const pathPrefix = "/ocpp/"

func chargePointIDFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, pathPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(path, pathPrefix)
	id = strings.Trim(id, "/")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// negotiateSubprotocol echoes the charger's first requested subprotocol
// without validating CSMS acceptance, per spec §9's explicit "Subprotocol
// echo" open question.
func negotiateSubprotocol(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ",")
	return strings.TrimSpace(parts[0])
}
