// Package mediator implements the per-charger session state machine:
// frame forwarding, command injection with response interception,
// upstream reconnection with egress buffering, and the standalone
// "proxy-responds" policy when the CSMS is unavailable.
package mediator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/metrics"
	"github.com/eva-sean/oye-proxy/internal/ocpp"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

const storeCallTimeout = 3 * time.Second

// New loads the persisted charger row, creates a Session bound to conn,
// and marks the charger ONLINE. The caller (the acceptor) must run
// Serve on the returned Session to drive its charger-read loop.
func New(ctx context.Context, chargePointID string, conn *websocket.Conn, handshake HandshakeMeta, deps Deps, onClose func(string)) (*Session, error) {
	row, err := deps.Cache.GetCharger(ctx, chargePointID)
	var maxPower *float64
	if err != nil && err != persistence.ErrNotFound {
		deps.Log.Warn("failed to load charger row at session start", zap.String("chargePointId", chargePointID), zap.Error(err))
	} else if err == nil {
		maxPower = row.MaxPower
	}

	s := newSession(chargePointID, conn, handshake, deps, maxPower, onClose)

	if err := deps.Store.UpsertCharger(ctx, chargePointID, persistence.StatusOnline); err != nil {
		deps.Log.Warn("failed to mark charger online", zap.String("chargePointId", chargePointID), zap.Error(err))
	}
	deps.Cache.Invalidate(ctx, chargePointID)
	metrics.ActiveSessions.Inc()

	return s, nil
}

// Serve drives the charger-read loop until the charger socket closes,
// then tears the session down. It must be called from its own goroutine
// (or the acceptor's per-connection goroutine) and blocks until return.
func (s *Session) Serve() {
	defer s.Close()

	s.startUpstreamLifecycle()
	go s.runTTLSweeper()
	s.schedulePersistentLimitReplay()

	for {
		_, raw, err := s.chargerConn.ReadMessage()
		if err != nil {
			return
		}
		s.markFirstFrameSeen()
		s.handleChargerFrame(raw)
	}
}

func (s *Session) markFirstFrameSeen() {
	s.mu.Lock()
	s.firstFrameSeen = true
	s.mu.Unlock()
}

// handleChargerFrame implements the charger -> upstream forwarding rule
// (spec §4.3).
func (s *Session) handleChargerFrame(raw []byte) {
	frame, err := ocpp.Decode(raw)
	if err != nil {
		s.deps.Log.Error("malformed frame from charger", zap.String("chargePointId", s.ChargePointID), zap.Error(err))
		metrics.MalformedFramesTotal.WithLabelValues("charger").Inc()
		s.logRaw(persistence.DirUpstream, raw)
		return
	}
	if frame.Kind == ocpp.Response || frame.Kind == ocpp.ErrorResponse {
		s.mu.Lock()
		_, isInjectionResponse := s.pendingInjections[frame.ID]
		if isInjectionResponse {
			delete(s.pendingInjections, frame.ID)
		}
		s.mu.Unlock()
		if isInjectionResponse {
			metrics.PendingInjections.Dec()
			// Swallowed: never recorded as UPSTREAM, only as the
			// injection response it actually is (Testable Property #1).
			s.logFrame(persistence.DirInjectionResponse, raw)
			return
		}
	}

	s.logFrame(persistence.DirUpstream, raw)
	metrics.FramesTotal.WithLabelValues("upstream").Inc()

	state := s.State()
	bufferable := state == UpstreamConnecting || state == UpstreamWaitRetry

	if frame.Kind == ocpp.Request && state != UpstreamOpen {
		if bufferable {
			s.bufferEgress(raw)
			return
		}
		s.respondStandalone(frame)
		return
	}

	if state != UpstreamOpen {
		if bufferable {
			s.bufferEgress(raw)
		}
		return
	}

	if !s.writeUpstream(raw) {
		s.bufferEgress(raw)
		go s.onUpstreamClosed()
	}
}

// readUpstreamLoop drives the upstream-read loop for one connected
// upstream socket. A new goroutine is started by connectUpstream after
// every successful (re)connect.
func (s *Session) readUpstreamLoop() {
	for {
		s.mu.Lock()
		conn := s.upstreamConn
		s.mu.Unlock()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.onUpstreamClosed()
			return
		}
		s.handleUpstreamFrame(raw)
	}
}

// handleUpstreamFrame implements the upstream -> charger forwarding rule
// (spec §4.3).
func (s *Session) handleUpstreamFrame(raw []byte) {
	if _, err := ocpp.Decode(raw); err != nil {
		metrics.MalformedFramesTotal.WithLabelValues("upstream").Inc()
		s.deps.Log.Warn("malformed frame from upstream, forwarding raw bytes anyway",
			zap.String("chargePointId", s.ChargePointID), zap.Error(err))
	}
	s.logFrame(persistence.DirDownstream, raw)
	metrics.FramesTotal.WithLabelValues("downstream").Inc()

	if err := s.writeCharger(raw); err != nil {
		s.deps.Log.Warn("charger write failed, tearing down session",
			zap.String("chargePointId", s.ChargePointID), zap.Error(err))
		s.Close()
	}
}

func (s *Session) writeCharger(raw []byte) error {
	s.chargerWriteMu.Lock()
	defer s.chargerWriteMu.Unlock()
	return s.chargerConn.WriteMessage(websocket.TextMessage, raw)
}

// writeUpstream attempts to relay raw upstream, returning false on any
// failure (including no connection present).
func (s *Session) writeUpstream(raw []byte) bool {
	s.mu.Lock()
	conn := s.upstreamConn
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	s.upstreamWriteMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, raw)
	s.upstreamWriteMu.Unlock()
	if err != nil {
		s.deps.Log.Warn("upstream write failed", zap.String("chargePointId", s.ChargePointID), zap.Error(err))
		return false
	}
	return true
}

// bufferEgress appends raw to the bounded egress buffer, dropping the
// oldest entry on overflow (spec §5 "Egress buffer bounds").
func (s *Session) bufferEgress(raw []byte) {
	cfg := s.deps.Config.Get()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.egressBuffer) >= cfg.EgressBufferCap {
		s.egressBuffer = s.egressBuffer[1:]
		metrics.EgressBufferDroppedTotal.Inc()
		s.deps.Log.Warn("egress buffer full, dropping oldest frame", zap.String("chargePointId", s.ChargePointID))
	}
	s.egressBuffer = append(s.egressBuffer, raw)
}

// logFrame persists the decoded frame re-encoded to its canonical OCPP
// array form (spec §6). A frame that fails to decode falls back to the
// raw text, matching the undecodable-frame carve-out in the same
// section.
func (s *Session) logFrame(direction persistence.LogDirection, raw []byte) {
	frame, err := ocpp.Decode(raw)
	if err != nil {
		s.logRaw(direction, raw)
		return
	}
	encoded, err := ocpp.Encode(frame)
	if err != nil {
		s.logRaw(direction, raw)
		return
	}
	s.recordLog(direction, string(encoded))
}

// logRaw persists the raw text verbatim for frames that failed to
// decode (spec §6: "for undecodable frames, the raw text is stored").
func (s *Session) logRaw(direction persistence.LogDirection, raw []byte) {
	s.recordLog(direction, string(raw))
}

// recordLog is the single sink every message-log record passes through:
// it durably persists the record via LogWriter and, per SPEC_FULL.md's
// "Dashboard log fan-out", publishes it fire-and-forget to the
// broadcaster for the live-tail endpoint. Neither call blocks forwarding.
func (s *Session) recordLog(direction persistence.LogDirection, payloadJSON string) {
	rec := persistence.LogRecord{
		ChargePointID: s.ChargePointID,
		Direction:     direction,
		PayloadJSON:   payloadJSON,
		UnixSeconds:   time.Now().Unix(),
	}
	s.deps.LogWriter.Enqueue(rec)
	s.deps.Broadcaster.PublishLog(rec)
}

// Inject sends action/payload to the charger as an operator-initiated
// Call, tracks it in pendingInjections, and returns its message id
// (spec §4.3 "Public operations").
func (s *Session) Inject(action string, payload interface{}) (string, error) {
	id := newMessageID()
	raw, err := ocpp.EncodeCall(id, action, payload)
	if err != nil {
		return "", fmt.Errorf("encode injection: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrChargerNotConnected
	}
	s.pendingInjections[id] = time.Now()
	if action == "RemoteStartTransaction" {
		if tag := extractIDTag(payload); tag != "" {
			s.pendingAuthTags[tag] = time.Now()
		}
	}
	s.mu.Unlock()
	metrics.PendingInjections.Inc()

	if err := s.writeCharger(raw); err != nil {
		s.mu.Lock()
		delete(s.pendingInjections, id)
		s.mu.Unlock()
		metrics.PendingInjections.Dec()
		return "", ErrChargerNotConnected
	}

	s.logFrame(persistence.DirInjectionRequest, raw)
	return id, nil
}

func extractIDTag(payload interface{}) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	var v struct {
		IDTag string `json:"idTag"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.IDTag
}

type chargingSchedulePeriod struct {
	StartPeriod int     `json:"startPeriod"`
	Limit       float64 `json:"limit"`
}

type chargingSchedule struct {
	ChargingRateUnit       string                   `json:"chargingRateUnit"`
	ChargingSchedulePeriod []chargingSchedulePeriod `json:"chargingSchedulePeriod"`
}

type setChargingProfileRequest struct {
	ConnectorID            int              `json:"connectorId"`
	ChargingProfileID      int              `json:"chargingProfileId"`
	StackLevel             int              `json:"stackLevel"`
	ChargingProfilePurpose string           `json:"chargingProfilePurpose"`
	ChargingProfileKind    string           `json:"chargingProfileKind"`
	TransactionID          *int             `json:"transactionId,omitempty"`
	ChargingSchedule       chargingSchedule `json:"chargingSchedule"`
}

type clearChargingProfileRequest struct {
	ID int `json:"id"`
}

type remoteStartTransactionRequest struct {
	ConnectorID int    `json:"connectorId"`
	IDTag       string `json:"idTag"`
}

// injectSetChargingProfile builds and injects the persistent
// ChargePointMaxProfile Call described verbatim in spec §4.3.
func (s *Session) injectSetChargingProfile(amperes float64) (string, error) {
	return s.Inject("SetChargingProfile", setChargingProfileRequest{
		ConnectorID:            0,
		ChargingProfileID:      1,
		StackLevel:             1,
		ChargingProfilePurpose: "ChargePointMaxProfile",
		ChargingProfileKind:    "Absolute",
		ChargingSchedule: chargingSchedule{
			ChargingRateUnit:       "A",
			ChargingSchedulePeriod: []chargingSchedulePeriod{{StartPeriod: 0, Limit: amperes}},
		},
	})
}

func (s *Session) injectClearChargingProfile() (string, error) {
	return s.Inject("ClearChargingProfile", clearChargingProfileRequest{ID: 1})
}

func (s *Session) injectRemoteStart(connectorID int, idTag string) (string, error) {
	return s.Inject("RemoteStartTransaction", remoteStartTransactionRequest{ConnectorID: connectorID, IDTag: idTag})
}

// SetPersistentLimit writes the durable maxPower row (or clears it when
// amperes is nil) and immediately injects the equivalent
// SetChargingProfile/ClearChargingProfile (spec §4.3).
func (s *Session) SetPersistentLimit(amperes *float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()

	if err := s.deps.Store.SetPersistentLimit(ctx, s.ChargePointID, amperes); err != nil {
		return fmt.Errorf("persist current limit: %w", err)
	}
	s.deps.Cache.Invalidate(ctx, s.ChargePointID)

	s.mu.Lock()
	s.maxPower = amperes
	s.mu.Unlock()

	var err error
	if amperes != nil {
		_, err = s.injectSetChargingProfile(*amperes)
	} else {
		_, err = s.injectClearChargingProfile()
	}
	return err
}

// ApplySessionLimit injects a one-shot SetChargingProfile without
// touching durable state, using TxProfile when transactionID is given
// and TxDefaultProfile otherwise (spec §4.3).
func (s *Session) ApplySessionLimit(amperes float64, transactionID *int) (string, error) {
	purpose := "TxDefaultProfile"
	connectorID := 0
	if transactionID != nil {
		purpose = "TxProfile"
		connectorID = 1
	}
	return s.Inject("SetChargingProfile", setChargingProfileRequest{
		ConnectorID:            connectorID,
		ChargingProfileID:      2,
		StackLevel:             0,
		ChargingProfilePurpose: purpose,
		ChargingProfileKind:    "Absolute",
		TransactionID:          transactionID,
		ChargingSchedule: chargingSchedule{
			ChargingRateUnit:       "A",
			ChargingSchedulePeriod: []chargingSchedulePeriod{{StartPeriod: 0, Limit: amperes}},
		},
	})
}

// Close idempotently tears the session down: timers and sockets are
// released and the charger row is marked OFFLINE (spec §3 "Session
// lifecycle").
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closeCh)
	if s.reconnect.timer != nil {
		s.reconnect.timer.Stop()
	}
	upstreamConn := s.upstreamConn
	s.upstreamConn = nil
	s.mu.Unlock()

	if upstreamConn != nil {
		upstreamConn.Close()
	}
	s.chargerConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()
	if err := s.deps.Store.UpsertCharger(ctx, s.ChargePointID, persistence.StatusOffline); err != nil {
		s.deps.Log.Warn("failed to mark charger offline", zap.String("chargePointId", s.ChargePointID), zap.Error(err))
	}
	s.deps.Cache.Invalidate(ctx, s.ChargePointID)
	metrics.ActiveSessions.Dec()

	if s.onClose != nil {
		s.onClose(s.ChargePointID)
	}
}

// MarkOnline re-asserts the charger row as ONLINE. The registry calls
// this after displacing a stale session for the same chargePointId,
// since the displaced session's Close writes StatusOffline for the same
// row and would otherwise clobber the status New already set for the
// session that's actually live.
func (s *Session) MarkOnline() {
	ctx, cancel := context.WithTimeout(context.Background(), storeCallTimeout)
	defer cancel()
	if err := s.deps.Store.UpsertCharger(ctx, s.ChargePointID, persistence.StatusOnline); err != nil {
		s.deps.Log.Warn("failed to re-mark charger online after displacement", zap.String("chargePointId", s.ChargePointID), zap.Error(err))
	}
	s.deps.Cache.Invalidate(ctx, s.ChargePointID)
}
