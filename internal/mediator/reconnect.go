package mediator

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/metrics"
)

// upstreamDialTimeout bounds an upstream connect attempt (spec §5,
// "recommended 10s"). Timeout is treated like a connect failure.
const upstreamDialTimeout = 10 * time.Second

// persistentLimitDelay is how long after the charger socket opens the
// mediator waits before injecting the persistent SetChargingProfile, to
// let a BootNotification ack settle (spec §4.3).
const persistentLimitDelay = 500 * time.Millisecond

// startUpstreamLifecycle kicks off the initial connect attempt if
// forwarding is enabled, matching the Absent/Connecting state machine of
// spec §4.4. It is called exactly once, at session start.
func (s *Session) startUpstreamLifecycle() {
	cfg := s.deps.Config.Get()
	if !cfg.CSMSForwardingEnabled {
		s.mu.Lock()
		s.upstreamState = UpstreamAbsent
		s.mu.Unlock()
		return
	}
	go s.connectUpstream()
}

// connectUpstream dials the CSMS, reusing handshakeMeta verbatim (spec
// §4.3: "Upstream connect ... reusing handshakeMeta ... verbatim").
func (s *Session) connectUpstream() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.upstreamState = UpstreamConnecting
	s.mu.Unlock()

	metrics.ReconnectAttemptsTotal.Inc()

	cfg := s.deps.Config.Get()
	url := cfg.UpstreamURL(s.ChargePointID)

	header := http.Header{}
	if s.handshake.Authorization != "" {
		header.Set("Authorization", s.handshake.Authorization)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: upstreamDialTimeout,
		// spec §6: "TLS hostname verification is disabled (self-signed
		// CSMS endpoints are permitted by design)".
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
	}
	if s.handshake.Subprotocol != "" {
		dialer.Subprotocols = []string{s.handshake.Subprotocol}
	}

	conn, _, err := dialer.Dial(url, header)
	if err != nil {
		s.deps.Log.Warn("upstream connect failed",
			zap.String("chargePointId", s.ChargePointID), zap.String("url", url), zap.Error(err))
		s.onUpstreamClosed()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.upstreamConn = conn
	s.upstreamState = UpstreamOpen
	s.reconnect.attempt = 0
	buffered := s.egressBuffer
	s.egressBuffer = nil
	s.mu.Unlock()

	s.deps.Log.Info("upstream connected", zap.String("chargePointId", s.ChargePointID), zap.String("url", url))

	// Flush buffered frames in FIFO order before any newly arriving
	// charger frame is forwarded (spec §4.3 "Buffer flush").
	for _, frame := range buffered {
		s.writeUpstream(frame)
	}

	go s.readUpstreamLoop()
}

// onUpstreamClosed transitions the session to WaitRetry or GaveUp per
// the bounded exponential backoff policy (spec §4.3 "Retry policy").
func (s *Session) onUpstreamClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.upstreamConn != nil {
		s.upstreamConn.Close()
		s.upstreamConn = nil
	}

	cfg := s.deps.Config.Get()
	s.reconnect.attempt++
	attempt := s.reconnect.attempt

	if attempt > cfg.MaxReconnectAttempts {
		s.upstreamState = UpstreamGaveUp
		s.mu.Unlock()
		s.deps.Log.Warn("upstream reconnect attempts exhausted, giving up",
			zap.String("chargePointId", s.ChargePointID), zap.Int("attempts", attempt-1))
		metrics.SessionsGaveUpTotal.Inc()
		return
	}

	delay := time.Duration(cfg.ReconnectBaseDelayMS) * time.Millisecond
	for k := 1; k < attempt; k++ {
		delay *= 2
	}

	s.upstreamState = UpstreamWaitRetry
	s.reconnect.timer = time.AfterFunc(delay, s.connectUpstream)
	s.mu.Unlock()

	s.deps.Log.Info("scheduling upstream reconnect",
		zap.String("chargePointId", s.ChargePointID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
}

// schedulePersistentLimitReplay injects the durable current-limit profile
// ~500ms after session start, per spec §4.3.
func (s *Session) schedulePersistentLimitReplay() {
	s.mu.Lock()
	maxPower := s.maxPower
	s.mu.Unlock()
	if maxPower == nil {
		return
	}
	time.AfterFunc(persistentLimitDelay, func() {
		if _, err := s.injectSetChargingProfile(*maxPower); err != nil {
			s.deps.Log.Warn("failed to replay persistent current limit",
				zap.String("chargePointId", s.ChargePointID), zap.Error(err))
		}
	})
}
