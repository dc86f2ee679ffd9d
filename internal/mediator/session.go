package mediator

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/broadcast"
	"github.com/eva-sean/oye-proxy/internal/cache"
	"github.com/eva-sean/oye-proxy/internal/config"
	"github.com/eva-sean/oye-proxy/internal/persistence"
)

// UpstreamState is the CSMS-socket sub-state machine from spec §4.4.
type UpstreamState int

const (
	UpstreamAbsent UpstreamState = iota
	UpstreamConnecting
	UpstreamOpen
	UpstreamClosing
	UpstreamWaitRetry
	UpstreamGaveUp
)

func (s UpstreamState) String() string {
	switch s {
	case UpstreamAbsent:
		return "Absent"
	case UpstreamConnecting:
		return "Connecting"
	case UpstreamOpen:
		return "Open"
	case UpstreamClosing:
		return "Closing"
	case UpstreamWaitRetry:
		return "WaitRetry"
	case UpstreamGaveUp:
		return "GaveUp"
	default:
		return "Unknown"
	}
}

// HandshakeMeta is the immutable snapshot of the charger's upgrade
// request reused verbatim on every upstream (re)connect (spec §3).
type HandshakeMeta struct {
	Authorization string
	Subprotocol   string
}

// Deps bundles the external collaborators a Session needs. All fields
// are required except Broadcaster, which defaults to a no-op.
type Deps struct {
	Store       persistence.Store
	Cache       *cache.ChargerCache
	Broadcaster broadcast.Publisher
	Config      *config.Store
	LogWriter   *LogWriter
	Log         *zap.Logger
}

type reconnectState struct {
	attempt int
	timer   *time.Timer
}

// Session is the per-charger state held for the lifetime of one charger
// WebSocket connection (spec §3). All mutable fields are guarded by mu;
// chargerConn/upstreamConn writes are additionally serialized by their
// own write mutexes so the session mutex is never held across I/O.
type Session struct {
	ChargePointID string
	handshake     HandshakeMeta
	deps          Deps

	chargerConn    *websocket.Conn
	chargerWriteMu sync.Mutex

	mu sync.Mutex

	upstreamConn    *websocket.Conn
	upstreamWriteMu sync.Mutex
	upstreamState   UpstreamState

	pendingInjections map[string]time.Time
	pendingAuthTags   map[string]time.Time

	egressBuffer [][]byte

	reconnect reconnectState

	firstFrameSeen bool
	maxPower       *float64

	closed  bool
	closeCh chan struct{}

	onClose func(chargePointID string)
}

func newSession(chargePointID string, conn *websocket.Conn, handshake HandshakeMeta, deps Deps, maxPower *float64, onClose func(string)) *Session {
	if deps.Broadcaster == nil {
		deps.Broadcaster = broadcast.NoopPublisher{}
	}
	return &Session{
		ChargePointID:     chargePointID,
		handshake:         handshake,
		deps:              deps,
		chargerConn:       conn,
		pendingInjections: make(map[string]time.Time),
		pendingAuthTags:   make(map[string]time.Time),
		maxPower:          maxPower,
		closeCh:           make(chan struct{}),
		onClose:           onClose,
	}
}

// State returns the current upstream sub-state, for introspection
// endpoints (SPEC_FULL "connected-clients introspection").
func (s *Session) State() UpstreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamState
}
