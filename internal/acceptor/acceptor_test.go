package acceptor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/acceptor"
	"github.com/eva-sean/oye-proxy/internal/broadcast"
	"github.com/eva-sean/oye-proxy/internal/cache"
	dynconfig "github.com/eva-sean/oye-proxy/internal/config"
	"github.com/eva-sean/oye-proxy/internal/mediator"
	"github.com/eva-sean/oye-proxy/internal/persistence"
	"github.com/eva-sean/oye-proxy/internal/registry"
)

type fakeStore struct{}

func (fakeStore) GetConfig(context.Context) (map[string]string, error) { return nil, nil }
func (fakeStore) SetConfig(context.Context, map[string]string) error   { return nil }
func (fakeStore) UpsertCharger(context.Context, string, persistence.ChargerStatus) error {
	return nil
}
func (fakeStore) GetCharger(context.Context, string) (*persistence.ChargerRow, error) {
	return nil, persistence.ErrNotFound
}
func (fakeStore) SetPersistentLimit(context.Context, string, *float64) error { return nil }
func (fakeStore) AppendLog(context.Context, persistence.LogRecord) error     { return nil }
func (fakeStore) FindUser(context.Context, string) (*persistence.User, error) {
	return nil, persistence.ErrNotFound
}

func testDeps() mediator.Deps {
	store := fakeStore{}
	return mediator.Deps{
		Store:       store,
		Cache:       cache.NewChargerCache(store, cache.NewLocalCache(time.Minute, zap.NewNop()), zap.NewNop()),
		Broadcaster: broadcast.NoopPublisher{},
		Config:      dynconfig.NewStore(dynconfig.DefaultDynamic()),
		LogWriter:   mediator.NewLogWriter(store, zap.NewNop()),
		Log:         zap.NewNop(),
	}
}

func TestServeHTTPRejectsUnknownPath(t *testing.T) {
	reg := registry.New()
	acc := acceptor.New(reg, testDeps(), registry.DisplaceOld)

	server := httptest.NewServer(acc)
	defer server.Close()

	resp, err := http.Get(server.URL + "/not-ocpp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServeHTTPRejectsNestedPath(t *testing.T) {
	reg := registry.New()
	acc := acceptor.New(reg, testDeps(), registry.DisplaceOld)

	server := httptest.NewServer(acc)
	defer server.Close()

	resp, err := http.Get(server.URL + "/ocpp/CP1/extra")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestServeHTTPUpgradesAndRegistersSession(t *testing.T) {
	reg := registry.New()
	acc := acceptor.New(reg, testDeps(), registry.DisplaceOld)

	server := httptest.NewServer(acc)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/CP-ACC1"
	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", "ocpp1.6, ocpp2.0.1")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != "ocpp1.6" {
		t.Fatalf("expected echoed subprotocol ocpp1.6, got %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Lookup("CP-ACC1") != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for session to register")
}

func TestServeHTTPDisplacesDuplicateSession(t *testing.T) {
	reg := registry.New()
	acc := acceptor.New(reg, testDeps(), registry.DisplaceOld)

	server := httptest.NewServer(acc)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ocpp/CP-ACC2"

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	waitForSession := func() *mediator.Session {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if s := reg.Lookup("CP-ACC2"); s != nil {
				return s
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("timed out waiting for session to register")
		return nil
	}
	firstSession := waitForSession()

	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Lookup("CP-ACC2") != firstSession {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the second connection to displace the first")
}
