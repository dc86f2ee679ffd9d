package registry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eva-sean/oye-proxy/internal/broadcast"
	"github.com/eva-sean/oye-proxy/internal/cache"
	dynconfig "github.com/eva-sean/oye-proxy/internal/config"
	"github.com/eva-sean/oye-proxy/internal/mediator"
	"github.com/eva-sean/oye-proxy/internal/persistence"
	"github.com/eva-sean/oye-proxy/internal/registry"
)

type fakeStore struct{}

func (fakeStore) GetConfig(context.Context) (map[string]string, error)      { return nil, nil }
func (fakeStore) SetConfig(context.Context, map[string]string) error       { return nil }
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

func testDeps(t *testing.T) mediator.Deps {
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

// dialSession upgrades one client connection into a server-side
// *websocket.Conn and wraps it in a mediator.Session bound to id.
func dialSession(t *testing.T, id string, deps mediator.Deps) *mediator.Session {
	t.Helper()

	sessionCh := make(chan *mediator.Session, 1)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		session, err := mediator.New(context.Background(), id, conn, mediator.HandshakeMeta{}, deps, nil)
		if err != nil {
			t.Errorf("mediator.New: %v", err)
			return
		}
		sessionCh <- session
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case s := <-sessionCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session")
		return nil
	}
}

func TestCreateLookupRemove(t *testing.T) {
	reg := registry.New()
	deps := testDeps(t)

	s := dialSession(t, "CP1", deps)
	if err := reg.Create(s, registry.DisplaceOld); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Lookup("CP1") != s {
		t.Fatal("expected lookup to return the registered session")
	}

	reg.Remove("CP1", s)
	if reg.Lookup("CP1") != nil {
		t.Fatal("expected lookup to return nil after removal")
	}
}

func TestCreateDisplaceOldClosesPrevious(t *testing.T) {
	reg := registry.New()
	deps := testDeps(t)

	first := dialSession(t, "CP2", deps)
	if err := reg.Create(first, registry.DisplaceOld); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := dialSession(t, "CP2", deps)
	if err := reg.Create(second, registry.DisplaceOld); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reg.Lookup("CP2") != second {
		t.Fatal("expected the second session to displace the first")
	}
	if _, err := first.Inject("Heartbeat", struct{}{}); !errors.Is(err, mediator.ErrChargerNotConnected) {
		t.Fatalf("expected the displaced session to be closed, Inject returned %v", err)
	}
}

func TestCreateRejectNewKeepsExisting(t *testing.T) {
	reg := registry.New()
	deps := testDeps(t)

	first := dialSession(t, "CP3", deps)
	if err := reg.Create(first, registry.RejectNew); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := dialSession(t, "CP3", deps)
	if err := reg.Create(second, registry.RejectNew); err == nil {
		t.Fatal("expected duplicate session error")
	}

	if reg.Lookup("CP3") != first {
		t.Fatal("expected the original session to remain registered")
	}
}

func TestRemoveIgnoresStaleSession(t *testing.T) {
	reg := registry.New()
	deps := testDeps(t)

	first := dialSession(t, "CP4", deps)
	reg.Create(first, registry.DisplaceOld)

	second := dialSession(t, "CP4", deps)
	reg.Create(second, registry.DisplaceOld)

	// A delayed Remove from the first (now-displaced) session must not
	// clobber the second session's registration.
	reg.Remove("CP4", first)
	if reg.Lookup("CP4") != second {
		t.Fatal("stale Remove clobbered the successor session")
	}
}
