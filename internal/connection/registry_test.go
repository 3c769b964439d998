package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/internal/protocol"
)

// noopHandler discards inbound frames
type noopHandler struct{}

func (noopHandler) HandleMessage(*Client, protocol.Envelope) {}

// hookRecorder captures hook invocations for assertions
type hookRecorder struct {
	mu           sync.Mutex
	matchID      string // returned from Disconnected
	graceStarted []string
	reconnected  []string
	abandoned    []string
}

func (h *hookRecorder) hooks() Hooks {
	return Hooks{
		Disconnected: func(identity string) string {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.matchID
		},
		GraceStarted: func(identity, matchID string, _ time.Time) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.graceStarted = append(h.graceStarted, identity+":"+matchID)
		},
		Reconnected: func(identity, matchID string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.reconnected = append(h.reconnected, identity+":"+matchID)
		},
		Abandoned: func(identity, matchID string) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.abandoned = append(h.abandoned, identity+":"+matchID)
		},
	}
}

func (h *hookRecorder) snapshot(kind string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch kind {
	case "grace":
		return append([]string(nil), h.graceStarted...)
	case "reconnected":
		return append([]string(nil), h.reconnected...)
	default:
		return append([]string(nil), h.abandoned...)
	}
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// newTestServer runs a websocket endpoint that registers each connection
// under the identity passed in the "id" query parameter.
func newTestServer(t *testing.T, r *Registry) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := testUpgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		identity := req.URL.Query().Get("id")
		c := NewClient(r, conn, identity, identity, noopHandler{})
		r.Register(c)
		c.Start()
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, identity string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?id=" + identity
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testRegistryConfig() Config {
	return Config{
		GracePeriod:       50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  time.Hour,
	}
}

// TestRegister_TracksConnection tests basic registration
func TestRegister_TracksConnection(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	server := newTestServer(t, r)

	dial(t, server, "alice")

	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })
	if r.Count() != 1 {
		t.Errorf("expected 1 connection, got %d", r.Count())
	}
}

// TestSend_DeliversEnvelope tests delivery through a live channel
func TestSend_DeliversEnvelope(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	server := newTestServer(t, r)

	ws := dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })

	if !r.Send("alice", protocol.Envelope{Type: protocol.KindPong}) {
		t.Fatal("expected Send to succeed")
	}

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if env.Type != protocol.KindPong {
		t.Errorf("expected pong frame, got %q", env.Type)
	}
}

// TestSend_UnknownIdentity tests the best-effort miss path
func TestSend_UnknownIdentity(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	if r.Send("nobody", protocol.Envelope{Type: protocol.KindPong}) {
		t.Error("expected Send to report failure for unknown identity")
	}
}

// TestDisconnect_NoMatchMeansNoGrace tests that idle identities do not get
// grace windows.
func TestDisconnect_NoMatchMeansNoGrace(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	rec := &hookRecorder{} // matchID empty: not in a match
	r.SetHooks(rec.hooks())
	server := newTestServer(t, r)

	ws := dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })

	ws.Close()
	waitCondition(t, time.Second, func() bool { return !r.IsConnected("alice") })

	if _, ok := r.GraceDeadline("alice"); ok {
		t.Error("expected no grace window for idle identity")
	}
}

// TestDisconnect_InMatchOpensGraceThenAbandons tests the grace lifecycle
// through expiry.
func TestDisconnect_InMatchOpensGraceThenAbandons(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	rec := &hookRecorder{matchID: "m1"}
	r.SetHooks(rec.hooks())
	server := newTestServer(t, r)

	ws := dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })

	ws.Close()
	waitCondition(t, time.Second, func() bool {
		return len(rec.snapshot("grace")) == 1
	})
	if got := rec.snapshot("grace")[0]; got != "alice:m1" {
		t.Errorf("unexpected grace hook args %q", got)
	}

	waitCondition(t, time.Second, func() bool {
		return len(rec.snapshot("abandoned")) == 1
	})
	if got := rec.snapshot("abandoned")[0]; got != "alice:m1" {
		t.Errorf("unexpected abandon hook args %q", got)
	}
	if _, ok := r.GraceDeadline("alice"); ok {
		t.Error("expected grace record cleared after expiry")
	}
}

// TestReconnect_WithinGraceCancelsTimer tests reconnection inside grace
func TestReconnect_WithinGraceCancelsTimer(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.GracePeriod = 2 * time.Second
	r := NewRegistry(logger.New(), cfg)
	rec := &hookRecorder{matchID: "m1"}
	r.SetHooks(rec.hooks())
	server := newTestServer(t, r)

	ws := dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })

	ws.Close()
	waitCondition(t, time.Second, func() bool {
		_, ok := r.GraceDeadline("alice")
		return ok
	})

	dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool {
		return len(rec.snapshot("reconnected")) == 1
	})
	if got := rec.snapshot("reconnected")[0]; got != "alice:m1" {
		t.Errorf("unexpected reconnect hook args %q", got)
	}
	if _, ok := r.GraceDeadline("alice"); ok {
		t.Error("expected grace record cleared on reconnect")
	}

	// The timer was cancelled: no abandonment follows.
	time.Sleep(100 * time.Millisecond)
	if len(rec.snapshot("abandoned")) != 0 {
		t.Error("expected no abandonment after reconnect")
	}
}

// TestCancelGrace_SuppressesAbandonment tests CancelGrace
func TestCancelGrace_SuppressesAbandonment(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	rec := &hookRecorder{matchID: "m1"}
	r.SetHooks(rec.hooks())
	server := newTestServer(t, r)

	ws := dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })

	ws.Close()
	waitCondition(t, time.Second, func() bool {
		_, ok := r.GraceDeadline("alice")
		return ok
	})

	r.CancelGrace("alice")

	time.Sleep(100 * time.Millisecond)
	if len(rec.snapshot("abandoned")) != 0 {
		t.Error("expected no abandonment after CancelGrace")
	}
}

// TestRegister_SupersedesOldConnection tests that a second connection for
// the same identity replaces the first without opening a grace window.
func TestRegister_SupersedesOldConnection(t *testing.T) {
	r := NewRegistry(logger.New(), testRegistryConfig())
	rec := &hookRecorder{matchID: "m1"}
	r.SetHooks(rec.hooks())
	server := newTestServer(t, r)

	dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.IsConnected("alice") })

	dial(t, server, "alice")
	waitCondition(t, time.Second, func() bool { return r.Count() == 1 })

	// The superseded connection's teardown must not start a grace window.
	time.Sleep(50 * time.Millisecond)
	if len(rec.snapshot("grace")) != 0 {
		t.Errorf("expected no grace from superseded connection, got %v", rec.snapshot("grace"))
	}
	if !r.IsConnected("alice") {
		t.Error("expected replacement connection to remain registered")
	}
}
