// Package connection tracks live client channels per identity, heartbeats
// them, and brokers the disconnect/grace/reconnect handshake consumed by
// the match layer.
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/natefell/quizarena/internal/logger"
	"github.com/natefell/quizarena/internal/protocol"
)

// Config holds registry timing parameters
type Config struct {
	// GracePeriod bounds how long a disconnected in-match identity may
	// reconnect before the match is abandoned.
	GracePeriod time.Duration
	// HeartbeatInterval is how often the liveness sweep runs.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how stale a connection's last pong may be before
	// the sweep force-closes it.
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns production timing values
func DefaultConfig() Config {
	return Config{
		GracePeriod:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
	}
}

// Hooks are registered by the match layer. The registry never imports or
// calls match code directly; this keeps the dependency one-directional.
type Hooks struct {
	// Disconnected is asked which match (if any) the identity is playing.
	// A non-empty match id opens a grace window for that identity.
	Disconnected func(identity string) (matchID string)
	// GraceStarted fires after the grace record is installed, with the
	// deadline the match layer should report to the opponent.
	GraceStarted func(identity, matchID string, deadline time.Time)
	// Reconnected fires when an identity re-registers within its grace
	// window.
	Reconnected func(identity, matchID string)
	// Abandoned fires when a grace window expires without a reconnect.
	Abandoned func(identity, matchID string)
}

// disconnectRecord exists only during the grace window and is mutually
// exclusive with an active connection for the same identity.
type disconnectRecord struct {
	identity       string
	matchID        string
	disconnectedAt time.Time
	graceDeadline  time.Time
	timer          *time.Timer
}

// Registry maps identity to live channel and manages reconnection grace
type Registry struct {
	log logger.Logger
	cfg Config

	mu      sync.Mutex
	clients map[string]*Client
	graces  map[string]*disconnectRecord
	hooks   Hooks
}

// NewRegistry creates a registry with injected dependencies
func NewRegistry(log logger.Logger, cfg Config) *Registry {
	return &Registry{
		log:     log,
		cfg:     cfg,
		clients: make(map[string]*Client),
		graces:  make(map[string]*disconnectRecord),
	}
}

// SetHooks installs the match-layer callbacks. Must be called before the
// registry accepts connections.
func (r *Registry) SetHooks(h Hooks) {
	r.mu.Lock()
	r.hooks = h
	r.mu.Unlock()
}

// Register installs a client for its identity. A registration that lands
// inside a grace window counts as a reconnection: the grace timer is
// cancelled and the match layer is signalled.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()

	// A lingering connection for the same identity is superseded. The map
	// is repointed before the old connection is closed so its teardown path
	// sees itself replaced and does not open a grace window.
	old := r.clients[c.identity]
	r.clients[c.identity] = c

	var reconnected *disconnectRecord
	if rec, ok := r.graces[c.identity]; ok {
		rec.timer.Stop()
		delete(r.graces, c.identity)
		reconnected = rec
	}
	hooks := r.hooks
	r.mu.Unlock()

	if old != nil && old != c {
		old.Close()
	}

	if reconnected != nil {
		r.log.Info("Client reconnected within grace", "identity", c.identity, "match", reconnected.matchID)
		if hooks.Reconnected != nil {
			hooks.Reconnected(c.identity, reconnected.matchID)
		}
		return
	}
	r.log.Debug("Client connected", "identity", c.identity)
}

// handleDisconnect removes the connection record and, when the identity is
// in an active match, opens a grace window.
func (r *Registry) handleDisconnect(c *Client) {
	r.mu.Lock()
	if current, ok := r.clients[c.identity]; !ok || current != c {
		// Superseded by a newer connection for the same identity.
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.identity)
	hooks := r.hooks
	r.mu.Unlock()

	var matchID string
	if hooks.Disconnected != nil {
		matchID = hooks.Disconnected(c.identity)
	}
	if matchID == "" {
		r.log.Debug("Client disconnected", "identity", c.identity)
		return
	}

	now := time.Now()
	rec := &disconnectRecord{
		identity:       c.identity,
		matchID:        matchID,
		disconnectedAt: now,
		graceDeadline:  now.Add(r.cfg.GracePeriod),
	}
	rec.timer = time.AfterFunc(r.cfg.GracePeriod, func() {
		r.expireGrace(rec)
	})

	r.mu.Lock()
	r.graces[c.identity] = rec
	r.mu.Unlock()

	r.log.Info("Client disconnected mid-match, grace window open",
		"identity", c.identity, "match", matchID, "deadline", rec.graceDeadline)
	if hooks.GraceStarted != nil {
		hooks.GraceStarted(c.identity, matchID, rec.graceDeadline)
	}
}

// expireGrace fires when a grace timer elapses. The record is re-checked
// under the lock: a reconnect may have raced the timer.
func (r *Registry) expireGrace(rec *disconnectRecord) {
	r.mu.Lock()
	current, ok := r.graces[rec.identity]
	if !ok || current != rec {
		r.mu.Unlock()
		return
	}
	delete(r.graces, rec.identity)
	hooks := r.hooks
	r.mu.Unlock()

	r.log.Info("Grace window expired", "identity", rec.identity, "match", rec.matchID)
	if hooks.Abandoned != nil {
		hooks.Abandoned(rec.identity, rec.matchID)
	}
}

// GraceDeadline reports the grace deadline for a disconnected identity
func (r *Registry) GraceDeadline(identity string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.graces[identity]
	if !ok {
		return time.Time{}, false
	}
	return rec.graceDeadline, true
}

// CancelGrace drops a pending grace window without signalling abandonment.
// Used when the match ends for other reasons while a participant is away.
func (r *Registry) CancelGrace(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.graces[identity]; ok {
		rec.timer.Stop()
		delete(r.graces, identity)
	}
}

// Send delivers an envelope to the identity's channel if one is open.
// Delivery is best-effort: a missing or saturated channel yields false,
// never an error.
func (r *Registry) Send(identity string, env protocol.Envelope) bool {
	r.mu.Lock()
	c, ok := r.clients[identity]
	r.mu.Unlock()
	if !ok {
		return false
	}
	if !c.Send(env) {
		r.log.Warn("Dropped outbound frame", "identity", identity, "type", env.Type)
		return false
	}
	return true
}

// IsConnected reports whether the identity has a live channel
func (r *Registry) IsConnected(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[identity]
	return ok
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Run drives the periodic heartbeat sweep until the context is cancelled.
// The per-connection ping/pong keeps most dead channels detected at the
// websocket layer; the sweep is a backstop for connections that stopped
// ponging without closing.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.cfg.HeartbeatTimeout)

	r.mu.Lock()
	var stale []*Client
	for _, c := range r.clients {
		if c.lastHeartbeat.get().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		r.log.Warn("Closing unresponsive connection", "identity", c.identity)
		c.Close()
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	for _, rec := range r.graces {
		rec.timer.Stop()
	}
	r.graces = make(map[string]*disconnectRecord)
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
