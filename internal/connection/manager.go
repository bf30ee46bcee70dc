package connection

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kapernikxd/aipair-chatsync/internal/presence"
	"github.com/kapernikxd/aipair-chatsync/internal/transport"
)

// Session is the slice of the transport the manager needs. *transport.Session
// satisfies it; tests inject fakes.
type Session interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	Emit(event string, v any) error
	On(event string, h transport.Handler) int
	Off(event string, id int)
}

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Manager owns the session lifecycle and guarantees that every room the
// application ever asked for is re-joined after each successful connect.
// Room joins are idempotent on the server, so a full flush on reconnect is
// always safe.
type Manager struct {
	sess     Session
	userID   string
	presence *presence.Tracker
	log      *zap.SugaredLogger

	mu      sync.Mutex
	state   State
	desired map[string]struct{} // every room ever requested, durable
	pending map[string]struct{} // not yet flushed on the current connection
	waiter  chan struct{}       // resolves the in-flight connect attempt
}

func NewManager(sess Session, userID string, tracker *presence.Tracker, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		sess:     sess,
		userID:   userID,
		presence: tracker,
		log:      log,
		desired:  make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}
	sess.On(transport.EventConnect, m.onConnected)
	sess.On(transport.EventReconnect, m.onConnected)
	sess.On(transport.EventDisconnect, m.onDisconnected)
	sess.On(transport.EventGetUsers, m.onOnlineUsers)
	sess.On(transport.EventTyping, m.onTyping(true))
	sess.On(transport.EventStopTyping, m.onTyping(false))
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Rooms returns the desired room set.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.desired))
	for r := range m.desired {
		out = append(out, r)
	}
	return out
}

// EnsureConnectedAndJoined records rooms as desired, connects if necessary,
// and joins immediately when already connected. This is the single entry
// point the rest of the system uses. Transport errors never escape; they
// surface only as the Disconnected state.
func (m *Manager) EnsureConnectedAndJoined(ctx context.Context, rooms ...string) error {
	m.mu.Lock()
	fresh := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r == "" {
			continue
		}
		m.desired[r] = struct{}{}
		fresh = append(fresh, r)
	}
	connected := m.state == StateConnected
	if !connected {
		for _, r := range fresh {
			m.pending[r] = struct{}{}
		}
	}
	m.mu.Unlock()

	if connected {
		if len(fresh) > 0 {
			if err := m.sess.Emit(transport.EventJoinChats, fresh); err != nil {
				// the disconnect handler repopulates pending from desired,
				// so the rooms are not lost
				m.log.Warnw("join emit failed", "rooms", fresh, "err", err)
			}
		}
		return nil
	}
	return m.Connect(ctx)
}

// Connect drives Disconnected -> Connecting -> Connected. Concurrent callers
// share one underlying attempt and all resolve when it does. Without an
// authenticated user id the call is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if m.userID == "" {
		return nil
	}

	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		w := m.waiter
		m.mu.Unlock()
		return waitOn(ctx, w)
	}
	m.state = StateConnecting
	m.waiter = make(chan struct{})
	w := m.waiter
	m.mu.Unlock()

	if err := m.sess.Connect(ctx); err != nil {
		m.log.Warnw("connect failed", "err", err)
		m.mu.Lock()
		if m.state == StateConnecting {
			m.state = StateDisconnected
		}
		m.resolveWaiterLocked()
		m.mu.Unlock()
		return nil
	}
	// success resolves through onConnected
	return waitOn(ctx, w)
}

// Disconnect announces offline and closes the session. State moves through
// the session's disconnect event.
func (m *Manager) Disconnect() {
	if m.sess.Connected() {
		if err := m.sess.Emit(transport.EventOffline, m.userID); err != nil {
			m.log.Debugw("offline emit failed", "err", err)
		}
	}
	_ = m.sess.Close()
}

// Emit forwards to the session.
func (m *Manager) Emit(event string, v any) error {
	return m.sess.Emit(event, v)
}

// On forwards to the session.
func (m *Manager) On(event string, h transport.Handler) int {
	return m.sess.On(event, h)
}

// Off forwards to the session.
func (m *Manager) Off(event string, id int) {
	m.sess.Off(event, id)
}

func (m *Manager) onConnected(json.RawMessage) {
	m.mu.Lock()
	m.state = StateConnected
	rooms := make([]string, 0, len(m.pending))
	for r := range m.pending {
		rooms = append(rooms, r)
	}
	m.pending = make(map[string]struct{})
	m.resolveWaiterLocked()
	m.mu.Unlock()

	if err := m.sess.Emit(transport.EventOnline, m.userID); err != nil {
		m.log.Warnw("online announce failed", "err", err)
	}
	if len(rooms) > 0 {
		if err := m.sess.Emit(transport.EventJoinChats, rooms); err != nil {
			m.log.Warnw("room flush failed", "rooms", rooms, "err", err)
		}
	}
	m.log.Infow("connected", "rooms", len(rooms))
}

func (m *Manager) onDisconnected(json.RawMessage) {
	m.mu.Lock()
	m.state = StateDisconnected
	// everything ever desired must be flushed again on the next connect
	m.pending = make(map[string]struct{}, len(m.desired))
	for r := range m.desired {
		m.pending[r] = struct{}{}
	}
	m.resolveWaiterLocked()
	m.mu.Unlock()

	m.presence.Reset()
	m.log.Infow("disconnected")
}

func (m *Manager) onOnlineUsers(data json.RawMessage) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		m.log.Warnw("bad roster payload", "err", err)
		return
	}
	m.presence.SetOnlineUsers(ids)
}

func (m *Manager) onTyping(isTyping bool) transport.Handler {
	return func(data json.RawMessage) {
		var ev struct {
			Room     string `json:"room"`
			UserID   string `json:"userId"`
			UserName string `json:"userName"`
		}
		if err := json.Unmarshal(data, &ev); err != nil || ev.UserID == "" {
			return
		}
		if ev.UserID == m.userID {
			return
		}
		m.presence.SetTypingStatus(ev.UserID, ev.UserName, isTyping)
	}
}

func (m *Manager) resolveWaiterLocked() {
	if m.waiter != nil {
		close(m.waiter)
		m.waiter = nil
	}
}

func waitOn(ctx context.Context, w chan struct{}) error {
	if w == nil {
		return nil
	}
	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
