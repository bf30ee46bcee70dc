package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapernikxd/aipair-chatsync/internal/cherr"
)

const (
	readLimit     = 64 * 1024
	pongWait      = 60 * time.Second
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// Handler receives the raw data of one dispatched event.
type Handler func(data json.RawMessage)

type Options struct {
	URL              string
	UserID           string
	AuthToken        string
	HandshakeTimeout time.Duration
}

// Session wraps one websocket connection to the chat server. It owns the
// read loop and dispatches incoming envelopes to registered handlers by
// event name. Handlers survive disconnects; only the connection itself is
// torn down.
type Session struct {
	opts     Options
	socketID string
	log      *zap.SugaredLogger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	wmu sync.Mutex // serializes writes to conn

	hmu      sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
}

func NewSession(opts Options, log *zap.SugaredLogger) *Session {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Session{
		opts:     opts,
		socketID: uuid.NewString(),
		log:      log,
		handlers: make(map[string]map[int]Handler),
	}
}

// Connected reports whether the underlying connection is live.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Connect dials the server once. On success it starts the read loop and
// dispatches the connect event. Calling Connect while already connected is a
// no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("userId", s.opts.UserID)
	q.Set("socketId", s.socketID)
	if s.opts.AuthToken != "" {
		q.Set("token", s.opts.AuthToken)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.done = done
	s.mu.Unlock()

	go s.readPump(conn, done)
	go s.pingLoop(conn, done)

	s.dispatch(EventConnect, nil)
	return nil
}

// Close tears the connection down. Registered handlers are kept so a later
// Connect picks them up again.
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Emit marshals v and writes it as one envelope. Data may be nil.
func (s *Session) Emit(event string, v any) error {
	s.mu.RLock()
	conn, ok := s.conn, s.connected
	s.mu.RUnlock()
	if !ok || conn == nil {
		return cherr.ErrNotConnected
	}

	env := Envelope{Event: event}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		env.Data = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// On registers a handler and returns its id for Off.
func (s *Session) On(event string, h Handler) int {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.nextID++
	if _, ok := s.handlers[event]; !ok {
		s.handlers[event] = make(map[int]Handler)
	}
	s.handlers[event][s.nextID] = h
	return s.nextID
}

// Off removes one handler registration. Unknown ids are ignored.
func (s *Session) Off(event string, id int) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if set, ok := s.handlers[event]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.handlers, event)
		}
	}
}

func (s *Session) dispatch(event string, data json.RawMessage) {
	s.hmu.RLock()
	set := s.handlers[event]
	hs := make([]Handler, 0, len(set))
	for _, h := range set {
		hs = append(hs, h)
	}
	s.hmu.RUnlock()

	// handlers run outside the lock so they can call On/Off
	for _, h := range hs {
		h(data)
	}
}

func (s *Session) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		_ = conn.Close()
		s.markDisconnected(conn)
		s.dispatch(EventDisconnect, nil)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Debugw("socket read ended", "err", err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warnw("malformed envelope dropped", "err", err)
			continue
		}
		s.dispatch(env.Event, env.Data)
	}
}

func (s *Session) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			s.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) markDisconnected(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
		s.connected = false
	}
}
