package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kapernikxd/aipair-chatsync/internal/presence"
	"github.com/kapernikxd/aipair-chatsync/internal/transport"
)

type emitted struct {
	event string
	v     any
}

// fakeSession mimics the transport: Connect dispatches the connect event
// synchronously on success, exactly like the real session does.
type fakeSession struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	connectErr   error
	connectGate  chan struct{} // when set, Connect blocks until closed
	emits        []emitted
	handlers     map[string]map[int]transport.Handler
	nextID       int
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string]map[int]transport.Handler)}
}

func (f *fakeSession) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connectCalls++
	gate := f.connectGate
	err := f.connectErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.fire(transport.EventConnect, nil)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	was := f.connected
	f.connected = false
	f.mu.Unlock()
	if was {
		f.fire(transport.EventDisconnect, nil)
	}
	return nil
}

func (f *fakeSession) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Emit(event string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	f.emits = append(f.emits, emitted{event, v})
	return nil
}

func (f *fakeSession) On(event string, h transport.Handler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if _, ok := f.handlers[event]; !ok {
		f.handlers[event] = make(map[int]transport.Handler)
	}
	f.handlers[event][f.nextID] = h
	return f.nextID
}

func (f *fakeSession) Off(event string, id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers[event], id)
}

func (f *fakeSession) fire(event string, data json.RawMessage) {
	f.mu.Lock()
	hs := make([]transport.Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (f *fakeSession) dropConnection() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(transport.EventDisconnect, nil)
}

func (f *fakeSession) joinedRooms() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make(map[string]bool)
	for _, e := range f.emits {
		if e.event != transport.EventJoinChats {
			continue
		}
		for _, r := range e.v.([]string) {
			rooms[r] = true
		}
	}
	return rooms
}

func newTestManager(sess Session) (*Manager, *presence.Tracker) {
	tracker := presence.NewTracker(zap.NewNop().Sugar())
	return NewManager(sess, "me", tracker, zap.NewNop().Sugar()), tracker
}

func TestEnsureConnectedAndJoinedConnectsAndFlushes(t *testing.T) {
	sess := newFakeSession()
	mgr, _ := newTestManager(sess)

	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c1", "c2"))

	assert.Equal(t, StateConnected, mgr.State())
	assert.Equal(t, 1, sess.connectCalls)

	sess.mu.Lock()
	first := sess.emits[0]
	sess.mu.Unlock()
	assert.Equal(t, transport.EventOnline, first.event)

	joined := sess.joinedRooms()
	assert.True(t, joined["c1"])
	assert.True(t, joined["c2"])
}

func TestJoinWhileConnectedIsImmediate(t *testing.T) {
	sess := newFakeSession()
	mgr, _ := newTestManager(sess)

	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c1"))
	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c2"))

	assert.Equal(t, 1, sess.connectCalls)
	assert.True(t, sess.joinedRooms()["c2"])
}

func TestNoRoomIsLostAcrossReconnects(t *testing.T) {
	sess := newFakeSession()
	mgr, _ := newTestManager(sess)

	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c1"))
	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c2"))

	sess.dropConnection()
	assert.Equal(t, StateDisconnected, mgr.State())

	sess.mu.Lock()
	sess.emits = nil
	sess.mu.Unlock()

	// a room requested while disconnected must survive too; this call also
	// re-enters the connect path
	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c3"))

	joined := sess.joinedRooms()
	for _, room := range []string{"c1", "c2", "c3"} {
		assert.Truef(t, joined[room], "room %s lost after reconnect", room)
	}
}

func TestConcurrentConnectsShareOneAttempt(t *testing.T) {
	sess := newFakeSession()
	sess.connectGate = make(chan struct{})
	mgr, _ := newTestManager(sess)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.Connect(context.Background())
		}()
	}

	// let the callers pile up on the shared waiter, then release the dial
	time.Sleep(50 * time.Millisecond)
	close(sess.connectGate)
	wg.Wait()

	assert.Equal(t, 1, sess.connectCalls)
	assert.Equal(t, StateConnected, mgr.State())
}

func TestConnectFailureIsSwallowed(t *testing.T) {
	sess := newFakeSession()
	sess.connectErr = errors.New("dial refused")
	mgr, _ := newTestManager(sess)

	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c1"))
	assert.Equal(t, StateDisconnected, mgr.State())

	// next explicit call reconnects and flushes the room
	sess.mu.Lock()
	sess.connectErr = nil
	sess.mu.Unlock()
	require.NoError(t, mgr.EnsureConnectedAndJoined(context.Background(), "c1"))
	assert.Equal(t, StateConnected, mgr.State())
	assert.True(t, sess.joinedRooms()["c1"])
}

func TestConnectWithoutUserIsNoOp(t *testing.T) {
	sess := newFakeSession()
	tracker := presence.NewTracker(zap.NewNop().Sugar())
	mgr := NewManager(sess, "", tracker, zap.NewNop().Sugar())

	require.NoError(t, mgr.Connect(context.Background()))
	assert.Zero(t, sess.connectCalls)
	assert.Equal(t, StateDisconnected, mgr.State())
}

func TestDisconnectClearsPresence(t *testing.T) {
	sess := newFakeSession()
	mgr, tracker := newTestManager(sess)

	require.NoError(t, mgr.Connect(context.Background()))
	sess.fire(transport.EventGetUsers, json.RawMessage(`["u1","u2"]`))
	sess.fire(transport.EventTyping, json.RawMessage(`{"room":"c1","userId":"u1","userName":"Ann"}`))
	sess.fire(transport.EventTyping, json.RawMessage(`{"room":"c1","userId":"u2","userName":"Bob"}`))
	require.Len(t, tracker.TypingUsers(), 2)

	sess.dropConnection()

	assert.Empty(t, tracker.OnlineUsers())
	assert.Empty(t, tracker.TypingUsers())

	// reconnect alone must not resurrect typing indicators
	require.NoError(t, mgr.Connect(context.Background()))
	assert.Empty(t, tracker.TypingUsers())
}

func TestOwnTypingEventsIgnored(t *testing.T) {
	sess := newFakeSession()
	mgr, tracker := newTestManager(sess)
	require.NoError(t, mgr.Connect(context.Background()))

	sess.fire(transport.EventTyping, json.RawMessage(`{"room":"c1","userId":"me","userName":"Me"}`))
	assert.Empty(t, tracker.TypingUsers())
}

func TestStopTypingRemovesEntry(t *testing.T) {
	sess := newFakeSession()
	mgr, tracker := newTestManager(sess)
	require.NoError(t, mgr.Connect(context.Background()))

	sess.fire(transport.EventTyping, json.RawMessage(`{"room":"c1","userId":"u1","userName":"Ann"}`))
	sess.fire(transport.EventStopTyping, json.RawMessage(`{"room":"c1","userId":"u1","userName":"Ann"}`))
	assert.Empty(t, tracker.TypingUsers())
}
