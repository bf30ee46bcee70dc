package presence

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kapernikxd/aipair-chatsync/internal/models"
)

// Tracker derives who is online and who is typing from an unordered, possibly
// duplicated presence event stream. It is keyed only by user; filtering typing
// entries by the active chat is the consumer's concern.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	typing []models.TypingUser // ordered, unique by UserID
	log    *zap.SugaredLogger
}

func NewTracker(log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		online: make(map[string]struct{}),
		log:    log,
	}
}

// SetOnlineUsers replaces the online set atomically. Typing entries for users
// absent from the new set are pruned: a user reported offline cannot be
// typing.
func (t *Tracker) SetOnlineUsers(userIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		next[id] = struct{}{}
	}
	t.online = next

	kept := t.typing[:0]
	for _, tu := range t.typing {
		if _, ok := next[tu.UserID]; ok {
			kept = append(kept, tu)
		}
	}
	t.typing = kept
}

// SetTypingStatus applies one typing event. All branches are idempotent:
// repeated starts refresh the display name in place, repeated stops are
// no-ops.
func (t *Tracker) SetTypingStatus(userID, userName string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, tu := range t.typing {
		if tu.UserID == userID {
			idx = i
			break
		}
	}

	switch {
	case isTyping && idx >= 0:
		t.typing[idx].UserName = userName
	case isTyping:
		t.typing = append(t.typing, models.TypingUser{UserID: userID, UserName: userName})
	case idx >= 0:
		t.typing = append(t.typing[:idx], t.typing[idx+1:]...)
	}
}

// ClearTypingUsers drops all typing entries. Called on chat switch and on
// disconnect so indicators never leak across navigation.
func (t *Tracker) ClearTypingUsers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typing = nil
}

// Reset drops all presence state. Called on disconnect: presence cannot be
// trusted without a connection.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]struct{})
	t.typing = nil
}

// IsOnline reports whether userID is in the current online set.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns a copy of the online set.
func (t *Tracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// TypingUsers returns a copy of the typing list in arrival order.
func (t *Tracker) TypingUsers() []models.TypingUser {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.TypingUser, len(t.typing))
	copy(out, t.typing)
	return out
}
