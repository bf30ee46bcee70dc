package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker() *Tracker {
	return NewTracker(zap.NewNop().Sugar())
}

func TestSetTypingStatusIdempotent(t *testing.T) {
	tr := newTestTracker()

	tr.SetTypingStatus("u1", "Ann", true)
	tr.SetTypingStatus("u1", "Annie", true)

	users := tr.TypingUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].UserID)
	assert.Equal(t, "Annie", users[0].UserName)

	tr.SetTypingStatus("u1", "Annie", false)
	tr.SetTypingStatus("u1", "Annie", false)
	assert.Empty(t, tr.TypingUsers())
}

func TestSetTypingStatusStopForUnknownUser(t *testing.T) {
	tr := newTestTracker()
	tr.SetTypingStatus("ghost", "", false)
	assert.Empty(t, tr.TypingUsers())
}

func TestSetOnlineUsersPrunesTyping(t *testing.T) {
	tr := newTestTracker()
	tr.SetOnlineUsers([]string{"u1", "u2"})
	tr.SetTypingStatus("u1", "Ann", true)
	tr.SetTypingStatus("u2", "Bob", true)

	tr.SetOnlineUsers([]string{"u2"})

	assert.False(t, tr.IsOnline("u1"))
	assert.True(t, tr.IsOnline("u2"))
	users := tr.TypingUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "u2", users[0].UserID)
}

func TestSetOnlineUsersReplacesAtomically(t *testing.T) {
	tr := newTestTracker()
	tr.SetOnlineUsers([]string{"u1"})
	tr.SetOnlineUsers([]string{"u2", "u3"})

	assert.False(t, tr.IsOnline("u1"))
	assert.ElementsMatch(t, []string{"u2", "u3"}, tr.OnlineUsers())
}

func TestClearTypingUsers(t *testing.T) {
	tr := newTestTracker()
	tr.SetTypingStatus("u1", "Ann", true)
	tr.SetTypingStatus("u2", "Bob", true)

	tr.ClearTypingUsers()
	assert.Empty(t, tr.TypingUsers())
}

func TestResetDropsEverything(t *testing.T) {
	tr := newTestTracker()
	tr.SetOnlineUsers([]string{"u1", "u2"})
	tr.SetTypingStatus("u1", "Ann", true)

	tr.Reset()

	assert.Empty(t, tr.OnlineUsers())
	assert.Empty(t, tr.TypingUsers())
}
