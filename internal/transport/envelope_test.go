package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessageEventBare(t *testing.T) {
	data := json.RawMessage(`{"_id":"m1","chatId":"c1","senderId":"u1","content":"hi"}`)

	ev, err := DecodeMessageEvent(data)
	require.NoError(t, err)
	assert.False(t, ev.FromChatList)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "c1", ev.Message.ChatID)
}

func TestDecodeMessageEventWrapped(t *testing.T) {
	data := json.RawMessage(`{"latestMessage":{"_id":"m2","chatId":"c2","senderId":"u2","content":"yo"}}`)

	ev, err := DecodeMessageEvent(data)
	require.NoError(t, err)
	assert.True(t, ev.FromChatList)
	assert.Equal(t, "m2", ev.Message.ID)
}

func TestDecodeMessageEventRejectsEmpty(t *testing.T) {
	_, err := DecodeMessageEvent(json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = DecodeMessageEvent(json.RawMessage(`not json`))
	assert.Error(t, err)
}
