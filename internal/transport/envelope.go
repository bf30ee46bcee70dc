package transport

import (
	"encoding/json"
	"errors"

	"github.com/kapernikxd/aipair-chatsync/internal/models"
)

// Envelope is the standard wire format for socket messages.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessageEvent is the decoded form of a new-message push. The server sends
// either a bare message or a chat-list patch wrapped as {latestMessage}; the
// two shapes are distinguished here, at the boundary, so nothing downstream
// probes raw JSON.
type MessageEvent struct {
	Message      models.Message
	FromChatList bool
}

var errEmptyMessageEvent = errors.New("message event carries no message")

// DecodeMessageEvent resolves the wrapped-vs-bare shape of a message push.
func DecodeMessageEvent(data json.RawMessage) (MessageEvent, error) {
	var wrapped struct {
		LatestMessage *models.Message `json:"latestMessage"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.LatestMessage != nil {
		return MessageEvent{Message: *wrapped.LatestMessage, FromChatList: true}, nil
	}

	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return MessageEvent{}, err
	}
	if m.ID == "" {
		return MessageEvent{}, errEmptyMessageEvent
	}
	return MessageEvent{Message: m}, nil
}
