package models

import "time"

// Message is one chat message as the server represents it. Messages are
// unique by ID within a chat; dedup on append is the caller's job.
type Message struct {
	ID        string    `json:"_id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	Images    []string  `json:"images,omitempty"`
	IsEdited  bool      `json:"isEdited"`
	ReadBy    []string  `json:"readBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// WasReadBy reports whether userID is already in the read set.
func (m *Message) WasReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Chat is a conversation summary as shown in the chat list. LatestMessage is
// only used for ordering and preview; the full history lives in the
// conversation store.
type Chat struct {
	ID            string   `json:"_id"`
	Name          string   `json:"name,omitempty"`
	IsGroup       bool     `json:"isGroup"`
	Members       []string `json:"members"`
	LatestMessage *Message `json:"latestMessage,omitempty"`
	UnreadCount   int      `json:"unreadCount"`
}

// ChatCategory buckets chats for the tab-level unread flags.
type ChatCategory string

const (
	CategoryPrivate ChatCategory = "private"
	CategoryGroup   ChatCategory = "group"
	CategoryBot     ChatCategory = "bot"
)

// TypingUser is one entry in the typing indicator, unique by UserID.
type TypingUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ReadReceipt mirrors the server-message:read payload.
type ReadReceipt struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

// TypingEvent mirrors the typing / stop typing payloads.
type TypingEvent struct {
	Room     string `json:"room"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
