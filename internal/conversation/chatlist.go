package conversation

import (
	"sort"
	"sync"

	"github.com/kapernikxd/aipair-chatsync/internal/models"
)

// ChatList keeps the chat summaries ordered by latest-message time, with
// per-chat unread counts and the tab-level unread flags.
type ChatList struct {
	mu         sync.RWMutex
	chats      []models.Chat
	unreadTabs map[models.ChatCategory]bool
}

func NewChatList() *ChatList {
	return &ChatList{unreadTabs: make(map[models.ChatCategory]bool)}
}

// SetChats replaces the list with a fresh server fetch.
func (l *ChatList) SetChats(chats []models.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chats = make([]models.Chat, len(chats))
	copy(l.chats, chats)
	l.sortLocked()
}

// ApplyChatUpdate patches one chat in place. Unknown chats are appended.
func (l *ChatList) ApplyChatUpdate(chat models.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.chats {
		if l.chats[i].ID == chat.ID {
			// unread count is client-derived state, keep ours
			chat.UnreadCount = l.chats[i].UnreadCount
			l.chats[i] = chat
			l.sortLocked()
			return
		}
	}
	l.chats = append(l.chats, chat)
	l.sortLocked()
}

// ApplyLatestMessage patches a chat's latest message and bumps its unread
// count unless the chat is currently open. The list reorders so the chat
// moves to the top.
func (l *ChatList) ApplyLatestMessage(msg models.Message, activeChatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.chats {
		if l.chats[i].ID != msg.ChatID {
			continue
		}
		m := msg
		l.chats[i].LatestMessage = &m
		if msg.ChatID != activeChatID {
			l.chats[i].UnreadCount++
		}
		l.sortLocked()
		return
	}
}

// MarkChatRead zeroes a chat's unread count, used when the chat is opened.
func (l *ChatList) MarkChatRead(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.chats {
		if l.chats[i].ID == chatID {
			l.chats[i].UnreadCount = 0
			return
		}
	}
}

// SetUnreadTab raises or clears the unread flag for one category tab.
func (l *ChatList) SetUnreadTab(category models.ChatCategory, unread bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unreadTabs[category] = unread
}

// UnreadTab reports the unread flag for one category tab.
func (l *ChatList) UnreadTab(category models.ChatCategory) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unreadTabs[category]
}

// Chats returns a copy of the ordered list.
func (l *ChatList) Chats() []models.Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Chat, len(l.chats))
	copy(out, l.chats)
	return out
}

func (l *ChatList) sortLocked() {
	sort.SliceStable(l.chats, func(i, j int) bool {
		mi, mj := l.chats[i].LatestMessage, l.chats[j].LatestMessage
		switch {
		case mi == nil:
			return false
		case mj == nil:
			return true
		default:
			return mi.CreatedAt.After(mj.CreatedAt)
		}
	})
}
