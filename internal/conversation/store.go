package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kapernikxd/aipair-chatsync/internal/cherr"
	"github.com/kapernikxd/aipair-chatsync/internal/models"
	"github.com/kapernikxd/aipair-chatsync/internal/presence"
	"github.com/kapernikxd/aipair-chatsync/internal/rest"
	"github.com/kapernikxd/aipair-chatsync/internal/transport"
)

// PageSize is the fixed message page size; a shorter page means end of
// history.
const PageSize = 30

const defaultPinLimit = 5

// Conn is the slice of the connection manager the store uses.
type Conn interface {
	EnsureConnectedAndJoined(ctx context.Context, rooms ...string) error
	Emit(event string, v any) error
	On(event string, h transport.Handler) int
	Off(event string, id int)
}

// Backend is the REST collaborator surface. *rest.Client satisfies it.
type Backend interface {
	GetMessages(ctx context.Context, chatID string, skip int) ([]models.Message, error)
	SendMessage(ctx context.Context, in rest.SendMessageInput) (*models.Message, error)
	EditMessage(ctx context.Context, messageID, content string) (*models.Message, error)
	ClearHistory(ctx context.Context, chatID string) error
	PinMessage(ctx context.Context, chatID, messageID string) error
	UnpinMessage(ctx context.Context, chatID, messageID string) error
	PinnedMessages(ctx context.Context, chatID string) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID, messageID string) error
}

type Options struct {
	UserID   string
	UserName string
	PinLimit int
	// TypingPerSecond throttles outgoing typing emissions.
	TypingPerSecond float64
	Notifier        Notifier
}

// Store holds the active chat's message list, its pinned subset and
// pagination state, plus the chat-list view. At most one chat is subscribed
// at a time; switching chats swaps the message handlers and clears typing
// state so nothing leaks between chats.
type Store struct {
	conn     Conn
	api      Backend
	presence *presence.Tracker
	chats    *ChatList
	log      *zap.SugaredLogger

	userID   string
	userName string
	pinLimit int
	notifier Notifier
	typing   *rate.Limiter

	mu         sync.Mutex
	activeChat string
	generation uint64 // bumped on every switch and history clear
	messages   []models.Message
	pinned     []models.Message
	hasMore    bool
	sending    bool
	sub        *Subscription
}

func NewStore(conn Conn, api Backend, tracker *presence.Tracker, opts Options, log *zap.SugaredLogger) *Store {
	if opts.PinLimit <= 0 {
		opts.PinLimit = defaultPinLimit
	}
	if opts.TypingPerSecond <= 0 {
		opts.TypingPerSecond = 1
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	s := &Store{
		conn:     conn,
		api:      api,
		presence: tracker,
		chats:    NewChatList(),
		log:      log,
		userID:   opts.UserID,
		userName: opts.UserName,
		pinLimit: opts.PinLimit,
		notifier: opts.Notifier,
		typing:   rate.NewLimiter(rate.Limit(opts.TypingPerSecond), 1),
	}
	// chat-list level events outlive any single chat subscription
	conn.On(transport.EventChatListMessage, s.handleChatListMessage)
	conn.On(transport.EventChatUpdated, s.handleChatUpdated)
	conn.On(transport.EventUnreadFlag, s.handleUnreadFlag)
	conn.On(transport.EventNotification, s.handleNotification)
	return s
}

// ChatList exposes the chat summaries view.
func (s *Store) ChatList() *ChatList {
	return s.chats
}

// ActiveChat returns the currently subscribed chat id, empty when none.
func (s *Store) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat
}

// Messages returns a copy of the active chat's message list, oldest first.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Pinned returns a copy of the pinned subset.
func (s *Store) Pinned() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.pinned))
	copy(out, s.pinned)
	return out
}

// HasMoreMessages reports whether older pages remain for the active chat.
func (s *Store) HasMoreMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Sending reports whether a send is in flight.
func (s *Store) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// SubscribeToChat makes chatID the active chat. Strictly in order: the
// previous subscription's handlers come off, typing state is cleared, fresh
// handlers go on, then the chat id is recorded. The returned handle detaches
// exactly those handlers on Close.
func (s *Store) SubscribeToChat(ctx context.Context, chatID string) (*Subscription, error) {
	s.mu.Lock()
	prev := s.sub
	s.sub = nil
	s.generation++ // in-flight fetches for the old chat must not land
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	s.presence.ClearTypingUsers()

	sub := &Subscription{store: s, chatID: chatID, ids: make(map[string]int)}
	sub.ids[transport.EventNewMessage] = s.conn.On(transport.EventNewMessage, s.handleNewMessage)
	sub.ids[transport.EventEditedMessage] = s.conn.On(transport.EventEditedMessage, s.handleEditedMessage)
	sub.ids[transport.EventMessageRead] = s.conn.On(transport.EventMessageRead, s.handleReadReceipt)

	s.mu.Lock()
	s.activeChat = chatID
	s.sub = sub
	s.messages = nil
	s.pinned = nil
	s.hasMore = false
	s.mu.Unlock()

	s.chats.MarkChatRead(chatID)

	if err := s.conn.EnsureConnectedAndJoined(ctx, chatID); err != nil {
		return sub, err
	}
	return sub, nil
}

// FetchMessages loads one page. skip == 0 replaces the whole list; skip > 0
// prepends only messages not already present, keeping chronological order.
// A result arriving after the chat switched away is dropped wholesale.
func (s *Store) FetchMessages(ctx context.Context, chatID string, skip int) error {
	s.mu.Lock()
	if skip > 0 && !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	s.mu.Unlock()

	page, err := s.api.GetMessages(ctx, chatID, skip)
	if err != nil {
		s.log.Warnw("fetch messages failed", "chat", chatID, "skip", skip, "err", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.activeChat != chatID {
		s.log.Debugw("stale fetch dropped", "chat", chatID)
		return nil
	}
	if skip == 0 {
		s.messages = page
	} else {
		seen := make(map[string]struct{}, len(s.messages))
		for _, m := range s.messages {
			seen[m.ID] = struct{}{}
		}
		fresh := make([]models.Message, 0, len(page))
		for _, m := range page {
			if _, dup := seen[m.ID]; !dup {
				fresh = append(fresh, m)
			}
		}
		s.messages = append(fresh, s.messages...)
	}
	s.hasMore = len(page) == PageSize
	s.updatePinnedLocked()
	return nil
}

// SendMessage performs the authoritative server call and appends the returned
// message. No temporary local id is synthesized; the server assigns ids, and
// dedup-by-id covers a push for the same message racing the response.
func (s *Store) SendMessage(ctx context.Context, in rest.SendMessageInput) error {
	s.mu.Lock()
	s.sending = true
	s.mu.Unlock()

	msg, err := s.api.SendMessage(ctx, in)

	s.mu.Lock()
	s.sending = false
	if err != nil {
		s.mu.Unlock()
		s.log.Errorw("send failed", "chat", in.ChatID, "err", err)
		s.notifier.Notify("message could not be sent")
		return err
	}
	if s.activeChat == in.ChatID {
		s.appendIfAbsentLocked(*msg)
	}
	s.mu.Unlock()
	return nil
}

// EditMessage rewrites a message's content, patches the local copies and
// mirrors the edit onto the socket.
func (s *Store) EditMessage(ctx context.Context, messageID, content string) error {
	msg, err := s.api.EditMessage(ctx, messageID, content)
	if err != nil {
		s.log.Errorw("edit failed", "message", messageID, "err", err)
		s.notifier.Notify("message could not be edited")
		return err
	}

	s.mu.Lock()
	s.patchMessageLocked(*msg)
	s.mu.Unlock()

	if err := s.conn.Emit(transport.EventEditedMessage, msg); err != nil {
		s.log.Debugw("edit emit failed", "err", err)
	}
	return nil
}

// MarkRead records the read receipt server-side, announces it on the socket
// and patches the local copy.
func (s *Store) MarkRead(ctx context.Context, chatID, messageID string) error {
	if err := s.api.MarkRead(ctx, chatID, messageID); err != nil {
		s.log.Warnw("mark read failed", "message", messageID, "err", err)
		return err
	}
	receipt := models.ReadReceipt{ChatID: chatID, MessageID: messageID, SenderID: s.userID}
	if err := s.conn.Emit(transport.EventMessageReadOut, receipt); err != nil {
		s.log.Debugw("read emit failed", "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeChat == chatID {
		s.applyReadLocked(messageID, s.userID)
	}
	s.chats.MarkChatRead(chatID)
	return nil
}

// PinMessage pins a loaded message. Re-pinning is a no-op; exceeding the cap
// fails with a user-facing notice.
func (s *Store) PinMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	chatID := s.activeChat
	gen := s.generation
	if chatID == "" {
		s.mu.Unlock()
		return cherr.ErrNoActiveChat
	}
	for _, p := range s.pinned {
		if p.ID == messageID {
			s.mu.Unlock()
			return nil
		}
	}
	if len(s.pinned) >= s.pinLimit {
		s.mu.Unlock()
		s.notifier.Notify(fmt.Sprintf("no more than %d pinned messages", s.pinLimit))
		return cherr.ErrPinLimit
	}
	msg, ok := s.findMessageLocked(messageID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pin: message %s is not loaded", messageID)
	}

	if err := s.api.PinMessage(ctx, chatID, messageID); err != nil {
		s.log.Errorw("pin failed", "message", messageID, "err", err)
		s.notifier.Notify("message could not be pinned")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a history clear or chat switch during the round-trip invalidates the
	// pin: the message is no longer loaded, and pins must stay a subset of
	// loaded messages
	if s.generation != gen || s.activeChat != chatID {
		return nil
	}
	for _, p := range s.pinned {
		if p.ID == messageID {
			return nil
		}
	}
	s.pinned = append(s.pinned, msg)
	return nil
}

// UnpinMessage removes one pin; unpinning a message not in the set is a
// no-op.
func (s *Store) UnpinMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	chatID := s.activeChat
	gen := s.generation
	idx := -1
	for i, p := range s.pinned {
		if p.ID == messageID {
			idx = i
			break
		}
	}
	s.mu.Unlock()
	if idx < 0 {
		return nil
	}

	if err := s.api.UnpinMessage(ctx, chatID, messageID); err != nil {
		s.log.Errorw("unpin failed", "message", messageID, "err", err)
		s.notifier.Notify("message could not be unpinned")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.activeChat != chatID {
		return nil
	}
	for i, p := range s.pinned {
		if p.ID == messageID {
			s.pinned = append(s.pinned[:i], s.pinned[i+1:]...)
			break
		}
	}
	return nil
}

// FetchPinned refreshes the pinned set from the server, then prunes it to
// the subset of loaded messages.
func (s *Store) FetchPinned(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.activeChat
	gen := s.generation
	s.mu.Unlock()
	if chatID == "" {
		return cherr.ErrNoActiveChat
	}

	pins, err := s.api.PinnedMessages(ctx, chatID)
	if err != nil {
		s.log.Warnw("fetch pinned failed", "chat", chatID, "err", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.activeChat != chatID {
		return nil
	}
	s.pinned = pins
	s.updatePinnedLocked()
	return nil
}

// ClearHistory irreversibly empties the chat's messages and pins and
// disables further pagination for it.
func (s *Store) ClearHistory(ctx context.Context, chatID string) error {
	if err := s.api.ClearHistory(ctx, chatID); err != nil {
		s.log.Errorw("clear history failed", "chat", chatID, "err", err)
		s.notifier.Notify("history could not be cleared")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeChat == chatID {
		s.generation++
		s.messages = nil
		s.pinned = nil
		s.hasMore = false
	}
	return nil
}

// SetTyping emits the typing state for the active chat. Starts are throttled
// so a keystroke burst produces at most the configured rate.
func (s *Store) SetTyping(isTyping bool) error {
	s.mu.Lock()
	chatID := s.activeChat
	s.mu.Unlock()
	if chatID == "" {
		return cherr.ErrNoActiveChat
	}

	event := transport.EventStopTyping
	if isTyping {
		if !s.typing.Allow() {
			return nil
		}
		event = transport.EventTyping
	}
	ev := models.TypingEvent{Room: chatID, UserID: s.userID, UserName: s.userName}
	if err := s.conn.Emit(event, ev); err != nil {
		s.log.Debugw("typing emit failed", "err", err)
	}
	return nil
}

// ---- incoming events ----

func (s *Store) handleNewMessage(data json.RawMessage) {
	ev, err := transport.DecodeMessageEvent(data)
	if err != nil {
		s.log.Warnw("bad message push", "err", err)
		return
	}
	if ev.FromChatList {
		s.chats.ApplyLatestMessage(ev.Message, s.ActiveChat())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Message.ChatID != s.activeChat {
		return
	}
	// own sends arrive through the send response; the push is a duplicate
	if ev.Message.SenderID == s.userID {
		return
	}
	s.appendIfAbsentLocked(ev.Message)
}

func (s *Store) handleEditedMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ChatID != s.activeChat {
		return
	}
	s.patchMessageLocked(msg)
}

func (s *Store) handleReadReceipt(data json.RawMessage) {
	var receipt models.ReadReceipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if receipt.ChatID != s.activeChat {
		return
	}
	s.applyReadLocked(receipt.MessageID, receipt.SenderID)
}

func (s *Store) handleChatListMessage(data json.RawMessage) {
	ev, err := transport.DecodeMessageEvent(data)
	if err != nil {
		return
	}
	s.chats.ApplyLatestMessage(ev.Message, s.ActiveChat())
}

func (s *Store) handleChatUpdated(data json.RawMessage) {
	var chat models.Chat
	if err := json.Unmarshal(data, &chat); err != nil || chat.ID == "" {
		return
	}
	s.chats.ApplyChatUpdate(chat)
}

func (s *Store) handleUnreadFlag(data json.RawMessage) {
	var ev struct {
		Type models.ChatCategory `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		return
	}
	s.chats.SetUnreadTab(ev.Type, true)
}

func (s *Store) handleNotification(data json.RawMessage) {
	var ev struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.Text == "" {
		return
	}
	s.notifier.Notify(ev.Text)
}

// ---- internals, all require s.mu held ----

func (s *Store) appendIfAbsentLocked(msg models.Message) {
	for _, m := range s.messages {
		if m.ID == msg.ID {
			return
		}
	}
	s.messages = append(s.messages, msg)
}

func (s *Store) patchMessageLocked(msg models.Message) {
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i].Content = msg.Content
			s.messages[i].IsEdited = true
			break
		}
	}
	s.updatePinnedLocked()
}

func (s *Store) applyReadLocked(messageID, readerID string) {
	for i := range s.messages {
		if s.messages[i].ID != messageID {
			continue
		}
		if !s.messages[i].WasReadBy(readerID) {
			s.messages[i].ReadBy = append(s.messages[i].ReadBy, readerID)
		}
		return
	}
}

func (s *Store) findMessageLocked(messageID string) (models.Message, bool) {
	for _, m := range s.messages {
		if m.ID == messageID {
			return m, true
		}
	}
	return models.Message{}, false
}

// updatePinnedLocked keeps the pinned set a subset of the loaded messages and
// refreshes each pinned copy's fields from the live message.
func (s *Store) updatePinnedLocked() {
	if len(s.pinned) == 0 {
		return
	}
	kept := s.pinned[:0]
	for _, p := range s.pinned {
		if m, ok := s.findMessageLocked(p.ID); ok {
			kept = append(kept, m)
		}
	}
	s.pinned = kept
}

func (s *Store) forget(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == sub {
		s.sub = nil
		s.activeChat = ""
	}
}
