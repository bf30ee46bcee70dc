package conversation

import "sync"

// Subscription is the handle for one chat's live message handlers. Closing
// it removes exactly the registrations it created; closing twice is a no-op.
type Subscription struct {
	store  *Store
	chatID string
	ids    map[string]int // event -> handler id
	once   sync.Once
}

// ChatID returns the chat this subscription covers.
func (s *Subscription) ChatID() string {
	return s.chatID
}

// Close detaches the subscription's handlers. If it is still the store's
// current subscription the store forgets it as well.
func (s *Subscription) Close() {
	s.once.Do(func() {
		for event, id := range s.ids {
			s.store.conn.Off(event, id)
		}
		s.store.forget(s)
	})
}
