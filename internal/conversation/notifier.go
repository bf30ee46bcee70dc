package conversation

// Notifier receives transient, user-facing notices (failed send, pin limit,
// incoming notification). The UI layer decides how to show them.
type Notifier interface {
	Notify(text string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
