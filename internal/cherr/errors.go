package cherr

import "errors"

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoActiveChat = errors.New("no active chat")
	ErrPinLimit     = errors.New("pin limit reached")
	ErrBadStatus    = errors.New("unexpected status")
)
