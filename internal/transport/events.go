package transport

// Event names on the socket surface. Server-to-client and client-to-server
// names are kept exactly as the server speaks them.
const (
	// reserved, raised by the session itself
	EventConnect    = "connect"
	EventReconnect  = "reconnect"
	EventDisconnect = "disconnect"

	// server -> client
	EventGetUsers        = "get-users"
	EventTyping          = "typing"
	EventStopTyping      = "stop typing"
	EventNewMessage      = "server-message:new"
	EventEditedMessage   = "editedMessage"
	EventMessageRead     = "server-message:read"
	EventChatListMessage = "newMessageFromChats"
	EventNotification    = "server-message:newNotification"
	EventUnreadFlag      = "server-message:newMessage"
	EventChatUpdated     = "chat-updated"

	// client -> server
	EventOnline         = "online"
	EventOffline        = "offline"
	EventJoinChats      = "joinChats"
	EventMessageReadOut = "message:read"
)
