package transport

import "context"

// Message is an inbound chat message delivered to the bot.
type Message struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	PushName string `json:"push_name,omitempty"` // display-name hint carried by the event, may be empty
	Text     string `json:"text"`
	IsGroup  bool   `json:"is_group"`
}

// Profile is a rich identity as reported by the transport.
type Profile struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// Sender delivers text to a room. Fire-and-forget from the bot's
// perspective; delivery failures are logged by callers, never retried.
type Sender interface {
	SendToRoom(ctx context.Context, roomID, text string, mentions []string) error
}

// ProfileResolver looks up a rich profile for a raw sender identifier.
type ProfileResolver interface {
	ResolveProfile(ctx context.Context, senderID string) (*Profile, error)
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg Message)

// Transport is a full chat connection: it delivers inbound messages to a
// handler and sends outbound text.
type Transport interface {
	Sender
	ProfileResolver

	// Start begins delivering inbound messages to the handler until the
	// context is cancelled or Stop is called.
	Start(ctx context.Context, handler Handler) error
	Stop()
}
