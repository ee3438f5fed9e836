package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// NATS subjects for the chat bridge. Inbound messages arrive on
// chat.in.<roomID>; outbound text is published to chat.out.<roomID>;
// profile lookups are request-reply on chat.profile.
const (
	subjectInbound  = "chat.in.>"
	subjectOutbound = "chat.out."
	subjectProfile  = "chat.profile"
)

// outboundFrame is the payload published for a room delivery
type outboundFrame struct {
	ID       string   `json:"id"`
	RoomID   string   `json:"room_id"`
	Text     string   `json:"text"`
	Mentions []string `json:"mentions,omitempty"`
}

// profileRequest asks the bridge peer for a rich sender profile
type profileRequest struct {
	SenderID string `json:"sender_id"`
}

// NATSBridge connects the bot to a chat bridge over NATS. With Embedded
// set it also runs an in-process NATS server, for standalone deployments
// that have no external broker.
type NATSBridge struct {
	url      string
	embedded bool

	nc  *nats.Conn
	ns  *natsserver.Server
	sub *nats.Subscription
}

// NewNATSBridge creates a bridge for the given server URL
func NewNATSBridge(url string, embedded bool) *NATSBridge {
	return &NATSBridge{url: url, embedded: embedded}
}

// Start connects to NATS (starting the embedded server first if
// configured) and subscribes to inbound chat messages. Messages are
// handed to the handler one at a time, preserving per-room ordering.
func (b *NATSBridge) Start(ctx context.Context, handler Handler) error {
	url := b.url
	if b.embedded {
		ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
		if err != nil {
			return fmt.Errorf("creating embedded NATS server: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server did not become ready")
		}
		b.ns = ns
		url = ns.ClientURL()
		log.Printf("Embedded NATS server listening at %s", url)
	}

	nc, err := nats.Connect(url,
		nats.Name("sprintbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		if b.ns != nil {
			b.ns.Shutdown()
		}
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	b.nc = nc

	sub, err := nc.Subscribe(subjectInbound, func(m *nats.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("Dropping malformed inbound message on %s: %v", m.Subject, err)
			return
		}
		handler(ctx, msg)
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribing to %s: %w", subjectInbound, err)
	}
	b.sub = sub

	log.Printf("NATS bridge connected to %s", nc.ConnectedUrl())
	return nil
}

// Stop drains the connection and shuts down the embedded server
func (b *NATSBridge) Stop() {
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			log.Printf("NATS drain error: %v", err)
		}
	}
	if b.ns != nil {
		b.ns.Shutdown()
	}
}

// SendToRoom publishes room text to the bridge. Fire-and-forget.
func (b *NATSBridge) SendToRoom(_ context.Context, roomID, text string, mentions []string) error {
	frame := outboundFrame{
		ID:       uuid.New().String(),
		RoomID:   roomID,
		Text:     text,
		Mentions: mentions,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding outbound frame: %w", err)
	}
	return b.nc.Publish(subjectOutbound+roomID, data)
}

// ResolveProfile asks the bridge peer for a rich profile via request-reply
func (b *NATSBridge) ResolveProfile(ctx context.Context, senderID string) (*Profile, error) {
	data, err := json.Marshal(profileRequest{SenderID: senderID})
	if err != nil {
		return nil, err
	}

	resp, err := b.nc.RequestWithContext(ctx, subjectProfile, data)
	if err != nil {
		return nil, fmt.Errorf("profile lookup for %s: %w", senderID, err)
	}

	var profile Profile
	if err := json.Unmarshal(resp.Data, &profile); err != nil {
		return nil, fmt.Errorf("decoding profile for %s: %w", senderID, err)
	}
	if profile.DisplayName == "" {
		return nil, fmt.Errorf("no profile for %s", senderID)
	}
	return &profile, nil
}
