package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// gatewayFrame is the wire format exchanged with the chat gateway
type gatewayFrame struct {
	Type      string   `json:"type"` // "message", "send", "profile", "profile_result"
	RequestID string   `json:"request_id,omitempty"`
	RoomID    string   `json:"room_id,omitempty"`
	SenderID  string   `json:"sender_id,omitempty"`
	PushName  string   `json:"push_name,omitempty"`
	Text      string   `json:"text,omitempty"`
	IsGroup   bool     `json:"is_group,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// gatewayClaims is the JWT presented on the websocket handshake
type gatewayClaims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// Gateway is a websocket client for a chat gateway service. It
// authenticates with a short-lived HS256 token signed with the shared
// gateway secret and reconnects automatically until stopped.
type Gateway struct {
	url           string
	secret        []byte
	tokenDuration time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan []byte
	pending map[string]chan *Profile

	done chan struct{}
	wg   sync.WaitGroup
}

// NewGateway creates a client for the given gateway URL
func NewGateway(url, secret string, tokenDuration time.Duration) *Gateway {
	return &Gateway{
		url:           url,
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
		send:          make(chan []byte, 256),
		pending:       make(map[string]chan *Profile),
		done:          make(chan struct{}),
	}
}

// signToken builds the handshake token
func (g *Gateway) signToken() (string, error) {
	claims := gatewayClaims{
		Client: "sprintbot",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(g.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Start connects to the gateway and keeps the connection alive,
// redialing with a fixed backoff until the context ends or Stop is called.
func (g *Gateway) Start(ctx context.Context, handler Handler) error {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			select {
			case <-g.done:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := g.runOnce(ctx, handler); err != nil {
				log.Printf("Gateway connection lost: %v", err)
			}

			select {
			case <-g.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
	return nil
}

// runOnce dials the gateway and pumps frames until the connection drops
func (g *Gateway) runOnce(ctx context.Context, handler Handler) error {
	token, err := g.signToken()
	if err != nil {
		return fmt.Errorf("signing gateway token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, header)
	if err != nil {
		return fmt.Errorf("dialing gateway %s: %w", g.url, err)
	}

	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	log.Printf("Gateway connected to %s", g.url)

	writeDone := make(chan struct{})
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.writePump(conn, writeDone)
	}()

	err = g.readPump(ctx, conn, handler)
	close(writeDone)
	conn.Close()
	return err
}

// readPump reads frames and dispatches them
func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame gatewayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Dropping malformed gateway frame: %v", err)
			continue
		}

		switch frame.Type {
		case "message":
			handler(ctx, Message{
				RoomID:   frame.RoomID,
				SenderID: frame.SenderID,
				PushName: frame.PushName,
				Text:     frame.Text,
				IsGroup:  frame.IsGroup,
			})
		case "profile_result":
			g.mu.Lock()
			ch, ok := g.pending[frame.RequestID]
			delete(g.pending, frame.RequestID)
			g.mu.Unlock()
			if ok {
				var profile *Profile
				if frame.Name != "" {
					profile = &Profile{ParticipantID: frame.SenderID, DisplayName: frame.Name}
				}
				ch <- profile
			}
		default:
			// Unknown frame types are ignored for forward compatibility
		}
	}
}

// writePump flushes outbound frames and keeps the connection pinged
func (g *Gateway) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case message := <-g.send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Stop closes the gateway connection
func (g *Gateway) Stop() {
	close(g.done)
	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
	}
	g.mu.Unlock()
	g.wg.Wait()
}

// SendToRoom queues room text for delivery. The frame is dropped with an
// error if the outbound buffer is full.
func (g *Gateway) SendToRoom(_ context.Context, roomID, text string, mentions []string) error {
	frame := gatewayFrame{
		Type:      "send",
		RequestID: uuid.New().String(),
		RoomID:    roomID,
		Text:      text,
		Mentions:  mentions,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding send frame: %w", err)
	}

	select {
	case g.send <- data:
		return nil
	default:
		return fmt.Errorf("gateway send buffer full, dropping message for room %s", roomID)
	}
}

// ResolveProfile asks the gateway for a rich sender profile
func (g *Gateway) ResolveProfile(ctx context.Context, senderID string) (*Profile, error) {
	requestID := uuid.New().String()
	ch := make(chan *Profile, 1)

	g.mu.Lock()
	g.pending[requestID] = ch
	g.mu.Unlock()

	frame := gatewayFrame{
		Type:      "profile",
		RequestID: requestID,
		SenderID:  senderID,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}

	select {
	case g.send <- data:
	default:
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
		return nil, fmt.Errorf("gateway send buffer full")
	}

	select {
	case profile := <-ch:
		if profile == nil {
			return nil, fmt.Errorf("no profile for %s", senderID)
		}
		return profile, nil
	case <-time.After(3 * time.Second):
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
		return nil, fmt.Errorf("profile lookup for %s timed out", senderID)
	case <-ctx.Done():
		g.mu.Lock()
		delete(g.pending, requestID)
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}
