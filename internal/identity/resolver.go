// Package identity maps raw transport sender identifiers to stable
// participant ids and best-effort display names.
package identity

import (
	"context"
	"log"
	"strings"

	"github.com/ernie/sprintbot/internal/storage"
	"github.com/ernie/sprintbot/internal/transport"
)

// Strategy is one way of finding a display name. Strategies are tried in
// order; the first non-empty result wins. A strategy must not fail loudly —
// it returns ok=false and the chain moves on.
type Strategy interface {
	Resolve(ctx context.Context, participantID string, msg transport.Message) (name string, ok bool)
}

// Resolver resolves sender identity through an ordered strategy chain.
// It always produces a usable (participantID, displayName) pair.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds the standard chain: stored override, transport
// profile, push-name hint on the event, then a mechanical fallback.
func NewResolver(store *storage.Store, profiles transport.ProfileResolver) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			overrideStrategy{store: store},
			profileStrategy{profiles: profiles},
			pushNameStrategy{},
			fallbackStrategy{},
		},
	}
}

// Resolve returns the stable participant id and display name for a message
// sender. It never fails: the final fallback always yields a name.
func (r *Resolver) Resolve(ctx context.Context, msg transport.Message) (participantID, displayName string) {
	participantID = NormalizeID(msg.SenderID)
	for _, s := range r.strategies {
		if name, ok := s.Resolve(ctx, participantID, msg); ok {
			return participantID, name
		}
	}
	return participantID, participantID
}

// NormalizeID canonicalizes a raw sender identifier: lowercased, with any
// per-device suffix after "/" stripped, so the same participant maps to
// the same id across devices.
func NormalizeID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.Index(id, "/"); idx != -1 {
		id = id[:idx]
	}
	return id
}

// overrideStrategy prefers a display name the participant set with myname.
type overrideStrategy struct {
	store *storage.Store
}

func (s overrideStrategy) Resolve(ctx context.Context, participantID string, _ transport.Message) (string, bool) {
	name, err := s.store.GetNameOverride(ctx, participantID)
	if err != nil {
		log.Printf("Name override lookup failed for %s: %v", participantID, err)
		return "", false
	}
	return name, name != ""
}

// profileStrategy asks the transport for a rich profile.
type profileStrategy struct {
	profiles transport.ProfileResolver
}

func (s profileStrategy) Resolve(ctx context.Context, _ string, msg transport.Message) (string, bool) {
	if s.profiles == nil {
		return "", false
	}
	profile, err := s.profiles.ResolveProfile(ctx, msg.SenderID)
	if err != nil || profile == nil || profile.DisplayName == "" {
		return "", false
	}
	return profile.DisplayName, true
}

// pushNameStrategy uses the display-name hint carried on the inbound event.
type pushNameStrategy struct{}

func (pushNameStrategy) Resolve(_ context.Context, _ string, msg transport.Message) (string, bool) {
	name := strings.TrimSpace(msg.PushName)
	return name, name != ""
}

// fallbackStrategy derives a name mechanically from the identifier: its
// leading digits if it has any, otherwise the part before "@".
type fallbackStrategy struct{}

func (fallbackStrategy) Resolve(_ context.Context, participantID string, _ transport.Message) (string, bool) {
	id := participantID
	if idx := strings.Index(id, "@"); idx != -1 {
		id = id[:idx]
	}
	end := 0
	for end < len(id) && id[end] >= '0' && id[end] <= '9' {
		end++
	}
	if end > 0 {
		return id[:end], true
	}
	if id != "" {
		return id, true
	}
	return participantID, true
}
