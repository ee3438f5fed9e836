package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ernie/sprintbot/internal/storage"
	"github.com/ernie/sprintbot/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProfiles serves canned profiles by raw sender id
type fakeProfiles struct {
	profiles map[string]string
}

func (f *fakeProfiles) ResolveProfile(_ context.Context, senderID string) (*transport.Profile, error) {
	name, ok := f.profiles[senderID]
	if !ok {
		return nil, fmt.Errorf("no profile for %s", senderID)
	}
	return &transport.Profile{ParticipantID: senderID, DisplayName: name}, nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "12345@chat", NormalizeID("12345@chat"))
	assert.Equal(t, "12345@chat", NormalizeID("12345@chat/device-2"))
	assert.Equal(t, "12345@chat", NormalizeID("  12345@CHAT  "))
	assert.Equal(t, "", NormalizeID(""))
}

func TestResolveOverrideWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetNameOverride(ctx, "12345@chat", "Countess"))

	profiles := &fakeProfiles{profiles: map[string]string{"12345@chat": "Profile Name"}}
	r := NewResolver(store, profiles)

	id, name := r.Resolve(ctx, transport.Message{SenderID: "12345@chat", PushName: "Push Name"})
	assert.Equal(t, "12345@chat", id)
	assert.Equal(t, "Countess", name)
}

func TestResolveProfileBeatsPushName(t *testing.T) {
	store := newTestStore(t)
	profiles := &fakeProfiles{profiles: map[string]string{"12345@chat": "Ada Lovelace"}}
	r := NewResolver(store, profiles)

	_, name := r.Resolve(context.Background(), transport.Message{SenderID: "12345@chat", PushName: "ada_l"})
	assert.Equal(t, "Ada Lovelace", name)
}

func TestResolvePushNameFallback(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, &fakeProfiles{})

	_, name := r.Resolve(context.Background(), transport.Message{SenderID: "12345@chat", PushName: "ada_l"})
	assert.Equal(t, "ada_l", name)
}

func TestResolveMechanicalFallback(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, nil)
	ctx := context.Background()

	// Leading digits before the @
	_, name := r.Resolve(ctx, transport.Message{SenderID: "12345@chat"})
	assert.Equal(t, "12345", name)

	// No digits: the part before the @
	_, name = r.Resolve(ctx, transport.Message{SenderID: "ada@chat"})
	assert.Equal(t, "ada", name)
}

func TestResolveNormalizesAcrossDevices(t *testing.T) {
	store := newTestStore(t)
	r := NewResolver(store, nil)
	ctx := context.Background()

	id1, _ := r.Resolve(ctx, transport.Message{SenderID: "12345@chat/device-1"})
	id2, _ := r.Resolve(ctx, transport.Message{SenderID: "12345@CHAT/device-2"})
	assert.Equal(t, id1, id2)
}
