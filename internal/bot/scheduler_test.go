package bot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ernie/sprintbot/internal/domain"
	"github.com/ernie/sprintbot/internal/sprint"
	"github.com/ernie/sprintbot/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) (*Scheduler, *sprint.Tracker, *storage.Store, *fakeSender) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sender := &fakeSender{}
	tracker := sprint.NewTracker(store, sender, time.UTC, 5*time.Second)
	t.Cleanup(tracker.Stop)

	return NewScheduler(store, tracker, sender, time.Minute), tracker, store, sender
}

func TestSweepStartsDueSprint(t *testing.T) {
	sched, tracker, store, sender := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, store.CreateScheduledSprint(ctx, &domain.ScheduledSprint{
		ID: "s1", RoomID: "room", StartAt: time.Now().Add(-time.Minute), DurationMinutes: 15, CreatedBy: "p1",
	}))

	sched.Sweep(ctx)

	sp, ok := tracker.Get("room")
	require.True(t, ok)
	assert.Equal(t, 15, sp.DurationMinutes)
	assert.Contains(t, sender.last().text, "Sprint started")

	// The trigger is consumed: a later sweep does nothing
	before := sender.count()
	sched.Sweep(ctx)
	assert.Equal(t, before, sender.count())
}

func TestSweepSkipsBusyRoom(t *testing.T) {
	sched, tracker, store, sender := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, tracker.Start(ctx, "room", 30, "p1", "Ada"))
	require.NoError(t, store.CreateScheduledSprint(ctx, &domain.ScheduledSprint{
		ID: "s1", RoomID: "room", StartAt: time.Now().Add(-time.Minute), DurationMinutes: 15, CreatedBy: "p2",
	}))

	sched.Sweep(ctx)

	// The running sprint is untouched and the room was told about the skip
	sp, ok := tracker.Get("room")
	require.True(t, ok)
	assert.Equal(t, 30, sp.DurationMinutes)
	assert.Contains(t, sender.last().text, "skipped")

	// Skipped rows are consumed too, never retried
	due, err := store.DueScheduledSprints(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSweepLeavesFutureSprints(t *testing.T) {
	sched, tracker, store, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, store.CreateScheduledSprint(ctx, &domain.ScheduledSprint{
		ID: "s1", RoomID: "room", StartAt: time.Now().Add(time.Hour), DurationMinutes: 15, CreatedBy: "p1",
	}))

	sched.Sweep(ctx)

	_, ok := tracker.Get("room")
	assert.False(t, ok)
	due, err := store.DueScheduledSprints(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
