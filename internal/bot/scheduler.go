package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ernie/sprintbot/internal/domain"
	"github.com/ernie/sprintbot/internal/sprint"
	"github.com/ernie/sprintbot/internal/storage"
	"github.com/ernie/sprintbot/internal/transport"
)

// Scheduler periodically starts queued sprints that have come due. A
// scheduled sprint is a single-shot trigger: whether it starts or gets
// skipped, its row is deleted and never retried.
type Scheduler struct {
	store    *storage.Store
	tracker  *sprint.Tracker
	sender   transport.Sender
	interval time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a sweep over the scheduled-sprint queue
func NewScheduler(store *storage.Store, tracker *sprint.Tracker, sender transport.Sender, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		tracker:  tracker,
		sender:   sender,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.sweepLoop(ctx)
}

// Stop halts the sweep and waits for it to finish
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep starts every due scheduled sprint. Rooms with a sprint already
// running get a "skipped" notice instead; the row is consumed either way.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.store.DueScheduledSprints(ctx, time.Now())
	if err != nil {
		log.Printf("Scheduler: failed to query due sprints: %v", err)
		return
	}

	for _, sched := range due {
		err := s.tracker.Start(ctx, sched.RoomID, sched.DurationMinutes, sched.CreatedBy, "schedule")
		switch {
		case errors.Is(err, domain.ErrAlreadyRunning):
			if err := s.sender.SendToRoom(ctx, sched.RoomID, "⏭️ Scheduled sprint skipped — a sprint is already running here.", nil); err != nil {
				log.Printf("Scheduler: failed to send skip notice to room %s: %v", sched.RoomID, err)
			}
			log.Printf("Scheduler: skipped sprint %s for room %s (already running)", sched.ID, sched.RoomID)
		case err != nil:
			log.Printf("Scheduler: failed to start sprint %s for room %s: %v", sched.ID, sched.RoomID, err)
		}

		if err := s.store.DeleteScheduledSprint(ctx, sched.ID); err != nil {
			log.Printf("Scheduler: failed to delete scheduled sprint %s: %v", sched.ID, err)
		}
	}
}
