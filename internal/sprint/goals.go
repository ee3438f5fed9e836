package sprint

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ernie/sprintbot/internal/domain"
	"github.com/ernie/sprintbot/internal/storage"
)

// ApplyGoalProgress adds words to the participant's active goal, if any.
// When the cumulative total first reaches the target the goal is
// deactivated, and completed is true for exactly that call. A nil goal
// with nil error means no goal is active.
func ApplyGoalProgress(ctx context.Context, store *storage.Store, participantID string, words int) (goal *domain.Goal, completed bool, err error) {
	goal, err = store.ApplyGoalDelta(ctx, participantID, words)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if goal.Completed() {
		if err := store.DeactivateGoal(ctx, goal.ID); err != nil {
			return goal, false, err
		}
		goal.Active = false
		return goal, true, nil
	}
	return goal, false, nil
}
