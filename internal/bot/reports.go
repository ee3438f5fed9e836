package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/ernie/sprintbot/internal/domain"
)

var windowTitles = map[int]string{
	1:  "Today's leaderboard",
	7:  "Weekly leaderboard (7 days)",
	30: "Monthly leaderboard (30 days)",
}

var windowMarkers = []string{"🥇", "🥈", "🥉", "▪️"}

// FormatWindow renders a windowed leaderboard. Entries arrive already
// sorted by word total descending.
func FormatWindow(days int, entries []domain.WindowEntry) string {
	title := windowTitles[days]
	if title == "" {
		title = fmt.Sprintf("Leaderboard (%d days)", days)
	}
	if len(entries) == 0 {
		return title + ": no words logged yet. Start a sprint!"
	}

	var b strings.Builder
	b.WriteString("📊 " + title + ":\n")
	for i, e := range entries {
		marker := windowMarkers[len(windowMarkers)-1]
		if i < len(windowMarkers)-1 {
			marker = windowMarkers[i]
		}
		fmt.Fprintf(&b, "%s %s — %d words\n", marker, e.DisplayName, e.Words)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatGoalProgress renders a ten-cell progress bar for an active goal
func FormatGoalProgress(goal *domain.Goal) string {
	ratio := float64(goal.Current) / float64(goal.Target)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * 10)

	bar := strings.Repeat("▓", filled) + strings.Repeat("░", 10-filled)
	remaining := goal.Target - goal.Current
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("🎯 %s: %s %d%% (%d/%d, %d to go)",
		goal.DisplayName, bar, int(ratio*100), goal.Current, goal.Target, remaining)
}

// FormatRemaining renders the time left in a sprint
func FormatRemaining(remaining time.Duration) string {
	if remaining <= 0 {
		return "⏰ Time is already up — log your words and run finish!"
	}
	remaining = remaining.Round(time.Second)
	minutes := int(remaining.Minutes())
	seconds := int(remaining.Seconds()) % 60
	return fmt.Sprintf("⏳ %d:%02d remaining. Keep writing!", minutes, seconds)
}

// helpText lists the command surface
func helpText(prefix string) string {
	p := prefix
	return strings.Join([]string{
		"📖 Sprintbot commands:",
		p + "sprint <minutes> — start a sprint (1-180)",
		p + "wc <n> / " + p + "wc add <n> — set or add your word count",
		p + "time — time remaining",
		p + "finish — end the sprint and show the leaderboard",
		p + "cancel — abort the sprint, nothing is recorded",
		p + "schedule <minutes> in <delay> — queue a future sprint",
		p + "unschedule — drop queued sprints for this room",
		p + "daily / " + p + "weekly / " + p + "monthly — word totals",
		p + "goal set <n> / " + p + "goal check — personal word goal",
		p + "log <n> — log words outside a sprint",
		p + "myname <text> — set your display name",
	}, "\n")
}
