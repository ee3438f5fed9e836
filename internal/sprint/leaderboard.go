package sprint

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ernie/sprintbot/internal/domain"
)

// rankMarkers decorate the top three places; everyone else shares the last
var rankMarkers = []string{"🥇", "🥈", "🥉", "▪️"}

// rankParticipants orders by word count descending. The sort is stable, so
// ties keep submission order.
func rankParticipants(participants []domain.Participant) []domain.Participant {
	ranked := append([]domain.Participant(nil), participants...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].WordCount > ranked[j].WordCount
	})
	return ranked
}

// Rate is words per minute over the sprint duration, rounded to the
// nearest integer
func Rate(wordCount, durationMinutes int) int {
	return int(math.Round(float64(wordCount) / float64(durationMinutes)))
}

// FormatLeaderboard renders the finish announcement for a settled sprint
func FormatLeaderboard(sp *domain.Sprint, ranked []domain.Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 Sprint results (%d min):\n", sp.DurationMinutes)
	for i, p := range ranked {
		marker := rankMarkers[len(rankMarkers)-1]
		if i < len(rankMarkers)-1 {
			marker = rankMarkers[i]
		}
		fmt.Fprintf(&b, "%s %s — %d words (%d wpm)\n", marker, p.DisplayName, p.WordCount, Rate(p.WordCount, sp.DurationMinutes))
	}
	b.WriteString("Great sprinting, everyone! 💪")
	return b.String()
}
