package scoring

import (
	"time"

	"github.com/google/uuid"

	"github.com/chowrank/chowrank/internal/persistence"
)

// Compute assembles one city's aggregation batch: iconic and trending scores
// plus the raw aggregates and snippet stubs carried through for display.
// Places with stats but no in-window mentions get a zero trending score.
func Compute(
	stats []persistence.PlaceStats,
	window []persistence.WindowMention,
	snippets map[uuid.UUID][]persistence.Snippet,
	now time.Time,
	p Params,
) []persistence.Aggregation {
	iconic := Iconic(stats, p)
	trending := Trending(window, now, p)

	out := make([]persistence.Aggregation, 0, len(stats))
	for _, s := range stats {
		out = append(out, persistence.Aggregation{
			PlaceID:       s.PlaceID,
			IconicScore:   iconic[s.PlaceID],
			TrendingScore: trending[s.PlaceID],
			UniqueThreads: s.UniqueThreads,
			TotalMentions: s.TotalMentions,
			TotalUpvotes:  s.TotalUpvotes,
			Mentions90d:   s.Mentions90d,
			LastSeen:      s.LastSeen,
			TopSnippets:   snippets[s.PlaceID],
			ComputedAt:    now,
		})
	}

	return out
}
