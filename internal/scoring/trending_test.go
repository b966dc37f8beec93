package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chowrank/chowrank/internal/persistence"
)

func wm(placeID uuid.UUID, age time.Duration, score int, now time.Time) persistence.WindowMention {
	return persistence.WindowMention{
		PlaceID:   placeID,
		Score:     score,
		Timestamp: now.Add(-age),
	}
}

func TestMentionWeight(t *testing.T) {
	now := time.Now()
	p := DefaultParams()

	t.Run("fresh mention gets the day multiplier", func(t *testing.T) {
		fresh := mentionWeight(wm(uuid.New(), time.Hour, 0, now), now, p)
		weekOld := mentionWeight(wm(uuid.New(), 3*24*time.Hour, 0, now), now, p)
		assert.Greater(t, fresh, weekOld)
		assert.Greater(t, fresh, 1.0, "day multiplier outweighs one hour of decay")
	})

	t.Run("half-life halves the decay", func(t *testing.T) {
		atHalfLife := mentionWeight(wm(uuid.New(), 14*24*time.Hour, 0, now), now, p)
		assert.InDelta(t, 0.5, atHalfLife, 0.01)
	})

	t.Run("upvotes boost linearly", func(t *testing.T) {
		base := mentionWeight(wm(uuid.New(), 20*24*time.Hour, 0, now), now, p)
		boosted := mentionWeight(wm(uuid.New(), 20*24*time.Hour, 50, now), now, p)
		assert.InDelta(t, 2.0, boosted/base, 0.001) // 1 + 50·0.02
	})

	t.Run("negative scores do not penalize", func(t *testing.T) {
		neutral := mentionWeight(wm(uuid.New(), 20*24*time.Hour, 0, now), now, p)
		downvoted := mentionWeight(wm(uuid.New(), 20*24*time.Hour, -30, now), now, p)
		assert.Equal(t, neutral, downvoted)
	})

	t.Run("future timestamps clamp to zero age", func(t *testing.T) {
		future := mentionWeight(wm(uuid.New(), -time.Hour, 0, now), now, p)
		assert.Equal(t, p.DayMultiplier, future)
	})
}

func TestTrending_RecencyDominates(t *testing.T) {
	now := time.Now()
	hot := uuid.New()
	stale := uuid.New()

	window := []persistence.WindowMention{
		wm(hot, 2*time.Hour, 10, now),
		wm(hot, 20*time.Hour, 5, now),
		wm(stale, 80*24*time.Hour, 10, now),
		wm(stale, 85*24*time.Hour, 5, now),
	}

	scores := Trending(window, now, DefaultParams())

	require.Len(t, scores, 2)
	assert.Greater(t, scores[hot], scores[stale])
}

func TestTrending_MentionGate(t *testing.T) {
	now := time.Now()
	gated := uuid.New()
	passing := uuid.New()

	window := []persistence.WindowMention{
		wm(gated, time.Hour, 100, now), // single in-window mention
		wm(passing, time.Hour, 1, now),
		wm(passing, 2*time.Hour, 1, now),
	}

	scores := Trending(window, now, DefaultParams())

	assert.Equal(t, 0.0, scores[gated])
	assert.Greater(t, scores[passing], 0.0)
}

func TestTrending_EmptyWindow(t *testing.T) {
	assert.Empty(t, Trending(nil, time.Now(), DefaultParams()))
}

func TestCompute_AssemblesBatch(t *testing.T) {
	now := time.Now()
	place := uuid.New()
	lastSeen := now.Add(-time.Hour)

	stats := []persistence.PlaceStats{{
		PlaceID:       place,
		UniqueThreads: 12,
		TotalMentions: 30,
		TotalUpvotes:  400,
		Mentions90d:   2,
		LastSeen:      &lastSeen,
	}}
	window := []persistence.WindowMention{
		wm(place, time.Hour, 20, now),
		wm(place, 24*time.Hour, 10, now),
	}
	snippets := map[uuid.UUID][]persistence.Snippet{
		place: {{Permalink: "/r/food/abc", Score: 20, Timestamp: lastSeen, Hash: "h", Length: 42}},
	}

	aggs := Compute(stats, window, snippets, now, DefaultParams())

	require.Len(t, aggs, 1)
	a := aggs[0]
	assert.Equal(t, place, a.PlaceID)
	assert.Greater(t, a.IconicScore, 0.0)
	assert.Greater(t, a.TrendingScore, 0.0)
	assert.Equal(t, int64(12), a.UniqueThreads)
	assert.Equal(t, int64(30), a.TotalMentions)
	assert.Equal(t, int64(400), a.TotalUpvotes)
	assert.Equal(t, int64(2), a.Mentions90d)
	assert.Equal(t, &lastSeen, a.LastSeen)
	assert.Len(t, a.TopSnippets, 1)
	assert.Equal(t, now, a.ComputedAt)
}

func TestCompute_NoWindowMentionsZeroTrending(t *testing.T) {
	now := time.Now()
	place := uuid.New()

	stats := []persistence.PlaceStats{{
		PlaceID:       place,
		UniqueThreads: 8,
		TotalMentions: 20,
		TotalUpvotes:  100,
	}}

	aggs := Compute(stats, nil, nil, now, DefaultParams())

	require.Len(t, aggs, 1)
	assert.Equal(t, 0.0, aggs[0].TrendingScore)
	assert.Greater(t, aggs[0].IconicScore, 0.0)
}
