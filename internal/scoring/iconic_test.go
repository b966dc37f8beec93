package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chowrank/chowrank/internal/persistence"
)

func iconicStats(threads, mentions, upvotes int64) persistence.PlaceStats {
	return persistence.PlaceStats{
		PlaceID:       uuid.New(),
		UniqueThreads: threads,
		TotalMentions: mentions,
		TotalUpvotes:  upvotes,
	}
}

func TestIconic_OrderingFollowsEvidence(t *testing.T) {
	strong := iconicStats(40, 120, 900)
	weak := iconicStats(4, 8, 30)

	scores := Iconic([]persistence.PlaceStats{strong, weak}, DefaultParams())

	require.Len(t, scores, 2)
	assert.Greater(t, scores[strong.PlaceID], scores[weak.PlaceID])
	assert.Greater(t, scores[strong.PlaceID], 0.0)
}

func TestIconic_MentionGate(t *testing.T) {
	gated := iconicStats(5, 2, 100) // below the 3-mention floor
	passing := iconicStats(5, 3, 100)

	scores := Iconic([]persistence.PlaceStats{gated, passing}, DefaultParams())

	assert.Equal(t, 0.0, scores[gated.PlaceID])
	assert.Greater(t, scores[passing.PlaceID], 0.0)
}

func TestIconic_BatchMaxScoresBelowHundred(t *testing.T) {
	top := iconicStats(100, 400, 5000)

	scores := Iconic([]persistence.PlaceStats{top}, DefaultParams())

	// The batch maximum normalizes to p=1 but the Wilson bound pulls the
	// final score under 100.
	assert.Greater(t, scores[top.PlaceID], 0.0)
	assert.Less(t, scores[top.PlaceID], 100.0)
}

func TestIconic_LowSamplePenalty(t *testing.T) {
	// Same raw proportion shape, very different sample sizes.
	many := iconicStats(200, 600, 0)
	few := iconicStats(2, 6, 0)

	scores := Iconic([]persistence.PlaceStats{many, few}, DefaultParams())

	assert.Greater(t, scores[many.PlaceID], scores[few.PlaceID])
}

func TestIconic_EmptyBatch(t *testing.T) {
	assert.Empty(t, Iconic(nil, DefaultParams()))
}

func TestIconic_Deterministic(t *testing.T) {
	batch := []persistence.PlaceStats{
		iconicStats(10, 30, 200),
		iconicStats(7, 15, 80),
		iconicStats(3, 5, 10),
	}
	p := DefaultParams()

	first := Iconic(batch, p)
	second := Iconic(batch, p)

	assert.Equal(t, first, second)
}
