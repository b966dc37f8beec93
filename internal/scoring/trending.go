package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/chowrank/chowrank/internal/persistence"
)

// mentionWeight is the per-mention recency weight: exponential half-life
// decay, bumped for same-day and same-week mentions and boosted per upvote.
func mentionWeight(m persistence.WindowMention, now time.Time, p Params) float64 {
	ageDays := now.Sub(m.Timestamp).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	decay := math.Exp(-math.Ln2 * ageDays / p.HalfLifeDays)

	mult := 1.0
	switch {
	case ageDays < 1:
		mult = p.DayMultiplier
	case ageDays < 7:
		mult = p.WeekMultiplier
	}

	boost := 1 + math.Max(float64(m.Score), 0)*p.UpvoteBoost

	return decay * mult * boost
}

// Trending computes the recency-weighted score per place from in-window
// mention rows. Weighted sums are normalized against the batch maximum and
// Wilson-smoothed over the in-window mention count.
func Trending(window []persistence.WindowMention, now time.Time, p Params) map[uuid.UUID]float64 {
	type acc struct {
		raw   float64
		count int64
	}
	sums := make(map[uuid.UUID]*acc)
	for _, m := range window {
		a := sums[m.PlaceID]
		if a == nil {
			a = &acc{}
			sums[m.PlaceID] = a
		}
		a.raw += mentionWeight(m, now, p)
		a.count++
	}

	var maxRaw float64
	for _, a := range sums {
		if a.raw > maxRaw {
			maxRaw = a.raw
		}
	}

	out := make(map[uuid.UUID]float64, len(sums))
	for id, a := range sums {
		if a.count < int64(p.MinMentionsTrending) || maxRaw <= 0 {
			out[id] = 0
			continue
		}
		prop := a.raw / maxRaw
		out[id] = wilsonLowerBound(prop, float64(a.count), p.Z) * 100
	}

	return out
}
