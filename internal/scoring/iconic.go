package scoring

import (
	"github.com/google/uuid"

	"github.com/chowrank/chowrank/internal/persistence"
)

// Iconic computes the all-time score per place from raw aggregates. The batch
// is normalized against its own maximum, so scores are comparable within one
// city batch and deterministic for a fixed input set.
func Iconic(stats []persistence.PlaceStats, p Params) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(stats))
	if len(stats) == 0 {
		return out
	}

	raws := make([]float64, len(stats))
	var maxRaw float64
	for i, s := range stats {
		threads := float64(s.UniqueThreads)
		denom := threads + float64(p.PriorN)
		if denom < 1 {
			denom = 1
		}
		raw := (threads*p.Alpha + float64(s.TotalMentions)*p.Beta + float64(s.TotalUpvotes)) / denom
		raws[i] = raw
		if raw > maxRaw {
			maxRaw = raw
		}
	}

	for i, s := range stats {
		if s.TotalMentions < int64(p.MinMentionsIconic) || maxRaw <= 0 {
			out[s.PlaceID] = 0
			continue
		}
		prop := raws[i] / maxRaw
		n := float64(s.UniqueThreads) + float64(p.PriorN)
		out[s.PlaceID] = wilsonLowerBound(prop, n, p.Z) * 100
	}

	return out
}
