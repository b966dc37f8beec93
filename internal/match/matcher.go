package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/metrics"
	"github.com/chowrank/chowrank/internal/persistence"
)

// Stage names, recorded on every match for observability.
const (
	StageAliasExact  = "alias_exact"
	StageTrigram     = "trigram"
	StageTrigramNear = "trigram_near"
)

// Options are the matcher thresholds.
type Options struct {
	Threshold    float64 // trigram stage
	GeoThreshold float64 // relaxed geo-assist stage
	GeoRadiusM   float64
	CandidateCap int
}

// Query is one candidate span plus whatever context the post carried.
type Query struct {
	CityID uuid.UUID
	Norm   string // normalized candidate name

	// Optional query point, enables the geo-assist stage and the
	// nearest-branch brand tie-break.
	Lat, Lon *float64

	// Optional address fragment seen near the name in the text.
	AddressHint string
}

// Result is a resolved match plus the stage that produced it.
type Result struct {
	Candidate persistence.MatchCandidate
	Stage     string
}

// Matcher resolves extracted name spans against the POI gazetteer.
type Matcher struct {
	places persistence.PlacesRepo
	opts   Options
}

// New constructs a Matcher over the places repo.
func New(places persistence.PlacesRepo, opts Options) *Matcher {
	return &Matcher{places: places, opts: opts}
}

// Match runs the staged pipeline. Stages are tried in order and the first
// stage that yields candidates wins; later stages never run once an earlier
// one has produced a non-empty list, even if every candidate in that list is
// then soft-vetoed. Returns (nil, nil) when no stage matches.
func (m *Matcher) Match(ctx context.Context, q Query) (*Result, error) {
	if q.Norm == "" {
		return nil, nil
	}

	exact, err := m.places.MatchExact(ctx, q.CityID, q.Norm)
	if err != nil {
		return nil, fmt.Errorf("failed to match exact: %w", err)
	}
	if len(exact) > 0 {
		return m.resolve(exact, q, StageAliasExact), nil
	}

	trigram, err := m.places.MatchTrigram(ctx, q.CityID, q.Norm, m.opts.Threshold, m.opts.CandidateCap)
	if err != nil {
		return nil, fmt.Errorf("failed to match trigram: %w", err)
	}
	if len(trigram) > 0 {
		return m.resolve(trigram, q, StageTrigram), nil
	}

	if q.Lat != nil && q.Lon != nil {
		near, err := m.places.MatchTrigramNear(ctx, q.CityID, q.Norm,
			*q.Lat, *q.Lon, m.opts.GeoRadiusM, m.opts.GeoThreshold, m.opts.CandidateCap)
		if err != nil {
			return nil, fmt.Errorf("failed to match trigram near: %w", err)
		}
		if len(near) > 0 {
			return m.resolve(near, q, StageTrigramNear), nil
		}
	}

	metrics.MatchesTotal.WithLabelValues("unmatched").Inc()
	return nil, nil
}

// resolve applies the brand disambiguation ordering and the address
// consistency check to one stage's candidate list and picks the winner.
// Both are tie-breakers within the list, never reasons to fall through to
// another stage.
func (m *Matcher) resolve(cands []persistence.MatchCandidate, q Query, stage string) *Result {
	ordered := orderCandidates(cands, q)

	pick := ordered[0]
	if q.AddressHint != "" {
		hint := Normalize(q.AddressHint)
		for _, c := range ordered {
			if addressConsistent(c.Address, hint) {
				pick = c
				break
			}
		}
		// All vetoed: keep the best-ordered candidate anyway.
	}

	metrics.MatchesTotal.WithLabelValues(stage).Inc()
	log.Debug().
		Str("stage", stage).
		Str("place_id", pick.PlaceID.String()).
		Str("query", q.Norm).
		Float64("similarity", pick.Similarity).
		Msg("matched place")

	return &Result{Candidate: pick, Stage: stage}
}

// orderCandidates sorts a stage's list for selection. Chain brands with
// multiple branches are disambiguated by proximity when the query carries a
// point; otherwise similarity decides, with independents preferred over
// branded branches at equal similarity.
func orderCandidates(cands []persistence.MatchCandidate, q Query) []persistence.MatchCandidate {
	out := make([]persistence.MatchCandidate, len(cands))
	copy(out, cands)

	branded := false
	for _, c := range out {
		if c.Brand != nil && *c.Brand != "" {
			branded = true
			break
		}
	}

	if branded && q.Lat != nil && q.Lon != nil {
		sort.SliceStable(out, func(i, j int) bool {
			di := haversineM(*q.Lat, *q.Lon, out[i].Lat, out[i].Lon)
			dj := haversineM(*q.Lat, *q.Lon, out[j].Lat, out[j].Lon)
			if di != dj {
				return di < dj
			}
			return out[i].Similarity > out[j].Similarity
		})
		return out
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return hasBrand(out[j]) && !hasBrand(out[i])
	})
	return out
}

func hasBrand(c persistence.MatchCandidate) bool {
	return c.Brand != nil && *c.Brand != ""
}

// addressConsistent compares the normalized hint and the candidate's
// normalized address by substring containment in either direction, with a
// per-token fallback for partial fragments. Candidates without a stored
// address pass; the check only vetoes positive contradictions.
func addressConsistent(address *string, hint string) bool {
	if address == nil || *address == "" || hint == "" {
		return true
	}
	addr := Normalize(*address)
	if addr == "" {
		return true
	}
	if strings.Contains(addr, hint) || strings.Contains(hint, addr) {
		return true
	}
	padded := " " + addr + " "
	for _, tok := range strings.Fields(hint) {
		if len(tok) < 3 {
			continue
		}
		if strings.Contains(padded, " "+tok+" ") {
			return true
		}
	}
	return false
}

const earthRadiusM = 6371000.0

// haversineM returns the great-circle distance in meters.
func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}
