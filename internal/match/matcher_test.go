package match

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chowrank/chowrank/internal/metrics"
	"github.com/chowrank/chowrank/internal/persistence"
)

// stubPlaces serves canned candidate lists per stage and records which
// stages were consulted.
type stubPlaces struct {
	persistence.PlacesRepo

	exact   []persistence.MatchCandidate
	trigram []persistence.MatchCandidate
	near    []persistence.MatchCandidate

	calls []string
}

func (s *stubPlaces) MatchExact(_ context.Context, _ uuid.UUID, _ string) ([]persistence.MatchCandidate, error) {
	s.calls = append(s.calls, StageAliasExact)
	return s.exact, nil
}

func (s *stubPlaces) MatchTrigram(_ context.Context, _ uuid.UUID, _ string, _ float64, _ int) ([]persistence.MatchCandidate, error) {
	s.calls = append(s.calls, StageTrigram)
	return s.trigram, nil
}

func (s *stubPlaces) MatchTrigramNear(_ context.Context, _ uuid.UUID, _ string, _, _, _, _ float64, _ int) ([]persistence.MatchCandidate, error) {
	s.calls = append(s.calls, StageTrigramNear)
	return s.near, nil
}

func testOptions() Options {
	return Options{
		Threshold:    0.55,
		GeoThreshold: 0.50,
		GeoRadiusM:   2000,
		CandidateCap: 10,
	}
}

func strPtr(s string) *string { return &s }

func cand(name string, sim float64) persistence.MatchCandidate {
	return persistence.MatchCandidate{
		PlaceID:    uuid.New(),
		Name:       name,
		NameNorm:   Normalize(name),
		Similarity: sim,
	}
}

func TestMatcher_ExactWins(t *testing.T) {
	exact := cand("Lucali", 1.0)
	stub := &stubPlaces{
		exact:   []persistence.MatchCandidate{exact},
		trigram: []persistence.MatchCandidate{cand("Lucali Pizza Bar", 0.7)},
	}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: "lucali"})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, StageAliasExact, got.Stage)
	assert.Equal(t, exact.PlaceID, got.Candidate.PlaceID)
	assert.Equal(t, []string{StageAliasExact}, stub.calls, "later stages must not run")
}

func TestMatcher_TrigramFallback(t *testing.T) {
	hit := cand("Katz's Delicatessen", 0.82)
	stub := &stubPlaces{trigram: []persistence.MatchCandidate{hit}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: "katz deli"})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, StageTrigram, got.Stage)
	assert.Equal(t, hit.PlaceID, got.Candidate.PlaceID)
}

func TestMatcher_GeoStageRequiresPoint(t *testing.T) {
	stub := &stubPlaces{near: []persistence.MatchCandidate{cand("Corner Bistro", 0.52)}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: "corner bistro"})
	require.NoError(t, err)
	assert.Nil(t, got, "geo stage must be skipped without a query point")
	assert.Equal(t, []string{StageAliasExact, StageTrigram}, stub.calls)
}

func TestMatcher_GeoStageWithPoint(t *testing.T) {
	hit := cand("Corner Bistro", 0.52)
	stub := &stubPlaces{near: []persistence.MatchCandidate{hit}}
	m := New(stub, testOptions())

	lat, lon := 40.738, -74.003
	got, err := m.Match(context.Background(), Query{
		CityID: uuid.New(), Norm: "corner bistro", Lat: &lat, Lon: &lon,
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, StageTrigramNear, got.Stage)
	assert.Equal(t, hit.PlaceID, got.Candidate.PlaceID)
}

func TestMatcher_NoMatch(t *testing.T) {
	m := New(&stubPlaces{}, testOptions())

	got, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: "nonexistent"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatcher_EmptyNorm(t *testing.T) {
	stub := &stubPlaces{}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: ""})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, stub.calls)
}

func TestMatcher_BrandDisambiguationPicksNearest(t *testing.T) {
	far := cand("Joe's Pizza", 0.9)
	far.Brand = strPtr("Joe's Pizza")
	far.Lat, far.Lon = 40.80, -73.95

	nearby := cand("Joe's Pizza", 0.9)
	nearby.Brand = strPtr("Joe's Pizza")
	nearby.Lat, nearby.Lon = 40.7306, -74.0022

	stub := &stubPlaces{trigram: []persistence.MatchCandidate{far, nearby}}
	m := New(stub, testOptions())

	lat, lon := 40.7305, -74.0020
	got, err := m.Match(context.Background(), Query{
		CityID: uuid.New(), Norm: "joes pizza", Lat: &lat, Lon: &lon,
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, nearby.PlaceID, got.Candidate.PlaceID)
}

func TestMatcher_IndependentPreferredOverBrandAtEqualSimilarity(t *testing.T) {
	branded := cand("Shake Shack", 0.8)
	branded.Brand = strPtr("Shake Shack")
	indie := cand("Shake Shack", 0.8)

	stub := &stubPlaces{trigram: []persistence.MatchCandidate{branded, indie}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: "shake shack"})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, indie.PlaceID, got.Candidate.PlaceID)
}

func TestMatcher_AddressHintReorders(t *testing.T) {
	wrong := cand("Artichoke Basille's", 0.9)
	wrong.Address = strPtr("328 E 14th St")
	right := cand("Artichoke Basille's", 0.85)
	right.Address = strPtr("111 MacDougal St")

	stub := &stubPlaces{trigram: []persistence.MatchCandidate{wrong, right}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{
		CityID: uuid.New(), Norm: "artichoke", AddressHint: "MacDougal",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, right.PlaceID, got.Candidate.PlaceID)
}

func TestMatcher_AddressVetoIsSoft(t *testing.T) {
	only := cand("Via Carota", 0.9)
	only.Address = strPtr("51 Grove St")

	stub := &stubPlaces{trigram: []persistence.MatchCandidate{only}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{
		CityID: uuid.New(), Norm: "via carota", AddressHint: "Bleecker",
	})
	require.NoError(t, err)
	require.NotNil(t, got, "an all-vetoed stage still returns its best candidate")
	assert.Equal(t, only.PlaceID, got.Candidate.PlaceID)
	assert.Equal(t, StageTrigram, got.Stage, "address veto must not fall through to another stage")
}

func TestMatcher_AddressContainmentWorksBothWays(t *testing.T) {
	// A terse stored address must still satisfy a longer hint that
	// contains it, even when every hint token is too short on its own.
	wrong := cand("Nathan's Famous", 0.9)
	wrong.Address = strPtr("1310 Surf Ave")
	right := cand("Nathan's Famous", 0.85)
	right.Address = strPtr("5 Av")

	stub := &stubPlaces{trigram: []persistence.MatchCandidate{wrong, right}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{
		CityID: uuid.New(), Norm: "nathans", AddressHint: "5 av at 59",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, right.PlaceID, got.Candidate.PlaceID)
}

func TestMatcher_StageCounters(t *testing.T) {
	stub := &stubPlaces{exact: []persistence.MatchCandidate{cand("Lucali", 1.0)}}
	m := New(stub, testOptions())

	matchedBefore := testutil.ToFloat64(metrics.MatchesTotal.WithLabelValues(StageAliasExact))
	missedBefore := testutil.ToFloat64(metrics.MatchesTotal.WithLabelValues("unmatched"))

	_, err := m.Match(context.Background(), Query{CityID: uuid.New(), Norm: "lucali"})
	require.NoError(t, err)
	_, err = New(&stubPlaces{}, testOptions()).Match(context.Background(), Query{CityID: uuid.New(), Norm: "nowhere"})
	require.NoError(t, err)

	assert.Equal(t, matchedBefore+1, testutil.ToFloat64(metrics.MatchesTotal.WithLabelValues(StageAliasExact)))
	assert.Equal(t, missedBefore+1, testutil.ToFloat64(metrics.MatchesTotal.WithLabelValues("unmatched")))
}

func TestMatcher_NoAddressPassesConsistency(t *testing.T) {
	bare := cand("Peter Luger", 0.95)
	withAddr := cand("Peter Luger Express", 0.90)
	withAddr.Address = strPtr("255 Northern Blvd")

	stub := &stubPlaces{trigram: []persistence.MatchCandidate{bare, withAddr}}
	m := New(stub, testOptions())

	got, err := m.Match(context.Background(), Query{
		CityID: uuid.New(), Norm: "peter luger", AddressHint: "Broadway",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, bare.PlaceID, got.Candidate.PlaceID, "candidates without a stored address pass the check")
}
