package bootstrap

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/persistence"
	"github.com/chowrank/chowrank/internal/providers"
)

type stubCities struct {
	persistence.CitiesRepo
	upserted *persistence.City
	aliases  []persistence.CityAlias
	cityID   uuid.UUID
}

func (s *stubCities) Upsert(_ context.Context, city persistence.City) (uuid.UUID, error) {
	s.upserted = &city
	return s.cityID, nil
}

func (s *stubCities) UpsertAliases(_ context.Context, _ uuid.UUID, aliases []persistence.CityAlias) error {
	s.aliases = aliases
	return nil
}

type stubPlaces struct {
	persistence.PlacesRepo
	batch []persistence.Place
}

func (s *stubPlaces) UpsertBatch(_ context.Context, places []persistence.Place) (int, error) {
	s.batch = places
	return len(places), nil
}

type stubSources struct {
	persistence.SourcesRepo
	names []string
}

func (s *stubSources) UpsertBatch(_ context.Context, _ uuid.UUID, names []string) error {
	s.names = names
	return nil
}

type stubJobs struct {
	persistence.JobsRepo
	enqueued []string
	jobID    uuid.UUID
}

func (s *stubJobs) Enqueue(_ context.Context, jobType string, _ any) (uuid.UUID, bool, error) {
	s.enqueued = append(s.enqueued, jobType)
	return s.jobID, true, nil
}

type stubGeocoder struct {
	result *providers.GeocodeResult
	calls  int
}

func (s *stubGeocoder) Geocode(_ context.Context, _ string) (*providers.GeocodeResult, error) {
	s.calls++
	return s.result, nil
}

type stubPOIs struct {
	pois    []providers.POI
	gotBBox orb.Bound
	gotMax  int
}

func (s *stubPOIs) FetchPOIs(_ context.Context, bbox orb.Bound, max int) ([]providers.POI, error) {
	s.gotBBox = bbox
	s.gotMax = max
	return s.pois, nil
}

func nycConfig() config.Config {
	cfg := config.Default()
	cfg.Cities = []config.CityConfig{{
		ID: "nyc", Name: "New York", Country: "United States",
		Lat: 40.7128, Lon: -74.0060,
		BBox:    [4]float64{-74.2588, 40.4766, -73.7002, 40.9176},
		Aliases: []string{"NYC"},
		Boroughs: []config.CityBorough{
			{Name: "Brooklyn", Aliases: []string{"BK"}},
		},
		Subreddits: []string{"FoodNYC", "AskNYC"},
	}}
	return cfg
}

func testPipeline(cfg config.Config, geo *stubGeocoder, pois *stubPOIs) (*Pipeline, *stubCities, *stubPlaces, *stubSources, *stubJobs) {
	cities := &stubCities{cityID: uuid.New()}
	places := &stubPlaces{}
	sources := &stubSources{}
	jobs := &stubJobs{jobID: uuid.New()}
	repo := &persistence.Repository{
		Cities:  cities,
		Places:  places,
		Sources: sources,
		Jobs:    jobs,
	}
	return NewPipeline(repo, geo, pois, cfg), cities, places, sources, jobs
}

func TestRun_CatalogCitySkipsGeocoder(t *testing.T) {
	geo := &stubGeocoder{}
	pois := &stubPOIs{pois: []providers.POI{
		{SourceID: "node/1", Name: "Lucali", Lat: 40.68, Lon: -73.99},
	}}
	p, cities, places, sources, jobs := testPipeline(nycConfig(), geo, pois)

	res, err := p.Run(context.Background(), "nyc")
	require.NoError(t, err)

	assert.Zero(t, geo.calls, "catalog hit must not call the geocoder")
	assert.Equal(t, "New York", cities.upserted.Name)
	assert.Equal(t, 1, res.PlacesLoaded)
	assert.Len(t, places.batch, 1)
	assert.Equal(t, "lucali", places.batch[0].NameNorm)
	assert.Equal(t, persistence.StatusOpen, places.batch[0].Status)

	// Aliases: NYC plus borough names and aliases, boroughs flagged.
	require.Len(t, cities.aliases, 3)
	assert.False(t, cities.aliases[0].IsBorough)
	assert.True(t, cities.aliases[1].IsBorough)

	assert.Equal(t, []string{"FoodNYC", "AskNYC"}, sources.names)
	assert.Equal(t, 2, res.SourcesAdded)

	require.NotNil(t, res.IngestJobID)
	assert.Equal(t, []string{
		persistence.JobIngestReddit,
		persistence.JobComputeAggregations,
		persistence.JobRefreshMVs,
	}, jobs.enqueued, "bootstrap queues the full pipeline chain")
}

func TestRun_GeocoderFallback(t *testing.T) {
	geo := &stubGeocoder{result: &providers.GeocodeResult{
		Name: "Lisbon", Country: "Portugal",
		Lat: 38.72, Lon: -9.14,
		BBox:       orb.Bound{Min: orb.Point{-9.23, 38.69}, Max: orb.Point{-9.09, 38.80}},
		Confidence: 0.7,
	}}
	pois := &stubPOIs{}
	p, cities, _, _, jobs := testPipeline(nycConfig(), geo, pois)

	res, err := p.Run(context.Background(), "lisbon")
	require.NoError(t, err)

	assert.Equal(t, 1, geo.calls)
	assert.Equal(t, "Lisbon", cities.upserted.Name)
	assert.Equal(t, geo.result.BBox, pois.gotBBox)

	// No catalog entry means no sources and no ingest job.
	assert.Zero(t, res.SourcesAdded)
	assert.Nil(t, res.IngestJobID)
	assert.Empty(t, jobs.enqueued)
}

func TestRun_UnresolvableCity(t *testing.T) {
	p, _, _, _, _ := testPipeline(nycConfig(), &stubGeocoder{result: nil}, &stubPOIs{})

	_, err := p.Run(context.Background(), "xyzzy")
	assert.ErrorIs(t, err, persistence.ErrCityNotFound)
}

func TestRun_LowConfidenceRejected(t *testing.T) {
	geo := &stubGeocoder{result: &providers.GeocodeResult{Name: "Somewhere", Confidence: 0.1}}
	p, _, _, _, _ := testPipeline(nycConfig(), geo, &stubPOIs{})

	_, err := p.Run(context.Background(), "somewhre")
	assert.ErrorIs(t, err, persistence.ErrCityNotFound)
}

func TestRun_DedupesProviderEchoes(t *testing.T) {
	pois := &stubPOIs{pois: []providers.POI{
		{SourceID: "node/1", Name: "Joe's Pizza", Lat: 40.73001, Lon: -74.00001},
		{SourceID: "way/2", Name: "Joe's  Pizza!", Lat: 40.73002, Lon: -74.00002}, // same venue
		{SourceID: "node/3", Name: "Joe's Pizza", Lat: 40.75, Lon: -73.98},     // other branch
		{SourceID: "node/4", Name: "  ", Lat: 40.70, Lon: -74.00},              // unusable name
	}}
	p, _, places, _, _ := testPipeline(nycConfig(), &stubGeocoder{}, pois)

	res, err := p.Run(context.Background(), "nyc")
	require.NoError(t, err)

	assert.Equal(t, 2, res.PlacesLoaded)
	require.Len(t, places.batch, 2)
	assert.Equal(t, "node/1", *places.batch[0].SourceID, "first occurrence wins")
}

func TestRun_PassesPOICap(t *testing.T) {
	pois := &stubPOIs{}
	cfg := nycConfig()
	cfg.Bootstrap.MaxPOIs = 123
	p, _, _, _, _ := testPipeline(cfg, &stubGeocoder{}, pois)

	_, err := p.Run(context.Background(), "nyc")
	require.NoError(t, err)
	assert.Equal(t, 123, pois.gotMax)
}
