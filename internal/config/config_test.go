package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.InDelta(t, 0.55, cfg.Match.Threshold, 1e-9)
	assert.Equal(t, 14.0, cfg.Scoring.HalfLifeDays)
	assert.Equal(t, 100, cfg.Pagination.MaxLimit)
	assert.Equal(t, 5, cfg.Jobs.MaxAttempts)
	assert.Empty(t, cfg.Cities)
}

func TestLoad_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
match:
  threshold: 0.7
cities:
  - id: nyc
    name: New York
    country: United States
    aliases: [nyc]
    boroughs:
      - name: Brooklyn
        aliases: [bk]
    subreddits: [FoodNYC]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.7, cfg.Match.Threshold, 1e-9)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Pagination.MaxLimit)
	require.Len(t, cfg.Cities, 1)
	assert.Equal(t, []string{"FoodNYC"}, cfg.Cities[0].Subreddits)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("match: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFindCity(t *testing.T) {
	cfg := Config{Cities: []CityConfig{
		{
			ID:      "nyc",
			Name:    "New York",
			Aliases: []string{"NYC", "new york city"},
			Boroughs: []CityBorough{
				{Name: "Brooklyn", Aliases: []string{"bk"}},
			},
		},
		{ID: "ldn", Name: "London"},
	}}

	tests := []struct {
		query string
		want  string // expected city id, empty for a miss
	}{
		{"New York", "nyc"},
		{"  nyc ", "nyc"},
		{"NEW YORK CITY", "nyc"},
		{"brooklyn", "nyc"},
		{"BK", "nyc"},
		{"london", "ldn"},
		{"paris", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := cfg.FindCity(tt.query)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestLoadSecrets(t *testing.T) {
	clear := func(t *testing.T) {
		for _, name := range envNames {
			t.Setenv(name, "")
		}
	}

	t.Run("reports every missing variable at once", func(t *testing.T) {
		clear(t)
		_, err := LoadSecrets()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DATABASE_URL is required")
		assert.Contains(t, err.Error(), "REDDIT_CLIENT_ID is required")
	})

	t.Run("redis stays optional", func(t *testing.T) {
		clear(t)
		t.Setenv("DATABASE_URL", "postgres://localhost/chowrank")
		t.Setenv("REDDIT_CLIENT_ID", "id")
		t.Setenv("REDDIT_CLIENT_SECRET", "secret")
		t.Setenv("REDDIT_USER_AGENT", "chowrank test")

		s, err := LoadSecrets()
		require.NoError(t, err)
		assert.Empty(t, s.RedisAddr)
	})

	t.Run("malformed redis address is rejected", func(t *testing.T) {
		clear(t)
		t.Setenv("DATABASE_URL", "postgres://localhost/chowrank")
		t.Setenv("REDDIT_CLIENT_ID", "id")
		t.Setenv("REDDIT_CLIENT_SECRET", "secret")
		t.Setenv("REDDIT_USER_AGENT", "chowrank test")
		t.Setenv("REDIS_ADDR", "not a host")

		_, err := LoadSecrets()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REDIS_ADDR")
	})
}
