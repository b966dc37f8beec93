package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single structured configuration file. Durations are spelled
// as explicit second counts so the YAML stays unit-unambiguous.
type Config struct {
	Match      MatchConfig      `yaml:"match"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Pagination PaginationConfig `yaml:"pagination"`
	Jobs       JobsConfig       `yaml:"jobs"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Server     ServerConfig     `yaml:"server"`
	Cities     []CityConfig     `yaml:"cities"`
}

// MatchConfig holds the matcher thresholds.
type MatchConfig struct {
	Threshold    float64 `yaml:"threshold"`      // trigram stage
	GeoThreshold float64 `yaml:"geo_threshold"`  // relaxed, geo-assist stage
	GeoRadiusM   float64 `yaml:"geo_radius_m"`   // geo-assist search radius
	CandidateCap int     `yaml:"candidate_cap"`  // per-stage result cap
}

// ScoringConfig holds the iconic/trending formula parameters.
type ScoringConfig struct {
	Alpha               float64 `yaml:"alpha"`                  // unique-thread weight
	Beta                float64 `yaml:"beta"`                   // mention weight
	PriorN              int     `yaml:"prior_n"`                // Wilson smoothing prior
	Z                   float64 `yaml:"z"`                      // Wilson confidence
	HalfLifeDays        float64 `yaml:"half_life_days"`
	WindowDays          int     `yaml:"window_days"`
	DayMultiplier       float64 `yaml:"day_multiplier"`         // age < 1d
	WeekMultiplier      float64 `yaml:"week_multiplier"`        // age < 7d
	UpvoteBoost         float64 `yaml:"upvote_boost"`           // per upvote point
	MinMentionsIconic   int     `yaml:"min_mentions_iconic"`
	MinMentionsTrending int     `yaml:"min_mentions_trending"`
	SnippetLimit        int     `yaml:"snippet_limit"`
}

// PaginationConfig bounds read-path page sizes.
type PaginationConfig struct {
	DefaultLimit  int `yaml:"default_limit"`
	MaxLimit      int `yaml:"max_limit"`
	FuzzyMaxLimit int `yaml:"fuzzy_max_limit"`
}

// JobsConfig controls the queue and worker loop.
type JobsConfig struct {
	MaxAttempts          int   `yaml:"max_attempts"`
	BackoffSeconds       []int `yaml:"backoff_seconds"`
	PollIntervalSeconds  int   `yaml:"poll_interval_seconds"`
	DrainTimeoutSeconds  int   `yaml:"drain_timeout_seconds"`
	StalledAfterSeconds  int   `yaml:"stalled_after_seconds"`
	RetentionHours       int   `yaml:"retention_hours"`
	SweepIntervalSeconds int   `yaml:"sweep_interval_seconds"`
}

// Backoff returns the configured backoff sequence as durations.
func (j JobsConfig) Backoff() []time.Duration {
	out := make([]time.Duration, 0, len(j.BackoffSeconds))
	for _, s := range j.BackoffSeconds {
		out = append(out, time.Duration(s)*time.Second)
	}
	return out
}

// PollInterval returns the worker poll cadence.
func (j JobsConfig) PollInterval() time.Duration {
	return time.Duration(j.PollIntervalSeconds) * time.Second
}

// DrainTimeout bounds the in-flight job on shutdown.
func (j JobsConfig) DrainTimeout() time.Duration {
	return time.Duration(j.DrainTimeoutSeconds) * time.Second
}

// StalledAfter is the running-job staleness cutoff for the sweep.
func (j JobsConfig) StalledAfter() time.Duration {
	return time.Duration(j.StalledAfterSeconds) * time.Second
}

// Retention is how long terminal job rows are kept.
func (j JobsConfig) Retention() time.Duration {
	return time.Duration(j.RetentionHours) * time.Hour
}

// SweepInterval is the cadence of the stalled/purge sweep.
func (j JobsConfig) SweepInterval() time.Duration {
	return time.Duration(j.SweepIntervalSeconds) * time.Second
}

// RateLimitPreset is one sliding-window quota.
type RateLimitPreset struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Window returns the preset window as a duration.
func (p RateLimitPreset) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// RateLimitConfig holds the per-route-class presets.
type RateLimitConfig struct {
	Strict   RateLimitPreset `yaml:"strict"`
	Standard RateLimitPreset `yaml:"standard"`
	Generous RateLimitPreset `yaml:"generous"`
	Burst    RateLimitPreset `yaml:"burst"`
}

// BootstrapConfig bounds the POI fetch.
type BootstrapConfig struct {
	MaxPOIs int `yaml:"max_pois"`
}

// IngestConfig controls the discussion ingest.
type IngestConfig struct {
	TopPosts int `yaml:"top_posts"`
	// KeepUnmatched persists audit mentions with a null place id. Default
	// off; the upstream behavior was inconsistent, documented as TBD.
	KeepUnmatched bool `yaml:"keep_unmatched"`
}

// ServerConfig holds HTTP server knobs.
type ServerConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
}

// CityBorough is a named borough with its aliases.
type CityBorough struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// CityConfig is one catalog entry. Cities present here resolve without a
// geocoder round-trip and carry their discussion boards.
type CityConfig struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Country    string        `yaml:"country"`
	Lat        float64       `yaml:"lat"`
	Lon        float64       `yaml:"lon"`
	BBox       [4]float64    `yaml:"bbox"` // min_lon, min_lat, max_lon, max_lat
	Aliases    []string      `yaml:"aliases"`
	Boroughs   []CityBorough `yaml:"boroughs"`
	Subreddits []string      `yaml:"subreddits"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Match: MatchConfig{
			Threshold:    0.55,
			GeoThreshold: 0.50,
			GeoRadiusM:   2000,
			CandidateCap: 10,
		},
		Scoring: ScoringConfig{
			Alpha:               8,
			Beta:                2,
			PriorN:              10,
			Z:                   1.96,
			HalfLifeDays:        14,
			WindowDays:          90,
			DayMultiplier:       2.0,
			WeekMultiplier:      1.5,
			UpvoteBoost:         0.02,
			MinMentionsIconic:   3,
			MinMentionsTrending: 2,
			SnippetLimit:        5,
		},
		Pagination: PaginationConfig{
			DefaultLimit:  50,
			MaxLimit:      100,
			FuzzyMaxLimit: 50,
		},
		Jobs: JobsConfig{
			MaxAttempts:          5,
			BackoffSeconds:       []int{60, 300, 900, 3600},
			PollIntervalSeconds:  5,
			DrainTimeoutSeconds:  30,
			StalledAfterSeconds:  900,
			RetentionHours:       168,
			SweepIntervalSeconds: 600,
		},
		RateLimit: RateLimitConfig{
			Strict:   RateLimitPreset{Limit: 20, WindowSeconds: 60},
			Standard: RateLimitPreset{Limit: 100, WindowSeconds: 60},
			Generous: RateLimitPreset{Limit: 300, WindowSeconds: 60},
			Burst:    RateLimitPreset{Limit: 30, WindowSeconds: 10},
		},
		Bootstrap: BootstrapConfig{MaxPOIs: 10000},
		Ingest:    IngestConfig{TopPosts: 100},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 10,
			IdleTimeoutSeconds:  60,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FindCity returns the catalog entry whose name or alias matches the query
// case-insensitively, or nil.
func (c Config) FindCity(query string) *CityConfig {
	q := normalizeKey(query)
	if q == "" {
		return nil
	}

	for i := range c.Cities {
		city := &c.Cities[i]
		if normalizeKey(city.Name) == q || normalizeKey(city.ID) == q {
			return city
		}
		for _, a := range city.Aliases {
			if normalizeKey(a) == q {
				return city
			}
		}
		for _, b := range city.Boroughs {
			if normalizeKey(b.Name) == q {
				return city
			}
			for _, a := range b.Aliases {
				if normalizeKey(a) == q {
					return city
				}
			}
		}
	}

	return nil
}
