// Package ingest polls a city's discussion sources, extracts place-name
// candidates, resolves them through the matcher, and persists
// compliance-safe mention metadata. Raw text never leaves the pipeline.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/match"
	"github.com/chowrank/chowrank/internal/metrics"
	"github.com/chowrank/chowrank/internal/persistence"
	"github.com/chowrank/chowrank/internal/providers"
)

// Result summarizes one ingest run over a city's sources.
type Result struct {
	Sources       int `json:"sources"`
	SourcesFailed int `json:"sources_failed"`
	Posts         int `json:"posts"`
	Comments      int `json:"comments"`
	MentionsNew   int `json:"mentions_new"`
	MentionsDuped int `json:"mentions_duped"`
	Unmatched     int `json:"unmatched"`
}

// Pipeline wires the ingest dependencies.
type Pipeline struct {
	repo    *persistence.Repository
	source  providers.DiscussionSource
	matcher *match.Matcher
	cfg     config.Config
}

// NewPipeline constructs an ingest pipeline.
func NewPipeline(repo *persistence.Repository, source providers.DiscussionSource, matcher *match.Matcher, cfg config.Config) *Pipeline {
	return &Pipeline{repo: repo, source: source, matcher: matcher, cfg: cfg}
}

// Run ingests every active source for the city. A failing source is logged
// and skipped; the run errors only when every source fails.
func (p *Pipeline) Run(ctx context.Context, cityID uuid.UUID) (*Result, error) {
	if _, err := p.repo.Cities.GetByID(ctx, cityID); err != nil {
		return nil, fmt.Errorf("failed to load city: %w", err)
	}

	sources, err := p.repo.Sources.ListActive(ctx, cityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no active sources for city %s", cityID)
	}

	res := &Result{Sources: len(sources)}
	for _, src := range sources {
		if err := p.ingestSource(ctx, cityID, src.Name, res); err != nil {
			res.SourcesFailed++
			log.Warn().Err(err).Str("source", src.Name).Msg("source ingest failed, continuing")
		}
	}

	if res.SourcesFailed == res.Sources {
		return res, fmt.Errorf("all %d sources failed for city %s", res.Sources, cityID)
	}

	log.Info().
		Str("city_id", cityID.String()).
		Int("posts", res.Posts).
		Int("comments", res.Comments).
		Int("mentions_new", res.MentionsNew).
		Int("unmatched", res.Unmatched).
		Msg("ingest complete")

	return res, nil
}

func (p *Pipeline) ingestSource(ctx context.Context, cityID uuid.UUID, name string, res *Result) error {
	posts, err := p.source.TopPosts(ctx, name, p.cfg.Ingest.TopPosts)
	if err != nil {
		return fmt.Errorf("failed to fetch top posts: %w", err)
	}

	for _, post := range posts {
		res.Posts++
		p.processText(ctx, cityID, textUnit{
			subreddit: name,
			postID:    post.ID,
			text:      post.Title + "\n" + post.Body,
			score:     post.Score,
			ts:        post.CreatedAt,
			permalink: post.Permalink,
		}, res)

		comments, err := p.source.Comments(ctx, name, post.ID)
		if err != nil {
			log.Warn().Err(err).Str("post_id", post.ID).Msg("comment fetch failed, post-only ingest")
			continue
		}
		for _, c := range comments {
			res.Comments++
			commentID := c.ID
			p.processText(ctx, cityID, textUnit{
				subreddit: name,
				postID:    post.ID,
				commentID: &commentID,
				text:      c.Body,
				score:     c.Score,
				ts:        c.CreatedAt,
				permalink: c.Permalink,
			}, res)
		}
	}

	if err := p.repo.Sources.MarkSynced(ctx, name, len(posts)); err != nil {
		return fmt.Errorf("failed to mark source synced: %w", err)
	}
	return nil
}

type textUnit struct {
	subreddit string
	postID    string
	commentID *string
	text      string
	score     int
	ts        time.Time
	permalink string
}

// processText extracts candidates from one post or comment, matches each,
// and persists a mention per distinct matched place. Only the hash and
// length of the text survive.
func (p *Pipeline) processText(ctx context.Context, cityID uuid.UUID, unit textUnit, res *Result) {
	if unit.ts.IsZero() {
		log.Debug().Str("post_id", unit.postID).Msg("skipping item without a timestamp")
		return
	}

	candidates := match.ExtractCandidates(unit.text)
	if len(candidates) == 0 {
		return
	}

	hash := contentHash(unit.text)
	length := utf8.RuneCountInString(unit.text)
	matched := make(map[uuid.UUID]bool)
	audited := false

	for _, cand := range candidates {
		m, err := p.matcher.Match(ctx, match.Query{CityID: cityID, Norm: cand.Norm})
		if err != nil {
			log.Warn().Err(err).Str("candidate", cand.Norm).Msg("match failed")
			continue
		}
		if m == nil {
			res.Unmatched++
			if p.cfg.Ingest.KeepUnmatched && !audited {
				audited = true
				p.insertAudit(ctx, unit, hash, length)
			}
			continue
		}
		if matched[m.Candidate.PlaceID] {
			continue
		}
		matched[m.Candidate.PlaceID] = true

		placeID := m.Candidate.PlaceID
		inserted, err := p.repo.Mentions.Insert(ctx, persistence.Mention{
			PlaceID:       &placeID,
			Subreddit:     unit.subreddit,
			PostID:        unit.postID,
			CommentID:     unit.commentID,
			Score:         unit.score,
			Timestamp:     unit.ts,
			Permalink:     unit.permalink,
			ContentHash:   hash,
			ContentLength: length,
		})
		if err != nil {
			log.Warn().Err(err).Str("post_id", unit.postID).Msg("mention insert failed")
			continue
		}
		if inserted {
			res.MentionsNew++
			metrics.MentionsIngestedTotal.WithLabelValues(unit.subreddit).Inc()
		} else {
			res.MentionsDuped++
		}
	}
}

// insertAudit keeps an unattributed row for matcher-recall analysis. At most
// one per text unit; the NULL place id never participates in rankings.
func (p *Pipeline) insertAudit(ctx context.Context, unit textUnit, hash string, length int) {
	_, err := p.repo.Mentions.Insert(ctx, persistence.Mention{
		Subreddit:     unit.subreddit,
		PostID:        unit.postID,
		CommentID:     unit.commentID,
		Score:         unit.score,
		Timestamp:     unit.ts,
		Permalink:     unit.permalink,
		ContentHash:   hash,
		ContentLength: length,
	})
	if err != nil {
		log.Warn().Err(err).Str("post_id", unit.postID).Msg("audit mention insert failed")
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
