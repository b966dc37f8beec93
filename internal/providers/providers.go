// Package providers holds the outbound clients: geocoding, open-map POI
// fetch, and the discussion source. Every client shares the same discipline:
// a per-host token bucket, a circuit breaker, and a self-identifying
// User-Agent.
package providers

import (
	"context"
	"time"

	"github.com/paulmach/orb"
)

// GeocodeResult is a resolved free-text city query.
type GeocodeResult struct {
	Name       string
	Country    string
	Lat        float64
	Lon        float64
	BBox       orb.Bound
	Confidence float64 // [0,1]
}

// Geocoder resolves free-text queries to canonical places. A miss returns
// (nil, nil); errors are transport-level only.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*GeocodeResult, error)
}

// POI is one fetched point of interest.
type POI struct {
	SourceID string
	Name     string
	Lat      float64
	Lon      float64
	Cuisine  []string
	Address  *string
	Brand    *string
	Website  *string
}

// POIProvider fetches food/drink POIs inside a bounding box, capped at max.
type POIProvider interface {
	FetchPOIs(ctx context.Context, bbox orb.Bound, max int) ([]POI, error)
}

// Post is one discussion thread. Title and body are held only long enough
// to extract candidates; persistence keeps hash and length.
type Post struct {
	ID        string
	Subreddit string
	Title     string
	Body      string
	Score     int
	CreatedAt time.Time
	Permalink string
}

// Comment is one reply in a thread's tree.
type Comment struct {
	ID        string
	PostID    string
	Body      string
	Score     int
	CreatedAt time.Time
	Permalink string
}

// DiscussionSource is the crowd-signal feed.
type DiscussionSource interface {
	// TopPosts returns up to limit posts ranked by the source.
	TopPosts(ctx context.Context, subreddit string, limit int) ([]Post, error)

	// Comments returns the flattened comment tree of one post.
	Comments(ctx context.Context, subreddit, postID string) ([]Comment, error)
}
