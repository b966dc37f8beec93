package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultRedditAuthURL = "https://www.reddit.com"
	defaultRedditAPIURL  = "https://oauth.reddit.com"

	// tokenSlack renews the token before its actual expiry.
	tokenSlack = 60 * time.Second
)

// RedditCredentials are the OAuth client-credentials for a script app.
type RedditCredentials struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
}

// RedditClient reads subreddit top listings and comment trees. Tokens are
// fetched lazily and cached until shortly before expiry.
type RedditClient struct {
	authURL string
	apiURL  string
	creds   RedditCredentials
	http    *httpClient

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewRedditClient constructs a discussion source client. Empty URLs select
// the public endpoints.
func NewRedditClient(authURL, apiURL string, creds RedditCredentials) *RedditClient {
	if authURL == "" {
		authURL = defaultRedditAuthURL
	}
	if apiURL == "" {
		apiURL = defaultRedditAPIURL
	}
	return &RedditClient{
		authURL: authURL,
		apiURL:  apiURL,
		creds:   creds,
		http:    newHTTPClient("reddit", creds.UserAgent, 1),
	}
}

type redditTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a valid bearer token, refreshing when needed.
func (c *RedditClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequest(http.MethodPost, c.authURL+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.creds.ClientID, c.creds.ClientSecret)

	body, err := c.http.do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}

	var tok redditTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSlack)

	return c.token, nil
}

func (c *RedditClient) get(ctx context.Context, path string) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return c.http.do(ctx, req)
}

type redditListing struct {
	Data struct {
		Children []redditThing `json:"children"`
	} `json:"data"`
}

type redditThing struct {
	Kind string `json:"kind"`
	Data struct {
		ID         string          `json:"id"`
		Subreddit  string          `json:"subreddit"`
		Title      string          `json:"title"`
		SelfText   string          `json:"selftext"`
		Body       string          `json:"body"`
		Score      int             `json:"score"`
		CreatedUTC float64         `json:"created_utc"`
		Permalink  string          `json:"permalink"`
		Replies    json.RawMessage `json:"replies"`
	} `json:"data"`
}

// TopPosts returns the subreddit's top listing over the past year.
func (c *RedditClient) TopPosts(ctx context.Context, subreddit string, limit int) ([]Post, error) {
	path := fmt.Sprintf("/r/%s/top?t=year&limit=%d&raw_json=1", url.PathEscape(subreddit), limit)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode top listing: %w", err)
	}

	posts := make([]Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		d := child.Data
		posts = append(posts, Post{
			ID:        d.ID,
			Subreddit: d.Subreddit,
			Title:     d.Title,
			Body:      d.SelfText,
			Score:     d.Score,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Permalink: d.Permalink,
		})
	}

	return posts, nil
}

// Comments returns the post's comment tree flattened depth-first.
func (c *RedditClient) Comments(ctx context.Context, subreddit, postID string) ([]Comment, error) {
	path := fmt.Sprintf("/r/%s/comments/%s?limit=200&depth=4&raw_json=1",
		url.PathEscape(subreddit), url.PathEscape(postID))
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	// The comments endpoint returns a two-element array: the post listing
	// and the comment tree.
	var listings []redditListing
	if err := json.Unmarshal(body, &listings); err != nil {
		return nil, fmt.Errorf("failed to decode comment tree: %w", err)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var out []Comment
	collectComments(listings[1].Data.Children, postID, &out)
	return out, nil
}

func collectComments(children []redditThing, postID string, out *[]Comment) {
	for _, child := range children {
		if child.Kind != "t1" {
			continue
		}
		d := child.Data
		*out = append(*out, Comment{
			ID:        d.ID,
			PostID:    postID,
			Body:      d.Body,
			Score:     d.Score,
			CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
			Permalink: d.Permalink,
		})

		// Replies are either a nested listing or an empty string.
		if len(d.Replies) == 0 || string(d.Replies) == `""` {
			continue
		}
		var nested redditListing
		if err := json.Unmarshal(d.Replies, &nested); err != nil {
			continue
		}
		collectComments(nested.Data.Children, postID, out)
	}
}
