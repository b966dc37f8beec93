package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/chowrank/chowrank/internal/net/ratelimit"
)

const maxResponseBytes = 32 << 20

// newBreaker builds the circuit breaker shared by all provider clients:
// trips after three consecutive failures, probes again after 30s.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}

// httpClient bundles the transport, limiter, and breaker one provider uses.
type httpClient struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	breaker   *gobreaker.CircuitBreaker
	userAgent string
}

func newHTTPClient(name, userAgent string, rps float64) *httpClient {
	return &httpClient{
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   ratelimit.NewLimiter(rps, 1),
		breaker:   newBreaker(name),
		userAgent: userAgent,
	}
}

// do rate-limits, runs the request under the breaker, and returns the body.
// Non-2xx statuses are failures so the breaker sees upstream degradation.
func (c *httpClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if err := c.limiter.Wait(ctx, req.URL.Host); err != nil {
		return nil, fmt.Errorf("failed to acquire rate limit token: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", req.URL.Host, err)
	}

	return result.([]byte), nil
}
