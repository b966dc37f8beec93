package persistence

import "errors"

// Sentinel errors surfaced by repositories. The HTTP layer maps these to
// status codes; job handlers treat them as non-retryable.
var (
	ErrCityNotFound  = errors.New("city not found")
	ErrPlaceNotFound = errors.New("place not found")
	ErrNoJob         = errors.New("no queued job available")
)
