package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowRespectsBurst(t *testing.T) {
	l := NewLimiter(1, 2)

	assert.True(t, l.Allow("api.example.com"))
	assert.True(t, l.Allow("api.example.com"))
	assert.False(t, l.Allow("api.example.com"), "third immediate request exceeds burst")
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("a.example.com"))
	assert.False(t, l.Allow("a.example.com"))
	assert.True(t, l.Allow("b.example.com"), "a drained bucket must not affect other hosts")
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(0.001, 1)
	require.True(t, l.Allow("slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "slow.example.com")
	assert.Error(t, err)
}

func TestLimiter_SetRPS(t *testing.T) {
	l := NewLimiter(1, 1)
	l.Allow("host")

	l.SetRPS(100)

	stats := l.Stats()
	require.Contains(t, stats, "host")
	assert.Equal(t, 100.0, stats["host"].RPS)
}

func TestLimiter_Stats(t *testing.T) {
	l := NewLimiter(1, 5)
	l.Allow("host")

	stats := l.Stats()
	require.Len(t, stats, 1)
	s := stats["host"]
	assert.Equal(t, "host", s.Host)
	assert.Equal(t, 5, s.Burst)
	assert.False(t, s.IsThrottled())
}
