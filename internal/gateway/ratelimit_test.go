package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionRateLimiterAllowsBurstThenRejects(t *testing.T) {
	l := newSessionRateLimiter(60, 2)
	require.True(t, l.Allow("s1"))
	require.True(t, l.Allow("s1"))
	require.False(t, l.Allow("s1"))
}

func TestSessionRateLimiterTracksSessionsIndependently(t *testing.T) {
	l := newSessionRateLimiter(60, 1)
	require.True(t, l.Allow("s1"))
	require.False(t, l.Allow("s1"))
	require.True(t, l.Allow("s2"))
}

func TestSessionRateLimiterDisabledWhenZero(t *testing.T) {
	l := newSessionRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("s1"))
	}
}
