package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytiq-hub/doc-router-sub001/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New("test", "error", "text")
}

func TestLimiterWaitBlocksUntilTokenAvailable(t *testing.T) {
	l := NewLimiter(1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
}

func TestOrgLimiterFallsBackToLocalWithoutRedisAddr(t *testing.T) {
	o := NewOrgLimiter(context.Background(), "", 2, 2, testLogger())

	ok, err := o.Allow(context.Background(), "org_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrgLimiterLocalFallbackExhaustsBurst(t *testing.T) {
	o := NewOrgLimiter(context.Background(), "", 0.001, 1, testLogger())

	ok, err := o.Allow(context.Background(), "org_1")
	require.NoError(t, err)
	assert.True(t, ok, "first call should consume the single burst token")

	ok, err = o.Allow(context.Background(), "org_1")
	require.NoError(t, err)
	assert.False(t, ok, "second immediate call should be rate limited")
}

func TestOrgLimiterTracksOrganizationsIndependently(t *testing.T) {
	o := NewOrgLimiter(context.Background(), "", 0.001, 1, testLogger())

	okA, err := o.Allow(context.Background(), "org_a")
	require.NoError(t, err)
	assert.True(t, okA)

	okB, err := o.Allow(context.Background(), "org_b")
	require.NoError(t, err)
	assert.True(t, okB, "a different organization must have its own bucket")
}

func TestOrgLimiterUnreachableRedisFallsBackGracefully(t *testing.T) {
	// An address nothing listens on should degrade to the local limiter
	// rather than blocking startup or erroring.
	o := NewOrgLimiter(context.Background(), "127.0.0.1:1", 2, 2, testLogger())
	ok, err := o.Allow(context.Background(), "org_1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, o.Close())
}
