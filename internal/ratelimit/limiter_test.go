package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLimiterWithoutRedisAllowsEverything(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(config.Config{}, zap.NewNop())

	assert.False(t, l.Enabled())

	res, err := l.AllowCheckout(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := l.TryLockEvent(ctx, "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, l.ReleaseEvent(ctx, "stripe", "evt_1", token))
}

func TestNilLimiterIsDisabled(t *testing.T) {
	var l *Limiter
	res, err := l.AllowCheckout(context.Background(), "client")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestEventKeyNormalizes(t *testing.T) {
	assert.Equal(t, "webhook:event:stripe:evt_1", eventKey(" Stripe ", " evt_1 "))
}

func TestBucketResultComputesRetryAfter(t *testing.T) {
	denied := bucketResult([]any{int64(0), "0.5", int64(1700000000000)}, 0.5, 5)
	assert.False(t, denied.Allowed)
	assert.Equal(t, time.Second, denied.RetryAfter)
	assert.Equal(t, 5, denied.Limit)

	allowed := bucketResult([]any{int64(1), "3.25", int64(1700000000000)}, 1, 5)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 3, allowed.Remaining)
	assert.Zero(t, allowed.RetryAfter)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, bucketTTL(0.5, 5))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 0))
}
