package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventClaimsWithoutClientAlwaysWin(t *testing.T) {
	claims := NewEventClaims(nil, time.Minute)
	require.Nil(t, claims)

	token, won, err := claims.Claim(context.Background(), "stripe", "evt_1")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Empty(t, token)
	assert.NoError(t, claims.Release(context.Background(), "stripe", "evt_1", token))
}

func TestEventClaimsRejectEmptyEventID(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	claims := NewEventClaims(client, 0)

	assert.Equal(t, defaultLockTTL, claims.ttl)

	_, won, err := claims.Claim(context.Background(), "stripe", "  ")
	assert.ErrorIs(t, err, errEmptyEventID)
	assert.False(t, won)

	// Nothing to release without a holder token.
	assert.NoError(t, claims.Release(context.Background(), "stripe", "evt_1", ""))
}
