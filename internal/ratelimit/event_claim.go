package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const keyWebhookEvent = "webhook:event:%s:%s"

// Deletes the claim only while it still carries the holder's token, so an
// expired claim taken over by another delivery is left alone.
const releaseClaimScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var errEmptyEventID = errors.New("webhook_event_id_empty")

// EventClaims gives one webhook delivery at a time ownership of a provider
// event. A claim expires after ttl if its holder dies mid-processing.
type EventClaims struct {
	client  redis.UniversalClient
	release *redis.Script
	ttl     time.Duration
}

func NewEventClaims(client redis.UniversalClient, ttl time.Duration) *EventClaims {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &EventClaims{
		client:  client,
		release: redis.NewScript(releaseClaimScript),
		ttl:     ttl,
	}
}

// Claim returns the holder token and whether this delivery won the event.
func (c *EventClaims) Claim(ctx context.Context, provider, eventID string) (string, bool, error) {
	if c == nil {
		return "", true, nil
	}
	if strings.TrimSpace(eventID) == "" {
		return "", false, errEmptyEventID
	}

	token := uuid.NewString()
	won, err := c.client.SetNX(ctx, eventKey(provider, eventID), token, c.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "claim webhook event")
	}
	return token, won, nil
}

func (c *EventClaims) Release(ctx context.Context, provider, eventID, token string) error {
	if c == nil || token == "" || strings.TrimSpace(eventID) == "" {
		return nil
	}
	return c.release.Run(ctx, c.client, []string{eventKey(provider, eventID)}, token).Err()
}

func eventKey(provider, eventID string) string {
	return fmt.Sprintf(keyWebhookEvent, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(eventID))
}
