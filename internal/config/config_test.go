package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadClampsNegativeWebhookRetries(t *testing.T) {
	t.Setenv("WEBHOOK_NOT_FOUND_MAX_RETRIES", "-1")

	cfg := Load()

	assert.Equal(t, uint64(0), cfg.Webhook.NotFoundMaxRetries)
}

func TestLoadReadsWebhookRetries(t *testing.T) {
	t.Setenv("WEBHOOK_NOT_FOUND_MAX_RETRIES", "5")

	assert.Equal(t, uint64(5), Load().Webhook.NotFoundMaxRetries)

	t.Setenv("WEBHOOK_NOT_FOUND_MAX_RETRIES", "many")

	assert.Equal(t, uint64(3), Load().Webhook.NotFoundMaxRetries)
}
