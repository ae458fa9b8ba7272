package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 64 << 10

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil || len(payload) > maxWebhookBodyBytes {
		AbortWithError(c, invalidRequestError())
		return
	}

	ack, err := s.webhookSvc.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if ack.Duplicate {
		s.log.Debug("duplicate webhook delivery acknowledged", zap.String("event_id", ack.EventID))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"event_id":  ack.EventID,
		"outcome":   ack.Outcome,
		"duplicate": ack.Duplicate,
	})
}
