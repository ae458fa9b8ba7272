package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is a received gateway notification. ProcessedAt stays nil until
// every side effect of the event has been applied.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	SessionID       string         `json:"session_id" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

const (
	OutcomeConfirmed         = "confirmed"
	OutcomeFailed            = "failed"
	OutcomeUnchanged         = "unchanged"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeIgnored           = "ignored"
	OutcomeDuplicate         = "duplicate"
)

// Ack is returned for every delivery the gateway should stop retrying.
type Ack struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
	Duplicate bool   `json:"duplicate"`
}

// SignatureError rejects a delivery before anything is read from it.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature rejected: %v", e.Err)
}

func (e *SignatureError) Unwrap() error { return e.Err }
