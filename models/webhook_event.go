package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent is the raw audit copy of an inbound payment webhook
type WebhookEvent struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	Provider        string          `gorm:"size:64;not null" json:"provider"`
	EventType       string          `gorm:"size:64;not null" json:"event_type"`
	SaleCode        *string         `gorm:"size:255;index:idx_webhook_events_sale_code" json:"sale_code,omitempty"`
	Payload         json.RawMessage `gorm:"type:jsonb;not null" json:"payload"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError *string         `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_webhook_events_created_at" json:"created_at"`
}

// TableName returns the table name for WebhookEvent
func (WebhookEvent) TableName() string { return "webhook_events" }
