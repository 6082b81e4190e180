package models

import "time"

// ProcessedMessage guards against handling the same chat sale notification twice
type ProcessedMessage struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Hash          string    `gorm:"type:char(64);not null;uniqueIndex:uk_processed_messages_hash" json:"hash"`
	TransactionID string    `gorm:"size:255;not null" json:"transaction_id"`
	SaleCode      string    `gorm:"size:255;not null" json:"sale_code"`
	ChatID        *string   `gorm:"size:255" json:"chat_id,omitempty"`
	CreatedAt     time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for ProcessedMessage
func (ProcessedMessage) TableName() string { return "processed_messages" }
