package models

import "time"

// DispatchStatus tracks one claimed conversion send
type DispatchStatus string

const (
	DispatchStatusPending DispatchStatus = "pending"
	DispatchStatusSent    DispatchStatus = "sent"
	DispatchStatusFailed  DispatchStatus = "failed"
)

// DispatchMode separates real traffic from operator test sends
type DispatchMode string

const (
	DispatchModeProduction DispatchMode = "production"
	DispatchModeTest       DispatchMode = "test"
)

// ConversionDispatch is the dedupe log row for (attribution key, platform, pixel, event).
// The unique key admits at most one sent row per combination.
type ConversionDispatch struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	AttributionKey string         `gorm:"size:512;not null;uniqueIndex:uk_conversion_dispatches_key,priority:1" json:"attribution_key"`
	SaleCode       string         `gorm:"size:255;not null;index:idx_conversion_dispatches_sale_code" json:"sale_code"`
	Platform       Platform       `gorm:"size:32;not null;uniqueIndex:uk_conversion_dispatches_key,priority:2" json:"platform"`
	PixelID        string         `gorm:"size:255;not null;default:'';uniqueIndex:uk_conversion_dispatches_key,priority:3" json:"pixel_id"`
	EventName      string         `gorm:"size:64;not null;uniqueIndex:uk_conversion_dispatches_key,priority:4" json:"event_name"`
	Mode           DispatchMode   `gorm:"size:16;not null;default:'production'" json:"mode"`
	Status         DispatchStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	Attempts       int            `gorm:"not null;default:1" json:"attempts"`
	ClaimedAt      time.Time      `json:"claimed_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	LastError      *string        `gorm:"type:text" json:"last_error,omitempty"`
	ResponseStatus *int           `json:"response_status,omitempty"`
	CreatedAt      time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for ConversionDispatch
func (ConversionDispatch) TableName() string { return "conversion_dispatches" }

// DispatchKey identifies a dedupe log row
type DispatchKey struct {
	AttributionKey string
	Platform       Platform
	PixelID        string
	EventName      string
}

// Key returns the dedupe key of the row
func (d *ConversionDispatch) Key() DispatchKey {
	return DispatchKey{AttributionKey: d.AttributionKey, Platform: d.Platform, PixelID: d.PixelID, EventName: d.EventName}
}

// ConversionDispatchFilter provides filter fields for repository queries
type ConversionDispatchFilter struct {
	SaleCode *string
	Platform *Platform
	Status   *DispatchStatus
	Mode     *DispatchMode
}
