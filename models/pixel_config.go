package models

import "time"

// Platform names a conversion destination
type Platform string

const (
	PlatformFacebook Platform = "facebook"
	PlatformTikTok   Platform = "tiktok"
	PlatformKwai     Platform = "kwai"
	// PlatformUTMify is the sales aggregator; it has no pixel rows
	PlatformUTMify Platform = "utmify"
)

// AdPlatforms are the destinations configured through pixel rows
var AdPlatforms = []Platform{PlatformFacebook, PlatformTikTok, PlatformKwai}

// IsAdPlatform reports whether p can own a pixel configuration
func (p Platform) IsAdPlatform() bool {
	for _, ap := range AdPlatforms {
		if ap == p {
			return true
		}
	}
	return false
}

// SentFlagColumn is the sales column recording a successful send to p
func (p Platform) SentFlagColumn() (string, bool) {
	switch p {
	case PlatformFacebook:
		return "facebook_sent", true
	case PlatformTikTok:
		return "tiktok_sent", true
	case PlatformKwai:
		return "kwai_sent", true
	case PlatformUTMify:
		return "utmify_sent", true
	}
	return "", false
}

// PixelConfig holds the credentials for one ad-platform pixel.
// Rows are deactivated instead of deleted so dispatch history keeps its reference.
type PixelConfig struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	Platform      Platform  `gorm:"size:32;not null;uniqueIndex:uk_pixels_platform_pixel_id,priority:1" json:"platform"`
	PixelID       string    `gorm:"size:255;not null;uniqueIndex:uk_pixels_platform_pixel_id,priority:2" json:"pixel_id"`
	AccessToken   string    `gorm:"type:text;not null" json:"-"`
	EventSourceID *string   `gorm:"size:255" json:"event_source_id,omitempty"`
	TestEventCode *string   `gorm:"size:255" json:"test_event_code,omitempty"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt     time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for PixelConfig
func (PixelConfig) TableName() string { return "pixels" }

// PixelConfigFilter provides filter fields for repository queries
type PixelConfigFilter struct {
	Platform *Platform
	PixelID  *string
	IsActive *bool
}
