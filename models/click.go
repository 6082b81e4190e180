// Package models contains the persisted entities of the relay and their repository filters
package models

import "time"

// Click is an ad-click landing captured by the tracking endpoints.
// Rows are immutable once written; the first write for a click_id wins.
type Click struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ClickID     string    `gorm:"size:255;not null;uniqueIndex:uk_clicks_click_id" json:"click_id"`
	SessionID   *string   `gorm:"size:255" json:"session_id,omitempty"`
	TimestampMs *int64    `gorm:"column:timestamp_ms" json:"timestamp_ms,omitempty"`
	ReceivedAt  time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_clicks_received_at" json:"received_at"`
	IP          *string   `gorm:"size:64" json:"ip,omitempty"`
	UserAgent   *string   `gorm:"type:text" json:"user_agent,omitempty"`
	Referrer    *string   `gorm:"type:text" json:"referrer,omitempty"`
	LandingPage *string   `gorm:"type:text" json:"landing_page,omitempty"`

	UTMSource   *string `gorm:"column:utm_source;size:255" json:"utm_source,omitempty"`
	UTMMedium   *string `gorm:"column:utm_medium;size:255" json:"utm_medium,omitempty"`
	UTMCampaign *string `gorm:"column:utm_campaign;size:255" json:"utm_campaign,omitempty"`
	UTMContent  *string `gorm:"column:utm_content;type:text" json:"utm_content,omitempty"`
	UTMTerm     *string `gorm:"column:utm_term;size:255" json:"utm_term,omitempty"`
	UTMID       *string `gorm:"column:utm_id;size:255" json:"utm_id,omitempty"`

	FBCLID      *string `gorm:"column:fbclid;size:512" json:"fbclid,omitempty"`
	FBC         *string `gorm:"column:fbc;size:512;index:idx_clicks_fbc" json:"fbc,omitempty"`
	FBP         *string `gorm:"column:fbp;size:255;index:idx_clicks_fbp" json:"fbp,omitempty"`
	TTCLID      *string `gorm:"column:ttclid;size:512;index:idx_clicks_ttclid" json:"ttclid,omitempty"`
	GCLID       *string `gorm:"column:gclid;size:512" json:"gclid,omitempty"`
	MSCLKID     *string `gorm:"column:msclkid;size:512" json:"msclkid,omitempty"`
	KwaiClickID *string `gorm:"column:kwai_click_id;size:512" json:"kwai_click_id,omitempty"`
}

// TableName returns the table name for Click
func (Click) TableName() string { return "clicks" }

// HasTTCLID reports whether the click carries a TikTok click id
func (c *Click) HasTTCLID() bool { return c != nil && c.TTCLID != nil && *c.TTCLID != "" }

// HasFacebookIDs reports whether the click carries an fbc or fbp cookie
func (c *Click) HasFacebookIDs() bool {
	return c != nil && ((c.FBC != nil && *c.FBC != "") || (c.FBP != nil && *c.FBP != ""))
}

// ClickFilter provides filter fields for repository queries
type ClickFilter struct {
	ClickID        *string
	IP             *string
	UTMSource      *string
	UTMCampaign    *string
	TTCLID         *string
	ReceivedAfter  *time.Time
	ReceivedBefore *time.Time
}
