package models

import "time"

// SaleStatus is the payment lifecycle stage carried by purchase events
type SaleStatus string

const (
	SaleStatusPending  SaleStatus = "pending"
	SaleStatusCreated  SaleStatus = "created"
	SaleStatusApproved SaleStatus = "approved"
	SaleStatusPaid     SaleStatus = "paid"
)

// SaleStatuses lists every status in lifecycle order
var SaleStatuses = []SaleStatus{SaleStatusPending, SaleStatusCreated, SaleStatusApproved, SaleStatusPaid}

// Valid reports whether s is a known status
func (s SaleStatus) Valid() bool { return s.Rank() >= 0 }

// Rank orders statuses along the lifecycle; unknown statuses rank -1
func (s SaleStatus) Rank() int {
	for i, st := range SaleStatuses {
		if st == s {
			return i
		}
	}
	return -1
}

// IsConfirmed reports whether the payment has gone through
func (s SaleStatus) IsConfirmed() bool {
	return s == SaleStatusApproved || s == SaleStatusPaid
}

// Sale is a purchase keyed by its unique sale code.
// The per-destination send flags are only ever flipped by MarkSent.
type Sale struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	SaleCode         string     `gorm:"size:255;not null;uniqueIndex:uk_sales_sale_code" json:"sale_code"`
	TransactionID    *string    `gorm:"size:255;index:idx_sales_transaction_id" json:"transaction_id,omitempty"`
	ClickID          *string    `gorm:"size:255;index:idx_sales_click_id" json:"click_id,omitempty"`
	CustomerName     *string    `gorm:"size:255" json:"customer_name,omitempty"`
	CustomerEmail    *string    `gorm:"size:255" json:"customer_email,omitempty"`
	CustomerPhone    *string    `gorm:"size:64" json:"customer_phone,omitempty"`
	CustomerDocument *string    `gorm:"size:64" json:"customer_document,omitempty"`
	PlanName         *string    `gorm:"size:255" json:"plan_name,omitempty"`
	PlanValue        *float64   `gorm:"type:numeric(12,2)" json:"plan_value,omitempty"`
	Currency         string     `gorm:"size:8;not null;default:'BRL'" json:"currency"`
	PaymentPlatform  *string    `gorm:"size:128" json:"payment_platform,omitempty"`
	PaymentMethod    *string    `gorm:"size:128" json:"payment_method,omitempty"`
	Status           SaleStatus `gorm:"size:32;not null;default:'pending';index:idx_sales_status" json:"status"`
	IP               *string    `gorm:"size:64" json:"ip,omitempty"`
	UserAgent        *string    `gorm:"type:text" json:"user_agent,omitempty"`

	UTMSource   *string `gorm:"column:utm_source;size:255" json:"utm_source,omitempty"`
	UTMMedium   *string `gorm:"column:utm_medium;size:255" json:"utm_medium,omitempty"`
	UTMCampaign *string `gorm:"column:utm_campaign;size:255" json:"utm_campaign,omitempty"`
	UTMContent  *string `gorm:"column:utm_content;type:text" json:"utm_content,omitempty"`
	UTMTerm     *string `gorm:"column:utm_term;size:255" json:"utm_term,omitempty"`
	UTMID       *string `gorm:"column:utm_id;size:255" json:"utm_id,omitempty"`
	FBC         *string `gorm:"column:fbc;size:512" json:"fbc,omitempty"`
	FBP         *string `gorm:"column:fbp;size:255" json:"fbp,omitempty"`
	TTCLID      *string `gorm:"column:ttclid;size:512" json:"ttclid,omitempty"`

	AttributionStep *string `gorm:"size:32" json:"attribution_step,omitempty"`

	FacebookSent bool `gorm:"not null;default:false" json:"facebook_sent"`
	TikTokSent   bool `gorm:"column:tiktok_sent;not null;default:false" json:"tiktok_sent"`
	KwaiSent     bool `gorm:"not null;default:false" json:"kwai_sent"`
	UTMifySent   bool `gorm:"column:utmify_sent;not null;default:false" json:"utmify_sent"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_sales_created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for Sale
func (Sale) TableName() string { return "sales" }

// SentTo reports the stored send flag for a destination
func (s *Sale) SentTo(p Platform) bool {
	switch p {
	case PlatformFacebook:
		return s.FacebookSent
	case PlatformTikTok:
		return s.TikTokSent
	case PlatformKwai:
		return s.KwaiSent
	case PlatformUTMify:
		return s.UTMifySent
	}
	return false
}

// SaleFilter provides filter fields for repository queries
type SaleFilter struct {
	SaleCode      *string
	TransactionID *string
	ClickID       *string
	Status        *SaleStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
