package dto

// ApexWebhookRequest is the purchase webhook posted by the Apex Vips gateway.
// transaction.plan_value is in minor units (cents).
type ApexWebhookRequest struct {
	Event       string          `json:"event" validate:"required"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Transaction ApexTransaction `json:"transaction"`
	Customer    ApexCustomer    `json:"customer"`
	Tracking    ApexTracking    `json:"tracking"`
	Origin      ApexOrigin      `json:"origin"`
}

type ApexTransaction struct {
	SaleCode        string   `json:"sale_code" validate:"required,max=255"`
	TransactionID   string   `json:"transaction_id,omitempty"`
	PlanName        string   `json:"plan_name,omitempty"`
	PlanValue       *float64 `json:"plan_value,omitempty" validate:"omitempty,gte=0"`
	Currency        string   `json:"currency,omitempty" validate:"omitempty,max=8"`
	PaymentPlatform string   `json:"payment_platform,omitempty"`
	PaymentMethod   string   `json:"payment_method,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
}

type ApexCustomer struct {
	FullName    string `json:"full_name,omitempty"`
	ProfileName string `json:"profile_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	TaxID       string `json:"tax_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
}

type ApexTracking struct {
	UTMID       string `json:"utm_id,omitempty"`
	ClickID     string `json:"click_id,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	FBC         string `json:"fbc,omitempty"`
	FBP         string `json:"fbp,omitempty"`
	TTCLID      string `json:"ttclid,omitempty"`
}

type ApexOrigin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// WebhookAckResponse is returned once a webhook was queued for processing
type WebhookAckResponse struct {
	SaleCode string `json:"sale_code"`
	Queued   bool   `json:"queued"`
	// Merged is true when a sale with this code was already stored
	Merged   bool   `json:"merged"`
}

// WebhookValidationResponse answers the gateway's GET probe
type WebhookValidationResponse struct {
	Status         string         `json:"status"`
	Message        string         `json:"message"`
	Method         string         `json:"method"`
	Endpoint       string         `json:"endpoint"`
	ExpectedFormat map[string]any `json:"expected_format"`
	Timestamp      string         `json:"timestamp"`
}

// SaleProcessingResponse is the full pipeline outcome for one sale
type SaleProcessingResponse struct {
	SaleCode        string              `json:"sale_code"`
	Inserted        bool                `json:"inserted"`
	Status          string              `json:"status"`
	ClickID         *string             `json:"click_id,omitempty"`
	AttributionStep string              `json:"attribution_step,omitempty"`
	Dispatch        []PlatformResultDTO `json:"dispatch,omitempty"`
}

// PlatformResultDTO is one destination's send outcome
type PlatformResultDTO struct {
	Platform    string `json:"platform"`
	PixelID     string `json:"pixel_id,omitempty"`
	EventName   string `json:"event_name"`
	Success     bool   `json:"success"`
	AlreadySent bool   `json:"already_sent,omitempty"`
	InFlight    bool   `json:"in_flight,omitempty"`
	Error       string `json:"error,omitempty"`
}
