package dto

import "time"

// UpsertPixelRequest creates or updates a pixel; the row is always reactivated
type UpsertPixelRequest struct {
	Name          string `json:"name" validate:"required,max=255"`
	Platform      string `json:"platform" validate:"required,oneof=facebook tiktok kwai"`
	PixelID       string `json:"pixel_id" validate:"required,max=255"`
	AccessToken   string `json:"access_token" validate:"required"`
	EventSourceID string `json:"event_source_id,omitempty" validate:"omitempty,max=255"`
	TestEventCode string `json:"test_event_code,omitempty" validate:"omitempty,max=255"`
}

// PixelDTO never exposes the access token
type PixelDTO struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	Platform      string    `json:"platform"`
	PixelID       string    `json:"pixel_id"`
	EventSourceID *string   `json:"event_source_id,omitempty"`
	HasTestCode   bool      `json:"has_test_event_code"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RedispatchRequest re-runs the dispatcher for a stored sale
type RedispatchRequest struct {
	Test bool `json:"test"`
}

// ListFailedDispatchesRequest pages through failed sends
type ListFailedDispatchesRequest struct {
	Page     int `query:"page" validate:"omitempty,gte=1"`
	PageSize int `query:"page_size" validate:"omitempty,gte=1,lte=500"`
}

// DispatchDTO is a dedupe log row as shown to operators
type DispatchDTO struct {
	ID             uint       `json:"id"`
	SaleCode       string     `json:"sale_code"`
	Platform       string     `json:"platform"`
	PixelID        string     `json:"pixel_id,omitempty"`
	EventName      string     `json:"event_name"`
	Mode           string     `json:"mode"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      *string    `json:"last_error,omitempty"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	ClaimedAt      time.Time  `json:"claimed_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}

type ListFailedDispatchesResponse struct {
	Items    []DispatchDTO    `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int64            `json:"total"`
	Counts   map[string]int64 `json:"counts"`
}

// IssueAdminTokenRequest mints an admin token; the bootstrap key travels in a header
type IssueAdminTokenRequest struct {
	Subject string `json:"subject" validate:"required,max=128"`
}

type IssueAdminTokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HealthResponse is served on the root path
type HealthResponse struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	Features  []string `json:"features"`
}
