package dto

// TrackClickRequest is the click beacon posted by landing pages
type TrackClickRequest struct {
	ClickID     string `json:"click_id" validate:"required,max=255"`
	SessionID   string `json:"session_id,omitempty" validate:"omitempty,max=255"`
	TimestampMs int64  `json:"timestamp_ms,omitempty" validate:"omitempty,gte=0"`
	UserAgent   string `json:"user_agent,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	UTMSource   string `json:"utm_source,omitempty" validate:"omitempty,max=255"`
	UTMMedium   string `json:"utm_medium,omitempty" validate:"omitempty,max=255"`
	UTMCampaign string `json:"utm_campaign,omitempty" validate:"omitempty,max=255"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty" validate:"omitempty,max=255"`
	UTMID       string `json:"utm_id,omitempty" validate:"omitempty,max=255"`
	FBCLID      string `json:"fbclid,omitempty"`
	FBC         string `json:"fbc,omitempty"`
	FBP         string `json:"fbp,omitempty"`
	TTCLID      string `json:"ttclid,omitempty"`
	GCLID       string `json:"gclid,omitempty"`
	MSCLKID     string `json:"msclkid,omitempty"`
	KwaiClickID string `json:"kwai_click_id,omitempty"`
}

// TrackClickResponse reports whether the beacon created a new click
type TrackClickResponse struct {
	ClickID string `json:"click_id"`
	Saved   bool   `json:"saved"`
}

// TrackingQuery carries the query parameters of the pixel and redirect endpoints.
// us, um and uc are short aliases for utm_source, utm_medium and utm_campaign.
type TrackingQuery struct {
	ClickID     string `query:"click_id"`
	URL         string `query:"url"`
	UTMSource   string `query:"utm_source"`
	UTMMedium   string `query:"utm_medium"`
	UTMCampaign string `query:"utm_campaign"`
	UTMContent  string `query:"utm_content"`
	UTMTerm     string `query:"utm_term"`
	UTMID       string `query:"utm_id"`
	US          string `query:"us"`
	UM          string `query:"um"`
	UC          string `query:"uc"`
	FBCLID      string `query:"fbclid"`
	TTCLID      string `query:"ttclid"`
	GCLID       string `query:"gclid"`
	KwaiClickID string `query:"kwai_click_id"`
}
