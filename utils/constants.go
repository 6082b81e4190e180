package utils

import (
	"time"
)

// Context keys shared by handlers and flows
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	TimeoutKey   contextKey = "timeout"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Sale defaults
const (
	DefaultCurrency = "BRL"
	DefaultPlanName = "Acesso VIP"

	// DefaultAggregatorEmail is sent to the sales aggregator when the customer email is unknown
	DefaultAggregatorEmail = "naoinformado@utmify.com"

	// DefaultLandingPage is reported to TikTok when the click carries no landing page
	DefaultLandingPage = "https://tracking.com"
)

// Tracking constants
const (
	// TransparentGIFBase64 is a 1x1 transparent GIF
	TransparentGIFBase64 = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

	PixelClickIDPrefix = "pixel_"
	SessionIDPrefix    = "session_"

	// ClickCacheKey is the redis key template for cached click records
	ClickCacheKey = "click:%s"

	DefaultClickCacheTTL = 6 * time.Hour
)
