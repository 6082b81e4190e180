package businessflow

import "strings"

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds the caller information captured at the HTTP edge
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	Referrer  string `json:"referrer,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance with basic information
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: strings.TrimSpace(ipAddress),
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// SetReferrer sets the referrer
func (cm *ClientMetadata) SetReferrer(referrer string) {
	cm.Referrer = referrer
}

func metaIP(meta *ClientMetadata) string {
	if meta == nil {
		return ""
	}
	return meta.IPAddress
}

func metaUserAgent(meta *ClientMetadata) string {
	if meta == nil {
		return ""
	}
	return meta.UserAgent
}
