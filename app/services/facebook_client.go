package services

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/models"
)

// FacebookClient sends server events to the Graph conversions API
// Docs: https://developers.facebook.com/docs/marketing-api/conversions-api
type FacebookClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewFacebookClient(baseURL string, timeout time.Duration) *FacebookClient {
	client := newHTTPClient(timeout)
	return &FacebookClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: client,
		Timeout:    client.Timeout,
	}
}

func (c *FacebookClient) Platform() models.Platform { return models.PlatformFacebook }

type facebookUserData struct {
	ClientIP        string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	Email           []string `json:"em,omitempty"`
	Phone           []string `json:"ph,omitempty"`
	ExternalID      []string `json:"external_id,omitempty"`
	FirstName       []string `json:"fn,omitempty"`
}

type facebookCustomData struct {
	Value       float64 `json:"value"`
	Currency    string  `json:"currency"`
	ContentName string  `json:"content_name,omitempty"`
	OrderID     string  `json:"order_id,omitempty"`
}

type facebookEvent struct {
	EventName      string             `json:"event_name"`
	EventTime      int64              `json:"event_time"`
	EventID        string             `json:"event_id"`
	ActionSource   string             `json:"action_source"`
	EventSourceURL string             `json:"event_source_url,omitempty"`
	UserData       facebookUserData   `json:"user_data"`
	CustomData     facebookCustomData `json:"custom_data"`
}

type facebookRequest struct {
	Data          []facebookEvent `json:"data"`
	AccessToken   string          `json:"access_token"`
	TestEventCode string          `json:"test_event_code,omitempty"`
}

func (c *FacebookClient) buildPayload(ev ConversionEvent) facebookRequest {
	externalID := HashDocument(ev.User.Document)
	if externalID == "" {
		externalID = HashValue(ev.User.ExternalID)
	}
	event := facebookEvent{
		EventName:      ev.EventName,
		EventTime:      ev.EventTime.UTC().Unix(),
		EventID:        ev.EventID,
		ActionSource:   "website",
		EventSourceURL: ev.Click.LandingPage,
		UserData: facebookUserData{
			ClientIP:        ev.User.IP,
			ClientUserAgent: ev.User.UserAgent,
			FBC:             ev.Click.FBC,
			FBP:             ev.Click.FBP,
			Email:           hashedList(HashEmail(ev.User.Email)),
			Phone:           hashedList(HashPhone(ev.User.Phone)),
			ExternalID:      hashedList(externalID),
			FirstName:       hashedList(HashValue(firstName(ev.User.Name))),
		},
		CustomData: facebookCustomData{
			Value:       ev.Amount.Major,
			Currency:    ev.Amount.Currency,
			ContentName: ev.PlanName,
			OrderID:     ev.SaleCode,
		},
	}
	req := facebookRequest{Data: []facebookEvent{event}, AccessToken: ev.Pixel.AccessToken}
	if ev.Test != nil {
		req.TestEventCode = ev.Test.EventCode
	}
	return req
}

func (c *FacebookClient) Send(ctx context.Context, ev ConversionEvent) (*SendResult, error) {
	endpoint := c.BaseURL + "/" + url.PathEscape(ev.Pixel.PixelID) + "/events"
	return postJSON(ctx, c.HTTPClient, c.Platform(), endpoint, nil, c.buildPayload(ev))
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
