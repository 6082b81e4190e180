package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
)

const tiktokContentID = "vip_access"

// TikTokClient sends events to the TikTok events API (pixel/track)
// Docs: https://business-api.tiktok.com/portal/docs?id=1771100865818625
type TikTokClient struct {
	APIURL     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewTikTokClient(apiURL string, timeout time.Duration) *TikTokClient {
	client := newHTTPClient(timeout)
	return &TikTokClient{APIURL: apiURL, HTTPClient: client, Timeout: client.Timeout}
}

func (c *TikTokClient) Platform() models.Platform { return models.PlatformTikTok }

type tiktokContext struct {
	Ad        *tiktokAd  `json:"ad,omitempty"`
	Page      tiktokPage `json:"page"`
	User      tiktokUser `json:"user"`
	IP        string     `json:"ip,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
}

type tiktokAd struct {
	Callback string `json:"callback"`
}

type tiktokPage struct {
	URL string `json:"url"`
}

type tiktokUser struct {
	ExternalID  string `json:"external_id,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type tiktokContent struct {
	ContentID   string  `json:"content_id"`
	ContentName string  `json:"content_name"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
}

type tiktokProperties struct {
	Value       float64         `json:"value"`
	Currency    string          `json:"currency"`
	ContentType string          `json:"content_type"`
	Contents    []tiktokContent `json:"contents"`
}

type tiktokRequest struct {
	PixelCode     string           `json:"pixel_code"`
	Event         string           `json:"event"`
	EventID       string           `json:"event_id"`
	Timestamp     string           `json:"timestamp"`
	Context       tiktokContext    `json:"context"`
	Properties    tiktokProperties `json:"properties"`
	TestEventCode string           `json:"test_event_code,omitempty"`
}

type tiktokResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *TikTokClient) buildPayload(ev ConversionEvent) tiktokRequest {
	planName := utils.FirstNonEmpty(ev.PlanName, utils.DefaultPlanName)
	ctxData := tiktokContext{
		Page: tiktokPage{URL: utils.FirstNonEmpty(ev.Click.LandingPage, utils.DefaultLandingPage)},
		User: tiktokUser{
			ExternalID:  HashValue(ev.Click.ClickID),
			Email:       HashEmail(ev.User.Email),
			PhoneNumber: HashPhone(ev.User.Phone),
		},
		IP:        ev.User.IP,
		UserAgent: ev.User.UserAgent,
	}
	if ev.Click.TTCLID != "" {
		ctxData.Ad = &tiktokAd{Callback: ev.Click.TTCLID}
	}
	req := tiktokRequest{
		PixelCode: ev.Pixel.PixelID,
		Event:     ev.EventName,
		EventID:   ev.EventID,
		Timestamp: ev.EventTime.UTC().Format(time.RFC3339),
		Context:   ctxData,
		Properties: tiktokProperties{
			Value:       ev.Amount.Major,
			Currency:    ev.Amount.Currency,
			ContentType: "product",
			Contents: []tiktokContent{{
				ContentID:   tiktokContentID,
				ContentName: planName,
				Price:       ev.Amount.Major,
				Quantity:    1,
			}},
		},
	}
	if ev.Test != nil {
		req.TestEventCode = ev.Test.EventCode
	}
	return req
}

// Send posts the event; TikTok answers 200 with a non-zero code on rejection, which is reported as a failure
func (c *TikTokClient) Send(ctx context.Context, ev ConversionEvent) (*SendResult, error) {
	headers := map[string]string{"Access-Token": ev.Pixel.AccessToken}
	res, err := postJSON(ctx, c.HTTPClient, c.Platform(), c.APIURL, headers, c.buildPayload(ev))
	if err != nil {
		return res, err
	}
	var out tiktokResponse
	if json.Unmarshal([]byte(res.Body), &out) == nil && out.Code != 0 {
		return res, &PlatformError{Platform: c.Platform(), StatusCode: res.StatusCode, Body: res.Body}
	}
	return res, nil
}
