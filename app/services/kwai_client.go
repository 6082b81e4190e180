package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
)

// KwaiClient reports conversions to the Kwai ads event API
type KwaiClient struct {
	APIURL     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewKwaiClient(apiURL string, timeout time.Duration) *KwaiClient {
	client := newHTTPClient(timeout)
	return &KwaiClient{APIURL: apiURL, HTTPClient: client, Timeout: client.Timeout}
}

func (c *KwaiClient) Platform() models.Platform { return models.PlatformKwai }

type kwaiProperties struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

type kwaiRequest struct {
	AccessToken     string `json:"access_token"`
	ClickID         string `json:"clickid"`
	EventName       string `json:"event_name"`
	PixelID         string `json:"pixelId"`
	TestFlag        bool   `json:"testFlag,omitempty"`
	TrackFlag       bool   `json:"trackFlag"`
	IsAttributed    int    `json:"is_attributed"`
	MMPCode         string `json:"mmpcode"`
	PixelSDKVersion string `json:"pixelSdkVersion"`
	Properties      string `json:"properties"`
}

type kwaiResponse struct {
	Result *int   `json:"result"`
	Msg    string `json:"error_msg"`
}

func (c *KwaiClient) buildPayload(ev ConversionEvent) (kwaiRequest, error) {
	props, err := json.Marshal(kwaiProperties{Value: ev.Amount.Major, Currency: ev.Amount.Currency})
	if err != nil {
		return kwaiRequest{}, err
	}
	return kwaiRequest{
		AccessToken:     ev.Pixel.AccessToken,
		ClickID:         utils.FirstNonEmpty(ev.Click.KwaiClickID, ev.Click.ClickID),
		EventName:       ev.EventName,
		PixelID:         ev.Pixel.PixelID,
		TestFlag:        ev.Test != nil,
		IsAttributed:    1,
		MMPCode:         "PL",
		PixelSDKVersion: "9.9.9",
		Properties:      string(props),
	}, nil
}

func (c *KwaiClient) Send(ctx context.Context, ev ConversionEvent) (*SendResult, error) {
	payload, err := c.buildPayload(ev)
	if err != nil {
		return nil, err
	}
	res, err := postJSON(ctx, c.HTTPClient, c.Platform(), c.APIURL, nil, payload)
	if err != nil {
		return res, err
	}
	var out kwaiResponse
	if json.Unmarshal([]byte(res.Body), &out) == nil && out.Result != nil && *out.Result != 1 {
		return res, &PlatformError{Platform: c.Platform(), StatusCode: res.StatusCode, Body: res.Body}
	}
	return res, nil
}
