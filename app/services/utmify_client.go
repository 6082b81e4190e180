package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
)

// UTMifyClient forwards orders to the UTMify sales aggregator
type UTMifyClient struct {
	APIURL     string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewUTMifyClient(apiURL, apiKey string, timeout time.Duration) *UTMifyClient {
	client := newHTTPClient(timeout)
	return &UTMifyClient{APIURL: apiURL, APIKey: apiKey, HTTPClient: client, Timeout: client.Timeout}
}

func (c *UTMifyClient) Platform() models.Platform { return models.PlatformUTMify }

type utmifyCustomer struct {
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Document *string `json:"document"`
	Country  string  `json:"country"`
	IP       *string `json:"ip"`
}

type utmifyProduct struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	PlanID       *string `json:"planId"`
	PlanName     *string `json:"planName"`
	Quantity     int     `json:"quantity"`
	PriceInCents int64   `json:"priceInCents"`
}

type utmifyTracking struct {
	Src         *string `json:"src"`
	Sck         *string `json:"sck"`
	UTMSource   *string `json:"utm_source"`
	UTMCampaign *string `json:"utm_campaign"`
	UTMMedium   *string `json:"utm_medium"`
	UTMContent  *string `json:"utm_content"`
	UTMTerm     *string `json:"utm_term"`
}

type utmifyCommission struct {
	TotalPriceInCents     int64  `json:"totalPriceInCents"`
	GatewayFeeInCents     int64  `json:"gatewayFeeInCents"`
	UserCommissionInCents int64  `json:"userCommissionInCents"`
	Currency              string `json:"currency"`
}

type utmifyOrder struct {
	OrderID            string           `json:"orderId"`
	Platform           string           `json:"platform"`
	PaymentMethod      string           `json:"paymentMethod"`
	Status             string           `json:"status"`
	CreatedAt          string           `json:"createdAt"`
	ApprovedDate       *string          `json:"approvedDate"`
	RefundedAt         *string          `json:"refundedAt"`
	Customer           utmifyCustomer   `json:"customer"`
	Products           []utmifyProduct  `json:"products"`
	TrackingParameters utmifyTracking   `json:"trackingParameters"`
	Commission         utmifyCommission `json:"commission"`
	IsTest             bool             `json:"isTest"`
}

func (c *UTMifyClient) buildPayload(ev ConversionEvent) utmifyOrder {
	planName := utils.FirstNonEmpty(ev.PlanName, utils.DefaultPlanName)
	cents := ev.Amount.Minor
	order := utmifyOrder{
		OrderID:       ev.SaleCode,
		Platform:      utils.FirstNonEmpty(ev.PaymentPlatform, "relay"),
		PaymentMethod: paymentMethod(ev.PaymentMethod),
		Status:        ev.EventName,
		CreatedAt:     utils.FormatSQLDateTime(ev.CreatedAt),
		Customer: utmifyCustomer{
			Name:     utils.FirstNonEmpty(ev.User.Name, "Cliente"),
			Email:    utils.FirstNonEmpty(ev.User.Email, utils.DefaultAggregatorEmail),
			Phone:    utils.NilIfEmpty(utils.OnlyDigits(ev.User.Phone)),
			Document: utils.NilIfEmpty(utils.OnlyDigits(ev.User.Document)),
			Country:  "BR",
			IP:       utils.NilIfEmpty(ev.User.IP),
		},
		Products: []utmifyProduct{{
			ID:           tiktokContentID,
			Name:         planName,
			PlanName:     utils.ToPtr(planName),
			Quantity:     1,
			PriceInCents: cents,
		}},
		TrackingParameters: utmifyTracking{
			Src:         utils.NilIfEmpty(ev.Click.ClickID),
			UTMSource:   utils.NilIfEmpty(ev.Click.UTMSource),
			UTMCampaign: utils.NilIfEmpty(ev.Click.UTMCampaign),
			UTMMedium:   utils.NilIfEmpty(ev.Click.UTMMedium),
			UTMContent:  utils.NilIfEmpty(ev.Click.UTMContent),
			UTMTerm:     utils.NilIfEmpty(ev.Click.UTMTerm),
		},
		Commission: utmifyCommission{
			TotalPriceInCents:     cents,
			UserCommissionInCents: cents,
			Currency:              ev.Amount.Currency,
		},
		IsTest: ev.Test != nil,
	}
	if ev.ApprovedAt != nil {
		order.ApprovedDate = utils.ToPtr(utils.FormatSQLDateTime(*ev.ApprovedAt))
	}
	return order
}

func (c *UTMifyClient) Send(ctx context.Context, ev ConversionEvent) (*SendResult, error) {
	headers := map[string]string{"x-api-token": c.APIKey}
	return postJSON(ctx, c.HTTPClient, c.Platform(), c.APIURL, headers, c.buildPayload(ev))
}

// paymentMethod maps free-form gateway labels onto the aggregator enum; pix is the fallback
func paymentMethod(raw string) string {
	m := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(m, "cart"), strings.Contains(m, "card"), strings.Contains(m, "credit"):
		return "credit_card"
	case strings.Contains(m, "boleto"), strings.Contains(m, "billet"):
		return "boleto"
	case m == "free":
		return "free_price"
	}
	return "pix"
}
