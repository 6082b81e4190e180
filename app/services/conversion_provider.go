package services

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/conversion-relay/models"
)

// Amount is a monetary value in both unit systems; callers fill it from a major-unit value
type Amount struct {
	Major    float64
	Minor    int64
	Currency string
}

// ConversionUser carries raw customer data; clients hash what their platform requires
type ConversionUser struct {
	Name       string
	Email      string
	Phone      string
	Document   string
	ExternalID string
	IP         string
	UserAgent  string
}

// ConversionClick carries the attribution data of the matched click
type ConversionClick struct {
	ClickID     string
	FBC         string
	FBP         string
	TTCLID      string
	KwaiClickID string
	LandingPage string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMContent  string
	UTMTerm     string
}

// ConversionPixel identifies the destination pixel and its credentials
type ConversionPixel struct {
	PixelID       string
	AccessToken   string
	EventSourceID string
}

// TestMarker flags an event as a platform test send
type TestMarker struct {
	EventCode string
}

// ConversionEvent is one conversion addressed to one destination.
// Test is nil for production traffic.
type ConversionEvent struct {
	EventName       string
	EventID         string
	EventTime       time.Time
	SaleCode        string
	SaleStatus      models.SaleStatus
	PlanName        string
	PaymentMethod   string
	PaymentPlatform string
	CreatedAt       time.Time
	ApprovedAt      *time.Time
	Amount          Amount
	User            ConversionUser
	Click           ConversionClick
	Pixel           ConversionPixel
	Test            *TestMarker
}

// SendResult is the destination's answer to a delivered event
type SendResult struct {
	StatusCode int
	Body       string
}

// PlatformError is a rejected or failed delivery
type PlatformError struct {
	Platform   models.Platform
	StatusCode int
	Body       string
}

func (e *PlatformError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Platform, e.Body)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Platform, e.StatusCode, e.Body)
}

// ConversionSender delivers conversion events to one destination
type ConversionSender interface {
	Platform() models.Platform
	Send(ctx context.Context, ev ConversionEvent) (*SendResult, error)
}
