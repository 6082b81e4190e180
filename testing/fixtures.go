package testing

import (
	"fmt"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/google/uuid"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// NewClick builds an unsaved click with a random id received at the given time
func NewClick(receivedAt time.Time) *models.Click {
	id := "clk_" + uuid.NewString()[:12]
	return &models.Click{
		ClickID:     id,
		SessionID:   utils.ToPtr(fmt.Sprintf("%s%d", utils.SessionIDPrefix, receivedAt.UnixMilli())),
		TimestampMs: utils.ToPtr(receivedAt.UnixMilli()),
		ReceivedAt:  receivedAt.UTC(),
		IP:          utils.ToPtr("203.0.113.10"),
		UserAgent:   utils.ToPtr("Mozilla/5.0 (fixture)"),
		LandingPage: utils.ToPtr(utils.DefaultLandingPage),
	}
}

// NewSale builds an unsaved approved sale
func NewSale(saleCode string) *models.Sale {
	value := 49.90
	return &models.Sale{
		SaleCode:      saleCode,
		TransactionID: utils.ToPtr("tx_" + saleCode),
		CustomerName:  utils.ToPtr("Maria Silva"),
		CustomerEmail: utils.ToPtr("maria@example.com"),
		CustomerPhone: utils.ToPtr("+55 11 98888-7777"),
		PlanName:      utils.ToPtr(utils.DefaultPlanName),
		PlanValue:     &value,
		Currency:      utils.DefaultCurrency,
		Status:        models.SaleStatusApproved,
		ApprovedAt:    utils.UTCNowPtr(),
	}
}

// CreateClick persists a click built by NewClick after applying mutate
func (tf *TestFixtures) CreateClick(receivedAt time.Time, mutate func(*models.Click)) (*models.Click, error) {
	click := NewClick(receivedAt)
	if mutate != nil {
		mutate(click)
	}
	if err := tf.DB.DB.Create(click).Error; err != nil {
		return nil, fmt.Errorf("failed to create click fixture: %w", err)
	}
	return click, nil
}

// CreatePixel persists an active pixel for the platform
func (tf *TestFixtures) CreatePixel(platform models.Platform, pixelID string) (*models.PixelConfig, error) {
	pixel := &models.PixelConfig{
		Name:        fmt.Sprintf("%s %s", platform, pixelID),
		Platform:    platform,
		PixelID:     pixelID,
		AccessToken: "token_" + pixelID,
		IsActive:    true,
	}
	if err := tf.DB.DB.Create(pixel).Error; err != nil {
		return nil, fmt.Errorf("failed to create pixel fixture: %w", err)
	}
	return pixel, nil
}
