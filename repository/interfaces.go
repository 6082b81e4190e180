// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/conversion-relay/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// Transactor runs a function inside one database transaction.
// Repositories called with the derived context join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ClickRepository defines operations for click records
type ClickRepository interface {
	Repository[models.Click, models.ClickFilter]
	// SaveIfAbsent inserts the click unless its click_id exists; created is false for duplicates
	SaveIfAbsent(ctx context.Context, click *models.Click) (created bool, err error)
	ByClickID(ctx context.Context, clickID string) (*models.Click, error)
	ByClickIDWithTTCLID(ctx context.Context, clickID string) (*models.Click, error)
	LatestByFacebookIDs(ctx context.Context, fbc, fbp string) (*models.Click, error)
	LatestBySubstring(ctx context.Context, token string) (*models.Click, error)
	LatestByPriorSale(ctx context.Context, tokens []string) (*models.Click, error)
	LatestByIPWindow(ctx context.Context, ip string, from, to time.Time) (*models.Click, error)
	DeleteReceivedBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error)
}

// SaleUpsertOptions tunes the merge rule of SaleRepository.Upsert
type SaleUpsertOptions struct {
	// MonotonicStatus keeps status and approved_at when the incoming status ranks lower
	MonotonicStatus bool
}

// SaleUpsertResult is the merged row and whether it was newly created
type SaleUpsertResult struct {
	Sale     *models.Sale
	Inserted bool
}

// SaleRepository defines operations for sales
type SaleRepository interface {
	Repository[models.Sale, models.SaleFilter]
	Upsert(ctx context.Context, sale *models.Sale, opts SaleUpsertOptions) (*SaleUpsertResult, error)
	BySaleCode(ctx context.Context, saleCode string) (*models.Sale, error)
	MarkSent(ctx context.Context, saleCode string, platform models.Platform) error
}

// PixelConfigRepository defines operations for ad-platform pixels
type PixelConfigRepository interface {
	Repository[models.PixelConfig, models.PixelConfigFilter]
	// ListActive returns active pixels, optionally restricted to one platform
	ListActive(ctx context.Context, platform *models.Platform) ([]*models.PixelConfig, error)
	ByPlatformAndPixelID(ctx context.Context, platform models.Platform, pixelID string) (*models.PixelConfig, error)
	// Upsert creates or updates the pixel and always reactivates it
	Upsert(ctx context.Context, pixel *models.PixelConfig) (*models.PixelConfig, error)
	// Deactivate soft-deletes the pixel; found is false when no row matched
	Deactivate(ctx context.Context, platform models.Platform, pixelID string) (found bool, err error)
}

// ClaimResult reports the outcome of ConversionDispatchRepository.Claim.
// When Claimed is false, Dispatch is the existing row that blocked the claim.
type ClaimResult struct {
	Dispatch *models.ConversionDispatch
	Claimed  bool
}

// ConversionDispatchRepository defines operations for the dispatch dedupe log
type ConversionDispatchRepository interface {
	Repository[models.ConversionDispatch, models.ConversionDispatchFilter]
	// Claim atomically acquires the right to send for the row's key.
	// Failed rows and pending rows claimed before staleBefore can be re-claimed; sent rows never.
	Claim(ctx context.Context, dispatch *models.ConversionDispatch, staleBefore time.Time) (*ClaimResult, error)
	MarkSent(ctx context.Context, id uint, responseStatus int) error
	MarkFailed(ctx context.Context, id uint, responseStatus *int, errMsg string) error
	ByKey(ctx context.Context, key models.DispatchKey) (*models.ConversionDispatch, error)
	ListFailed(ctx context.Context, limit, offset int) ([]*models.ConversionDispatch, error)
	CountByStatus(ctx context.Context) (map[models.DispatchStatus]int64, error)
}

// ProcessedMessageRepository defines operations for chat message dedupe
type ProcessedMessageRepository interface {
	Repository[models.ProcessedMessage, any]
	// InsertIfAbsent records the message hash; created is false when it was already processed
	InsertIfAbsent(ctx context.Context, msg *models.ProcessedMessage) (created bool, err error)
	ByHash(ctx context.Context, hash string) (*models.ProcessedMessage, error)
	// DeleteByHash releases a hash so a failed message can be delivered again
	DeleteByHash(ctx context.Context, hash string) error
}

// WebhookEventRepository defines operations for the inbound webhook audit log
type WebhookEventRepository interface {
	Repository[models.WebhookEvent, any]
	MarkProcessed(ctx context.Context, id uint, processingErr error) error
}
