package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"gorm.io/gorm"
)

// WebhookEventRepositoryImpl implements WebhookEventRepository
type WebhookEventRepositoryImpl struct {
	*BaseRepository[models.WebhookEvent, any]
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &WebhookEventRepositoryImpl{BaseRepository: NewBaseRepository[models.WebhookEvent, any](db)}
}

func (r *WebhookEventRepositoryImpl) MarkProcessed(ctx context.Context, id uint, processingErr error) error {
	updates := map[string]any{"processed_at": utils.UTCNow(), "processing_error": nil}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	if err := r.getDB(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to mark webhook event %d processed: %w", id, err)
	}
	return nil
}

// ByFilter: no filter fields, just order/limit/offset
func (r *WebhookEventRepositoryImpl) ByFilter(ctx context.Context, _ any, orderBy string, limit, offset int) ([]*models.WebhookEvent, error) {
	query := page(r.getDB(ctx).Model(&models.WebhookEvent{}), orderBy, limit, offset)
	var rows []*models.WebhookEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *WebhookEventRepositoryImpl) Count(ctx context.Context, _ any) (int64, error) {
	var count int64
	if err := r.getDB(ctx).Model(&models.WebhookEvent{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *WebhookEventRepositoryImpl) Exists(ctx context.Context, filter any) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
