package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/conversion-relay/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessedMessageRepositoryImpl implements ProcessedMessageRepository
type ProcessedMessageRepositoryImpl struct {
	*BaseRepository[models.ProcessedMessage, any]
}

func NewProcessedMessageRepository(db *gorm.DB) ProcessedMessageRepository {
	return &ProcessedMessageRepositoryImpl{BaseRepository: NewBaseRepository[models.ProcessedMessage, any](db)}
}

func (r *ProcessedMessageRepositoryImpl) InsertIfAbsent(ctx context.Context, msg *models.ProcessedMessage) (bool, error) {
	res := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		DoNothing: true,
	}).Create(msg)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record processed message %s: %w", msg.TransactionID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ProcessedMessageRepositoryImpl) ByHash(ctx context.Context, hash string) (*models.ProcessedMessage, error) {
	return first[models.ProcessedMessage](r.getDB(ctx).Where("hash = ?", hash))
}

func (r *ProcessedMessageRepositoryImpl) DeleteByHash(ctx context.Context, hash string) error {
	if err := r.getDB(ctx).Where("hash = ?", hash).Delete(&models.ProcessedMessage{}).Error; err != nil {
		return fmt.Errorf("failed to release processed message %s: %w", hash, err)
	}
	return nil
}

// ByFilter: no filter fields, just order/limit/offset
func (r *ProcessedMessageRepositoryImpl) ByFilter(ctx context.Context, _ any, orderBy string, limit, offset int) ([]*models.ProcessedMessage, error) {
	query := page(r.getDB(ctx).Model(&models.ProcessedMessage{}), orderBy, limit, offset)
	var rows []*models.ProcessedMessage
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProcessedMessageRepositoryImpl) Count(ctx context.Context, _ any) (int64, error) {
	var count int64
	if err := r.getDB(ctx).Model(&models.ProcessedMessage{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ProcessedMessageRepositoryImpl) Exists(ctx context.Context, filter any) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
