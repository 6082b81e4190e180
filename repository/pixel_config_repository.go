package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PixelConfigRepositoryImpl implements PixelConfigRepository
type PixelConfigRepositoryImpl struct {
	*BaseRepository[models.PixelConfig, models.PixelConfigFilter]
}

func NewPixelConfigRepository(db *gorm.DB) PixelConfigRepository {
	return &PixelConfigRepositoryImpl{BaseRepository: NewBaseRepository[models.PixelConfig, models.PixelConfigFilter](db)}
}

func (r *PixelConfigRepositoryImpl) ListActive(ctx context.Context, platform *models.Platform) ([]*models.PixelConfig, error) {
	active := true
	rows, err := r.ByFilter(ctx, models.PixelConfigFilter{Platform: platform, IsActive: &active}, "platform ASC, id ASC", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pixels: %w", err)
	}
	return rows, nil
}

func (r *PixelConfigRepositoryImpl) ByPlatformAndPixelID(ctx context.Context, platform models.Platform, pixelID string) (*models.PixelConfig, error) {
	rows, err := r.ByFilter(ctx, models.PixelConfigFilter{Platform: &platform, PixelID: &pixelID}, "id DESC", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *PixelConfigRepositoryImpl) Upsert(ctx context.Context, pixel *models.PixelConfig) (*models.PixelConfig, error) {
	now := utils.UTCNow()
	pixel.IsActive = true
	pixel.CreatedAt = now
	pixel.UpdatedAt = now

	db := r.getDB(ctx)
	err := db.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "platform"}, {Name: "pixel_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"name":            clause.Expr{SQL: "EXCLUDED.name"},
				"access_token":    clause.Expr{SQL: "EXCLUDED.access_token"},
				"event_source_id": clause.Expr{SQL: "EXCLUDED.event_source_id"},
				"test_event_code": clause.Expr{SQL: "EXCLUDED.test_event_code"},
				"is_active":       true,
				"updated_at":      clause.Expr{SQL: "EXCLUDED.updated_at"},
			}),
		},
		clause.Returning{},
	).Create(pixel).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s pixel %s: %w", pixel.Platform, pixel.PixelID, err)
	}
	return pixel, nil
}

func (r *PixelConfigRepositoryImpl) Deactivate(ctx context.Context, platform models.Platform, pixelID string) (bool, error) {
	res := r.getDB(ctx).Model(&models.PixelConfig{}).
		Where("platform = ? AND pixel_id = ?", platform, pixelID).
		Updates(map[string]any{"is_active": false, "updated_at": utils.UTCNow()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to deactivate %s pixel %s: %w", platform, pixelID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *PixelConfigRepositoryImpl) applyFilter(db *gorm.DB, f models.PixelConfigFilter) *gorm.DB {
	if f.Platform != nil {
		db = db.Where("platform = ?", *f.Platform)
	}
	if f.PixelID != nil {
		db = db.Where("pixel_id = ?", *f.PixelID)
	}
	if f.IsActive != nil {
		db = db.Where("is_active = ?", *f.IsActive)
	}
	return db
}

func (r *PixelConfigRepositoryImpl) ByFilter(ctx context.Context, filter models.PixelConfigFilter, orderBy string, limit, offset int) ([]*models.PixelConfig, error) {
	db := r.getDB(ctx)
	query := page(r.applyFilter(db.Model(&models.PixelConfig{}), filter), orderBy, limit, offset)
	var rows []*models.PixelConfig
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PixelConfigRepositoryImpl) Count(ctx context.Context, filter models.PixelConfigFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.PixelConfig{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PixelConfigRepositoryImpl) Exists(ctx context.Context, filter models.PixelConfigFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
