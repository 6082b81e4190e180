package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"gorm.io/gorm"
)

// ConversionDispatchRepositoryImpl implements ConversionDispatchRepository
type ConversionDispatchRepositoryImpl struct {
	*BaseRepository[models.ConversionDispatch, models.ConversionDispatchFilter]
}

func NewConversionDispatchRepository(db *gorm.DB) ConversionDispatchRepository {
	return &ConversionDispatchRepositoryImpl{BaseRepository: NewBaseRepository[models.ConversionDispatch, models.ConversionDispatchFilter](db)}
}

// claimSQL inserts a pending row or takes over a failed or abandoned one.
// A conflicting row that fails the WHERE guard yields no RETURNING row.
const claimSQL = `
INSERT INTO conversion_dispatches
	(attribution_key, sale_code, platform, pixel_id, event_name, mode, status, attempts, claimed_at, created_at, updated_at)
VALUES
	(@attribution_key, @sale_code, @platform, @pixel_id, @event_name, @mode, 'pending', 1, @now, @now, @now)
ON CONFLICT (attribution_key, platform, pixel_id, event_name) DO UPDATE SET
	status = 'pending',
	attempts = conversion_dispatches.attempts + 1,
	claimed_at = EXCLUDED.claimed_at,
	last_error = NULL,
	updated_at = EXCLUDED.updated_at
WHERE conversion_dispatches.status = 'failed'
	OR (conversion_dispatches.status = 'pending' AND conversion_dispatches.claimed_at < @stale_before)
RETURNING *`

func (r *ConversionDispatchRepositoryImpl) Claim(ctx context.Context, dispatch *models.ConversionDispatch, staleBefore time.Time) (*ClaimResult, error) {
	mode := dispatch.Mode
	if mode == "" {
		mode = models.DispatchModeProduction
	}
	args := map[string]any{
		"attribution_key": dispatch.AttributionKey,
		"sale_code":       dispatch.SaleCode,
		"platform":        string(dispatch.Platform),
		"pixel_id":        dispatch.PixelID,
		"event_name":      dispatch.EventName,
		"mode":            string(mode),
		"now":             utils.UTCNow(),
		"stale_before":    staleBefore.UTC(),
	}

	db := r.getDB(ctx)
	var claimed []models.ConversionDispatch
	if err := db.Raw(claimSQL, args).Scan(&claimed).Error; err != nil {
		return nil, fmt.Errorf("failed to claim dispatch %s/%s/%s: %w", dispatch.AttributionKey, dispatch.Platform, dispatch.EventName, err)
	}
	if len(claimed) == 1 {
		return &ClaimResult{Dispatch: &claimed[0], Claimed: true}, nil
	}

	existing, err := r.ByKey(ctx, dispatch.Key())
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("dispatch %s/%s/%s neither claimed nor found", dispatch.AttributionKey, dispatch.Platform, dispatch.EventName)
	}
	return &ClaimResult{Dispatch: existing, Claimed: false}, nil
}

func (r *ConversionDispatchRepositoryImpl) MarkSent(ctx context.Context, id uint, responseStatus int) error {
	now := utils.UTCNow()
	err := r.getDB(ctx).Model(&models.ConversionDispatch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          models.DispatchStatusSent,
			"sent_at":         now,
			"response_status": responseStatus,
			"last_error":      nil,
			"updated_at":      now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark dispatch %d sent: %w", id, err)
	}
	return nil
}

func (r *ConversionDispatchRepositoryImpl) MarkFailed(ctx context.Context, id uint, responseStatus *int, errMsg string) error {
	err := r.getDB(ctx).Model(&models.ConversionDispatch{}).
		Where("id = ? AND status <> ?", id, models.DispatchStatusSent).
		Updates(map[string]any{
			"status":          models.DispatchStatusFailed,
			"response_status": responseStatus,
			"last_error":      errMsg,
			"updated_at":      utils.UTCNow(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark dispatch %d failed: %w", id, err)
	}
	return nil
}

func (r *ConversionDispatchRepositoryImpl) ByKey(ctx context.Context, key models.DispatchKey) (*models.ConversionDispatch, error) {
	query := r.getDB(ctx).Where(
		"attribution_key = ? AND platform = ? AND pixel_id = ? AND event_name = ?",
		key.AttributionKey, key.Platform, key.PixelID, key.EventName,
	)
	row, err := first[models.ConversionDispatch](query)
	if err != nil {
		return nil, fmt.Errorf("failed to find dispatch %s/%s/%s: %w", key.AttributionKey, key.Platform, key.EventName, err)
	}
	return row, nil
}

func (r *ConversionDispatchRepositoryImpl) ListFailed(ctx context.Context, limit, offset int) ([]*models.ConversionDispatch, error) {
	failed := models.DispatchStatusFailed
	return r.ByFilter(ctx, models.ConversionDispatchFilter{Status: &failed}, "updated_at DESC, id DESC", limit, offset)
}

func (r *ConversionDispatchRepositoryImpl) CountByStatus(ctx context.Context) (map[models.DispatchStatus]int64, error) {
	var rows []struct {
		Status models.DispatchStatus
		Total  int64
	}
	err := r.getDB(ctx).Model(&models.ConversionDispatch{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatches by status: %w", err)
	}
	counts := make(map[models.DispatchStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *ConversionDispatchRepositoryImpl) applyFilter(db *gorm.DB, f models.ConversionDispatchFilter) *gorm.DB {
	if f.SaleCode != nil {
		db = db.Where("sale_code = ?", *f.SaleCode)
	}
	if f.Platform != nil {
		db = db.Where("platform = ?", *f.Platform)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.Mode != nil {
		db = db.Where("mode = ?", *f.Mode)
	}
	return db
}

func (r *ConversionDispatchRepositoryImpl) ByFilter(ctx context.Context, filter models.ConversionDispatchFilter, orderBy string, limit, offset int) ([]*models.ConversionDispatch, error) {
	db := r.getDB(ctx)
	query := page(r.applyFilter(db.Model(&models.ConversionDispatch{}), filter), orderBy, limit, offset)
	var rows []*models.ConversionDispatch
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ConversionDispatchRepositoryImpl) Count(ctx context.Context, filter models.ConversionDispatchFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.ConversionDispatch{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ConversionDispatchRepositoryImpl) Exists(ctx context.Context, filter models.ConversionDispatchFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
