package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClickRepositoryImpl implements ClickRepository
type ClickRepositoryImpl struct {
	*BaseRepository[models.Click, models.ClickFilter]
}

func NewClickRepository(db *gorm.DB) ClickRepository {
	return &ClickRepositoryImpl{BaseRepository: NewBaseRepository[models.Click, models.ClickFilter](db)}
}

func (r *ClickRepositoryImpl) SaveIfAbsent(ctx context.Context, click *models.Click) (bool, error) {
	db := r.getDB(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "click_id"}},
		DoNothing: true,
	}).Create(click)
	if res.Error != nil {
		return false, fmt.Errorf("failed to save click %s: %w", click.ClickID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *ClickRepositoryImpl) ByClickID(ctx context.Context, clickID string) (*models.Click, error) {
	row, err := first[models.Click](r.getDB(ctx).Where("click_id = ?", clickID))
	if err != nil {
		return nil, fmt.Errorf("failed to find click %s: %w", clickID, err)
	}
	return row, nil
}

func (r *ClickRepositoryImpl) ByClickIDWithTTCLID(ctx context.Context, clickID string) (*models.Click, error) {
	query := r.getDB(ctx).
		Where("click_id = ?", clickID).
		Where("ttclid IS NOT NULL AND ttclid <> ''")
	row, err := first[models.Click](query)
	if err != nil {
		return nil, fmt.Errorf("failed to find click %s with ttclid: %w", clickID, err)
	}
	return row, nil
}

func (r *ClickRepositoryImpl) LatestByFacebookIDs(ctx context.Context, fbc, fbp string) (*models.Click, error) {
	fbc, fbp = strings.TrimSpace(fbc), strings.TrimSpace(fbp)
	if fbc == "" && fbp == "" {
		return nil, nil
	}

	query := r.getDB(ctx)
	switch {
	case fbc != "" && fbp != "":
		query = query.Where("fbc = ? OR fbp = ?", fbc, fbp)
	case fbc != "":
		query = query.Where("fbc = ?", fbc)
	default:
		query = query.Where("fbp = ?", fbp)
	}
	row, err := first[models.Click](query.Order("received_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to find click by facebook ids: %w", err)
	}
	return row, nil
}

func (r *ClickRepositoryImpl) LatestBySubstring(ctx context.Context, token string) (*models.Click, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(token) + "%"
	query := r.getDB(ctx).
		Where(`click_id LIKE ? ESCAPE '\' OR utm_content LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("received_at DESC")
	row, err := first[models.Click](query)
	if err != nil {
		return nil, fmt.Errorf("failed to find click by substring: %w", err)
	}
	return row, nil
}

func (r *ClickRepositoryImpl) LatestByPriorSale(ctx context.Context, tokens []string) (*models.Click, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	query := r.getDB(ctx).Model(&models.Click{}).
		Joins("JOIN sales ON sales.click_id = clicks.click_id").
		Where("sales.sale_code = ANY(?) OR sales.transaction_id = ANY(?)", pq.Array(tokens), pq.Array(tokens)).
		Order("sales.updated_at DESC").
		Order("clicks.received_at DESC").
		Select("clicks.*")
	row, err := first[models.Click](query)
	if err != nil {
		return nil, fmt.Errorf("failed to find click through prior sale: %w", err)
	}
	return row, nil
}

func (r *ClickRepositoryImpl) LatestByIPWindow(ctx context.Context, ip string, from, to time.Time) (*models.Click, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, nil
	}
	query := r.getDB(ctx).
		Where("ip = ?", ip).
		Where("received_at >= ? AND received_at <= ?", from, to).
		Order("(ttclid IS NOT NULL AND ttclid <> '') DESC").
		Order("((fbc IS NOT NULL AND fbc <> '') OR (fbp IS NOT NULL AND fbp <> '')) DESC").
		Order("received_at DESC")
	row, err := first[models.Click](query)
	if err != nil {
		return nil, fmt.Errorf("failed to find click by ip window: %w", err)
	}
	return row, nil
}

func (r *ClickRepositoryImpl) DeleteReceivedBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error) {
	if batch <= 0 {
		batch = 1000
	}
	var clickIDs []string
	err := r.getDB(ctx).Raw(`
		DELETE FROM clicks
		WHERE id IN (
			SELECT id FROM clicks WHERE received_at < ? ORDER BY id LIMIT ?
		)
		RETURNING click_id`, cutoff, batch).Scan(&clickIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to delete clicks received before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return clickIDs, nil
}

func (r *ClickRepositoryImpl) applyFilter(db *gorm.DB, f models.ClickFilter) *gorm.DB {
	if f.ClickID != nil {
		db = db.Where("click_id = ?", *f.ClickID)
	}
	if f.IP != nil {
		db = db.Where("ip = ?", *f.IP)
	}
	if f.UTMSource != nil {
		db = db.Where("utm_source = ?", *f.UTMSource)
	}
	if f.UTMCampaign != nil {
		db = db.Where("utm_campaign = ?", *f.UTMCampaign)
	}
	if f.TTCLID != nil {
		db = db.Where("ttclid = ?", *f.TTCLID)
	}
	if f.ReceivedAfter != nil {
		db = db.Where("received_at >= ?", *f.ReceivedAfter)
	}
	if f.ReceivedBefore != nil {
		db = db.Where("received_at < ?", *f.ReceivedBefore)
	}
	return db
}

func (r *ClickRepositoryImpl) ByFilter(ctx context.Context, filter models.ClickFilter, orderBy string, limit, offset int) ([]*models.Click, error) {
	db := r.getDB(ctx)
	query := page(r.applyFilter(db.Model(&models.Click{}), filter), orderBy, limit, offset)
	var rows []*models.Click
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ClickRepositoryImpl) Count(ctx context.Context, filter models.ClickFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Click{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ClickRepositoryImpl) Exists(ctx context.Context, filter models.ClickFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// escapeLike neutralises LIKE wildcards so the token matches literally
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
