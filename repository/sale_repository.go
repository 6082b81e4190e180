package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"gorm.io/gorm"
)

// saleColumn describes how one column behaves when an upsert hits an existing sale
type saleColumn struct {
	name  string
	merge saleMerge
}

type saleMerge int

const (
	mergeText   saleMerge = iota // keep the stored value when the incoming one is NULL or ''
	mergeValue                   // keep the stored value when the incoming one is NULL
	mergeStatus                  // refreshed from the event, optionally rank guarded
	mergeCreate                  // written on insert only
)

var saleUpsertColumns = []saleColumn{
	{"sale_code", mergeCreate},
	{"transaction_id", mergeText},
	{"click_id", mergeText},
	{"customer_name", mergeText},
	{"customer_email", mergeText},
	{"customer_phone", mergeText},
	{"customer_document", mergeText},
	{"plan_name", mergeText},
	{"plan_value", mergeValue},
	{"currency", mergeText},
	{"payment_platform", mergeText},
	{"payment_method", mergeText},
	{"status", mergeStatus},
	{"ip", mergeText},
	{"user_agent", mergeText},
	{"utm_source", mergeText},
	{"utm_medium", mergeText},
	{"utm_campaign", mergeText},
	{"utm_content", mergeText},
	{"utm_term", mergeText},
	{"utm_id", mergeText},
	{"fbc", mergeText},
	{"fbp", mergeText},
	{"ttclid", mergeText},
	{"attribution_step", mergeText},
	{"approved_at", mergeStatus},
	{"created_at", mergeCreate},
	{"updated_at", mergeValue},
}

var (
	saleUpsertSQL          = buildSaleUpsertSQL(false)
	saleUpsertMonotonicSQL = buildSaleUpsertSQL(true)
)

// statusRankSQL renders the lifecycle rank of a status column as a CASE expression
func statusRankSQL(col string) string {
	var b strings.Builder
	b.WriteString("(CASE ")
	b.WriteString(col)
	for _, st := range models.SaleStatuses {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", st, st.Rank())
	}
	b.WriteString(" ELSE -1 END)")
	return b.String()
}

func buildSaleUpsertSQL(monotonic bool) string {
	cols := make([]string, 0, len(saleUpsertColumns))
	params := make([]string, 0, len(saleUpsertColumns))
	sets := make([]string, 0, len(saleUpsertColumns))

	guard := fmt.Sprintf("%s >= %s", statusRankSQL("EXCLUDED.status"), statusRankSQL("sales.status"))

	for _, c := range saleUpsertColumns {
		cols = append(cols, c.name)
		params = append(params, "@"+c.name)

		switch c.merge {
		case mergeText:
			sets = append(sets, fmt.Sprintf("%[1]s = COALESCE(NULLIF(EXCLUDED.%[1]s, ''), sales.%[1]s)", c.name))
		case mergeValue:
			sets = append(sets, fmt.Sprintf("%[1]s = COALESCE(EXCLUDED.%[1]s, sales.%[1]s)", c.name))
		case mergeStatus:
			if monotonic {
				sets = append(sets, fmt.Sprintf("%[1]s = CASE WHEN %[2]s THEN EXCLUDED.%[1]s ELSE sales.%[1]s END", c.name, guard))
			} else {
				sets = append(sets, fmt.Sprintf("%[1]s = EXCLUDED.%[1]s", c.name))
			}
		}
	}

	return fmt.Sprintf(`INSERT INTO sales (%s) VALUES (%s)
ON CONFLICT (sale_code) DO UPDATE SET %s
RETURNING sales.*, (xmax = 0) AS inserted`,
		strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(sets, ", "))
}

// SaleRepositoryImpl implements SaleRepository
type SaleRepositoryImpl struct {
	*BaseRepository[models.Sale, models.SaleFilter]
}

func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &SaleRepositoryImpl{BaseRepository: NewBaseRepository[models.Sale, models.SaleFilter](db)}
}

type saleUpsertRow struct {
	models.Sale
	Inserted bool `gorm:"column:inserted"`
}

func (r *SaleRepositoryImpl) Upsert(ctx context.Context, sale *models.Sale, opts SaleUpsertOptions) (*SaleUpsertResult, error) {
	if strings.TrimSpace(sale.SaleCode) == "" {
		return nil, fmt.Errorf("sale code is required")
	}
	if !sale.Status.Valid() {
		return nil, fmt.Errorf("invalid sale status %q", sale.Status)
	}

	now := utils.UTCNow()
	currency := sale.Currency
	if currency == "" {
		currency = utils.DefaultCurrency
	}

	args := map[string]any{
		"sale_code":         sale.SaleCode,
		"transaction_id":    sale.TransactionID,
		"click_id":          sale.ClickID,
		"customer_name":     sale.CustomerName,
		"customer_email":    sale.CustomerEmail,
		"customer_phone":    sale.CustomerPhone,
		"customer_document": sale.CustomerDocument,
		"plan_name":         sale.PlanName,
		"plan_value":        sale.PlanValue,
		"currency":          currency,
		"payment_platform":  sale.PaymentPlatform,
		"payment_method":    sale.PaymentMethod,
		"status":            string(sale.Status),
		"ip":                sale.IP,
		"user_agent":        sale.UserAgent,
		"utm_source":        sale.UTMSource,
		"utm_medium":        sale.UTMMedium,
		"utm_campaign":      sale.UTMCampaign,
		"utm_content":       sale.UTMContent,
		"utm_term":          sale.UTMTerm,
		"utm_id":            sale.UTMID,
		"fbc":               sale.FBC,
		"fbp":               sale.FBP,
		"ttclid":            sale.TTCLID,
		"attribution_step":  sale.AttributionStep,
		"approved_at":       sale.ApprovedAt,
		"created_at":        now,
		"updated_at":        now,
	}

	query := saleUpsertSQL
	if opts.MonotonicStatus {
		query = saleUpsertMonotonicSQL
	}

	var row saleUpsertRow
	if err := r.getDB(ctx).Raw(query, args).Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert sale %s: %w", sale.SaleCode, err)
	}

	merged := row.Sale
	return &SaleUpsertResult{Sale: &merged, Inserted: row.Inserted}, nil
}

func (r *SaleRepositoryImpl) BySaleCode(ctx context.Context, saleCode string) (*models.Sale, error) {
	row, err := first[models.Sale](r.getDB(ctx).Where("sale_code = ?", saleCode))
	if err != nil {
		return nil, fmt.Errorf("failed to find sale %s: %w", saleCode, err)
	}
	return row, nil
}

func (r *SaleRepositoryImpl) MarkSent(ctx context.Context, saleCode string, platform models.Platform) error {
	column, ok := platform.SentFlagColumn()
	if !ok {
		return fmt.Errorf("no sent flag for platform %q", platform)
	}
	err := r.getDB(ctx).Model(&models.Sale{}).
		Where("sale_code = ?", saleCode).
		Updates(map[string]any{column: true, "updated_at": utils.UTCNow()}).Error
	if err != nil {
		return fmt.Errorf("failed to mark sale %s sent to %s: %w", saleCode, platform, err)
	}
	return nil
}

func (r *SaleRepositoryImpl) applyFilter(db *gorm.DB, f models.SaleFilter) *gorm.DB {
	if f.SaleCode != nil {
		db = db.Where("sale_code = ?", *f.SaleCode)
	}
	if f.TransactionID != nil {
		db = db.Where("transaction_id = ?", *f.TransactionID)
	}
	if f.ClickID != nil {
		db = db.Where("click_id = ?", *f.ClickID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *SaleRepositoryImpl) ByFilter(ctx context.Context, filter models.SaleFilter, orderBy string, limit, offset int) ([]*models.Sale, error) {
	db := r.getDB(ctx)
	query := page(r.applyFilter(db.Model(&models.Sale{}), filter), orderBy, limit, offset)
	var rows []*models.Sale
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SaleRepositoryImpl) Count(ctx context.Context, filter models.SaleFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.Sale{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *SaleRepositoryImpl) Exists(ctx context.Context, filter models.SaleFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}
