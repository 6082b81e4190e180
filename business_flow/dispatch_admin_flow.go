package businessflow

import (
	"context"
	"strconv"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	defaultFailedPageSize = 50
	exportFailedLimit     = 10000
)

// DispatchAdminFlow lets operators inspect and re-run conversion sends
type DispatchAdminFlow interface {
	// Redispatch re-resolves the sale's click and runs the dispatcher again.
	// Sends already recorded as sent are reported as such and not repeated.
	Redispatch(ctx context.Context, saleCode string, test bool) (*DispatchReport, error)
	ListFailed(ctx context.Context, req dto.ListFailedDispatchesRequest) (*dto.ListFailedDispatchesResponse, error)
	// ExportFailed returns an xlsx workbook of failed sends for manual reprocessing
	ExportFailed(ctx context.Context) (filename string, content []byte, err error)
}

type DispatchAdminFlowImpl struct {
	saleRepo     repository.SaleRepository
	dispatchRepo repository.ConversionDispatchRepository
	resolver     AttributionResolver
	dispatcher   ConversionDispatcher
	logger       logrus.FieldLogger
}

func NewDispatchAdminFlow(
	saleRepo repository.SaleRepository,
	dispatchRepo repository.ConversionDispatchRepository,
	resolver AttributionResolver,
	dispatcher ConversionDispatcher,
	logger logrus.FieldLogger,
) DispatchAdminFlow {
	return &DispatchAdminFlowImpl{
		saleRepo:     saleRepo,
		dispatchRepo: dispatchRepo,
		resolver:     resolver,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

func (f *DispatchAdminFlowImpl) Redispatch(ctx context.Context, saleCode string, test bool) (*DispatchReport, error) {
	if saleCode == "" {
		return nil, ErrSaleCodeRequired
	}
	sale, err := f.saleRepo.BySaleCode(ctx, saleCode)
	if err != nil {
		return nil, NewBusinessError("SALE_LOOKUP_FAILED", "Failed to lookup sale", err)
	}
	if sale == nil {
		return nil, ErrSaleNotFound
	}

	eventTime := sale.CreatedAt
	if sale.ApprovedAt != nil {
		eventTime = *sale.ApprovedAt
	}
	var click *models.Click
	match, err := f.resolver.Resolve(ctx, AttributionQuery{
		Tokens:    []string{utils.Deref(sale.ClickID), utils.Deref(sale.UTMID), sale.SaleCode, utils.Deref(sale.TransactionID)},
		SaleCode:  sale.SaleCode,
		FBC:       utils.Deref(sale.FBC),
		FBP:       utils.Deref(sale.FBP),
		IP:        utils.Deref(sale.IP),
		EventTime: eventTime,
	})
	if err != nil {
		f.logger.WithError(err).WithField("sale_code", saleCode).Warn("Attribution lookup failed during redispatch")
	} else if match != nil {
		click = match.Click
	}

	mode := models.DispatchModeProduction
	if test {
		mode = models.DispatchModeTest
	}
	return f.dispatcher.Dispatch(ctx, DispatchRequest{Sale: sale, Click: click, Mode: mode})
}

func (f *DispatchAdminFlowImpl) ListFailed(ctx context.Context, req dto.ListFailedDispatchesRequest) (*dto.ListFailedDispatchesResponse, error) {
	if req.Page < 0 || req.PageSize < 0 {
		return nil, ErrInvalidPaginationArgs
	}
	page := req.Page
	if page == 0 {
		page = 1
	}
	size := req.PageSize
	if size == 0 {
		size = defaultFailedPageSize
	}

	rows, err := f.dispatchRepo.ListFailed(ctx, size, (page-1)*size)
	if err != nil {
		return nil, NewBusinessError("LIST_FAILED_DISPATCHES_FAILED", "Failed to list failed dispatches", err)
	}
	counts, err := f.dispatchRepo.CountByStatus(ctx)
	if err != nil {
		return nil, NewBusinessError("COUNT_DISPATCHES_FAILED", "Failed to count dispatches", err)
	}

	out := &dto.ListFailedDispatchesResponse{
		Items:    make([]dto.DispatchDTO, 0, len(rows)),
		Page:     page,
		PageSize: size,
		Total:    counts[models.DispatchStatusFailed],
		Counts:   make(map[string]int64, len(counts)),
	}
	for status, n := range counts {
		out.Counts[string(status)] = n
	}
	for _, row := range rows {
		out.Items = append(out.Items, ToDispatchDTO(row))
	}
	return out, nil
}

func (f *DispatchAdminFlowImpl) ExportFailed(ctx context.Context) (string, []byte, error) {
	rows, err := f.dispatchRepo.ListFailed(ctx, exportFailedLimit, 0)
	if err != nil {
		return "", nil, NewBusinessError("LIST_FAILED_DISPATCHES_FAILED", "Failed to list failed dispatches", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := "failed_dispatches"
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	header := []string{"id", "sale_code", "platform", "pixel_id", "event_name", "mode", "attempts", "response_status", "last_error", "claimed_at", "updated_at"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for ri, r := range rows {
		status := ""
		if r.ResponseStatus != nil {
			status = strconv.Itoa(*r.ResponseStatus)
		}
		record := []string{
			strconv.FormatUint(uint64(r.ID), 10),
			r.SaleCode,
			string(r.Platform),
			r.PixelID,
			r.EventName,
			string(r.Mode),
			strconv.Itoa(r.Attempts),
			status,
			utils.Deref(r.LastError),
			r.ClaimedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := "failed_dispatches_" + utils.UTCNow().Format("20060102_150405") + ".xlsx"
	return filename, buf.Bytes(), nil
}

func ToDispatchDTO(d *models.ConversionDispatch) dto.DispatchDTO {
	return dto.DispatchDTO{
		ID:             d.ID,
		SaleCode:       d.SaleCode,
		Platform:       string(d.Platform),
		PixelID:        d.PixelID,
		EventName:      d.EventName,
		Mode:           string(d.Mode),
		Status:         string(d.Status),
		Attempts:       d.Attempts,
		LastError:      d.LastError,
		ResponseStatus: d.ResponseStatus,
		ClaimedAt:      d.ClaimedAt,
		SentAt:         d.SentAt,
	}
}
