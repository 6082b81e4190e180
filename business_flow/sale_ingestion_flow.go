package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/sirupsen/logrus"
)

const ApexProvider = "apex"

// SaleEvent is the canonical purchase event produced by every ingestion source.
// PlanValue is always in major units.
type SaleEvent struct {
	SaleCode         string
	TransactionID    string
	Status           models.SaleStatus
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	CustomerDocument string
	PlanName         string
	PlanValue        *float64
	Currency         string
	PaymentPlatform  string
	PaymentMethod    string

	ClickID     string
	UTMID       string
	ChatID      string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMContent  string
	UTMTerm     string
	FBC         string
	FBP         string
	TTCLID      string

	IP         string
	UserAgent  string
	EventTime  time.Time
	ApprovedAt *time.Time
}

// SaleProcessingResult is the outcome of the resolve, upsert and dispatch pipeline
type SaleProcessingResult struct {
	SaleCode        string
	Inserted        bool
	Status          models.SaleStatus
	ClickID         *string
	AttributionStep AttributionStep
	Dispatch        *DispatchReport
}

// SalePipeline runs one canonical sale event to completion.
// Every step is idempotent, so a run may be repeated after an interruption.
type SalePipeline interface {
	Process(ctx context.Context, ev SaleEvent) (*SaleProcessingResult, error)
	// Exists reports whether a sale with this code is already stored
	Exists(ctx context.Context, saleCode string) (bool, error)
}

type SalePipelineImpl struct {
	saleRepo   repository.SaleRepository
	resolver   AttributionResolver
	dispatcher ConversionDispatcher
	monotonic  bool
	logger     logrus.FieldLogger
}

func NewSalePipeline(
	saleRepo repository.SaleRepository,
	resolver AttributionResolver,
	dispatcher ConversionDispatcher,
	monotonicStatus bool,
	logger logrus.FieldLogger,
) SalePipeline {
	return &SalePipelineImpl{
		saleRepo:   saleRepo,
		resolver:   resolver,
		dispatcher: dispatcher,
		monotonic:  monotonicStatus,
		logger:     logger,
	}
}

func (p *SalePipelineImpl) Exists(ctx context.Context, saleCode string) (bool, error) {
	sale, err := p.saleRepo.BySaleCode(ctx, saleCode)
	if err != nil {
		return false, err
	}
	return sale != nil, nil
}

func (p *SalePipelineImpl) Process(ctx context.Context, ev SaleEvent) (*SaleProcessingResult, error) {
	ev.SaleCode = utils.FirstNonEmpty(ev.SaleCode, ev.TransactionID)
	if ev.SaleCode == "" {
		return nil, ErrSaleCodeRequired
	}
	if !ev.Status.Valid() {
		ev.Status = models.SaleStatusPending
	}
	log := p.logger.WithField("sale_code", ev.SaleCode)

	existing, err := p.saleRepo.BySaleCode(ctx, ev.SaleCode)
	if err != nil {
		return nil, NewBusinessError("SALE_LOOKUP_FAILED", "Failed to lookup sale", err)
	}
	var existingClickID string
	if existing != nil {
		existingClickID = utils.Deref(existing.ClickID)
	}

	match, err := p.resolver.Resolve(ctx, AttributionQuery{
		Tokens:    []string{ev.ClickID, ev.UTMID, ev.SaleCode, ev.ChatID, existingClickID},
		SaleCode:  ev.SaleCode,
		FBC:       ev.FBC,
		FBP:       ev.FBP,
		IP:        ev.IP,
		EventTime: ev.EventTime,
	})
	if err != nil {
		log.WithError(err).Warn("Attribution lookup failed, continuing without a click")
		match = nil
	}

	sale := saleFromEvent(ev, match)
	upserted, err := p.saleRepo.Upsert(ctx, sale, repository.SaleUpsertOptions{MonotonicStatus: p.monotonic})
	if err != nil {
		return nil, NewBusinessError("SALE_UPSERT_FAILED", "Failed to store sale", err)
	}

	result := &SaleProcessingResult{
		SaleCode: upserted.Sale.SaleCode,
		Inserted: upserted.Inserted,
		Status:   upserted.Sale.Status,
		ClickID:  upserted.Sale.ClickID,
	}
	var click *models.Click
	if match != nil {
		click = match.Click
		result.AttributionStep = match.Step
	}

	report, err := p.dispatcher.Dispatch(ctx, DispatchRequest{Sale: upserted.Sale, Click: click, Mode: models.DispatchModeProduction})
	if err != nil {
		log.WithError(err).Error("Conversion dispatch failed")
		return result, nil
	}
	result.Dispatch = report
	for _, failed := range report.Failed() {
		log.WithFields(logrus.Fields{
			"platform":   failed.Platform,
			"pixel_id":   failed.PixelID,
			"event_name": failed.EventName,
			"error":      failed.Error,
		}).Warn("Conversion left unsent")
	}
	return result, nil
}

// saleFromEvent builds the row to upsert. A matched click supplies click_id and its
// tracking fields; without a match only what the event itself carried is stored.
func saleFromEvent(ev SaleEvent, match *AttributionMatch) *models.Sale {
	sale := &models.Sale{
		SaleCode:         ev.SaleCode,
		TransactionID:    utils.NilIfEmpty(ev.TransactionID),
		CustomerName:     utils.NilIfEmpty(ev.CustomerName),
		CustomerEmail:    utils.NilIfEmpty(ev.CustomerEmail),
		CustomerPhone:    utils.NilIfEmpty(ev.CustomerPhone),
		CustomerDocument: utils.NilIfEmpty(ev.CustomerDocument),
		PlanName:         utils.NilIfEmpty(ev.PlanName),
		PlanValue:        ev.PlanValue,
		Currency:         utils.FirstNonEmpty(strings.ToUpper(ev.Currency), utils.DefaultCurrency),
		PaymentPlatform:  utils.NilIfEmpty(ev.PaymentPlatform),
		PaymentMethod:    utils.NilIfEmpty(ev.PaymentMethod),
		Status:           ev.Status,
		IP:               utils.NilIfEmpty(ev.IP),
		UserAgent:        utils.NilIfEmpty(ev.UserAgent),
		UTMSource:        utils.NilIfEmpty(ev.UTMSource),
		UTMMedium:        utils.NilIfEmpty(ev.UTMMedium),
		UTMCampaign:      utils.NilIfEmpty(ev.UTMCampaign),
		UTMContent:       utils.NilIfEmpty(ev.UTMContent),
		UTMTerm:          utils.NilIfEmpty(ev.UTMTerm),
		UTMID:            utils.NilIfEmpty(ev.UTMID),
		FBC:              utils.NilIfEmpty(ev.FBC),
		FBP:              utils.NilIfEmpty(ev.FBP),
		TTCLID:           utils.NilIfEmpty(ev.TTCLID),
		ApprovedAt:       ev.ApprovedAt,
	}
	if sale.ApprovedAt == nil && ev.Status.IsConfirmed() {
		at := ev.EventTime
		if at.IsZero() {
			at = utils.UTCNow()
		}
		sale.ApprovedAt = utils.ToPtr(at.UTC())
	}
	if match == nil || match.Click == nil {
		return sale
	}

	c := match.Click
	sale.ClickID = utils.ToPtr(c.ClickID)
	sale.AttributionStep = utils.ToPtr(string(match.Step))
	sale.UTMSource = firstPtr(c.UTMSource, sale.UTMSource)
	sale.UTMMedium = firstPtr(c.UTMMedium, sale.UTMMedium)
	sale.UTMCampaign = firstPtr(c.UTMCampaign, sale.UTMCampaign)
	sale.UTMContent = firstPtr(c.UTMContent, sale.UTMContent)
	sale.UTMTerm = firstPtr(c.UTMTerm, sale.UTMTerm)
	sale.UTMID = firstPtr(c.UTMID, sale.UTMID)
	sale.FBC = firstPtr(c.FBC, sale.FBC)
	sale.FBP = firstPtr(c.FBP, sale.FBP)
	sale.TTCLID = firstPtr(c.TTCLID, sale.TTCLID)
	return sale
}

func firstPtr(values ...*string) *string {
	for _, v := range values {
		if v != nil && strings.TrimSpace(*v) != "" {
			return v
		}
	}
	return nil
}

// SaleIngestionFlow handles purchase webhooks
type SaleIngestionFlow interface {
	// RecordWebhook stores the raw payload for audit and returns its row id
	RecordWebhook(ctx context.Context, req dto.ApexWebhookRequest, raw []byte) (uint, error)
	ProcessWebhook(ctx context.Context, req dto.ApexWebhookRequest, meta *ClientMetadata) (*SaleProcessingResult, error)
	// MarkWebhookProcessed closes the audit row with the processing outcome
	MarkWebhookProcessed(ctx context.Context, id uint, processingErr error)
	// SaleExists tells a queued delivery whether it will merge into a stored sale
	SaleExists(ctx context.Context, saleCode string) (bool, error)
}

type SaleIngestionFlowImpl struct {
	pipeline           SalePipeline
	webhookRepo        repository.WebhookEventRepository
	minorUnitThreshold float64
	logger             logrus.FieldLogger
}

func NewSaleIngestionFlow(pipeline SalePipeline, webhookRepo repository.WebhookEventRepository, minorUnitThreshold float64, logger logrus.FieldLogger) SaleIngestionFlow {
	return &SaleIngestionFlowImpl{
		pipeline:           pipeline,
		webhookRepo:        webhookRepo,
		minorUnitThreshold: minorUnitThreshold,
		logger:             logger,
	}
}

// apexEventStatus maps gateway event names to sale statuses
var apexEventStatus = map[string]models.SaleStatus{
	"payment_approved": models.SaleStatusApproved,
	"payment_paid":     models.SaleStatusPaid,
	"payment_created":  models.SaleStatusCreated,
	"pix_generated":    models.SaleStatusCreated,
	"payment_pending":  models.SaleStatusPending,
}

// StatusForApexEvent returns the sale status for a webhook event name
func StatusForApexEvent(event string) (models.SaleStatus, bool) {
	st, ok := apexEventStatus[strings.ToLower(strings.TrimSpace(event))]
	return st, ok
}

func (f *SaleIngestionFlowImpl) RecordWebhook(ctx context.Context, req dto.ApexWebhookRequest, raw []byte) (uint, error) {
	if !json.Valid(raw) {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, err
		}
		raw = b
	}
	row := &models.WebhookEvent{
		Provider:  ApexProvider,
		EventType: req.Event,
		SaleCode:  utils.NilIfEmpty(req.Transaction.SaleCode),
		Payload:   json.RawMessage(raw),
	}
	if err := f.webhookRepo.Save(ctx, row); err != nil {
		return 0, NewBusinessError("WEBHOOK_RECORD_FAILED", "Failed to record webhook", err)
	}
	return row.ID, nil
}

func (f *SaleIngestionFlowImpl) SaleExists(ctx context.Context, saleCode string) (bool, error) {
	return f.pipeline.Exists(ctx, saleCode)
}

func (f *SaleIngestionFlowImpl) MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) {
	if id == 0 {
		return
	}
	if errors.Is(processingErr, ErrUnsupportedEvent) {
		processingErr = nil
	}
	if err := f.webhookRepo.MarkProcessed(ctx, id, processingErr); err != nil {
		f.logger.WithError(err).WithField("webhook_event_id", id).Warn("Failed to mark webhook processed")
	}
}

func (f *SaleIngestionFlowImpl) ProcessWebhook(ctx context.Context, req dto.ApexWebhookRequest, meta *ClientMetadata) (*SaleProcessingResult, error) {
	if strings.TrimSpace(req.Event) == "" {
		return nil, ErrEventRequired
	}
	if strings.TrimSpace(req.Transaction.SaleCode) == "" {
		return nil, ErrSaleCodeRequired
	}
	status, ok := StatusForApexEvent(req.Event)
	if !ok {
		return nil, ErrUnsupportedEvent
	}
	ev := f.eventFromWebhook(req, status, meta)
	return f.pipeline.Process(ctx, ev)
}

func (f *SaleIngestionFlowImpl) eventFromWebhook(req dto.ApexWebhookRequest, status models.SaleStatus, meta *ClientMetadata) SaleEvent {
	tx := req.Transaction
	ev := SaleEvent{
		SaleCode:         strings.TrimSpace(tx.SaleCode),
		TransactionID:    tx.TransactionID,
		Status:           status,
		CustomerName:     utils.FirstNonEmpty(req.Customer.FullName, req.Customer.ProfileName),
		CustomerEmail:    req.Customer.Email,
		CustomerPhone:    req.Customer.Phone,
		CustomerDocument: req.Customer.TaxID,
		PlanName:         utils.FirstNonEmpty(tx.PlanName, utils.DefaultPlanName),
		Currency:         tx.Currency,
		PaymentPlatform:  tx.PaymentPlatform,
		PaymentMethod:    tx.PaymentMethod,
		ClickID:          req.Tracking.ClickID,
		UTMID:            req.Tracking.UTMID,
		ChatID:           req.Customer.ChatID,
		UTMSource:        req.Tracking.UTMSource,
		UTMMedium:        req.Tracking.UTMMedium,
		UTMCampaign:      req.Tracking.UTMCampaign,
		UTMContent:       req.Tracking.UTMContent,
		UTMTerm:          req.Tracking.UTMTerm,
		FBC:              req.Tracking.FBC,
		FBP:              req.Tracking.FBP,
		TTCLID:           req.Tracking.TTCLID,
		IP:               utils.FirstNonEmpty(req.Origin.IP, metaIP(meta)),
		UserAgent:        utils.FirstNonEmpty(req.Origin.UserAgent, metaUserAgent(meta)),
		EventTime:        parseEventTime(req.Timestamp),
	}
	if tx.PlanValue != nil {
		ev.PlanValue = utils.ToPtr(NormalizeAmount(*tx.PlanValue, AmountSourceMinor, f.minorUnitThreshold))
	}
	if status.IsConfirmed() {
		ev.ApprovedAt = utils.ToPtr(ev.EventTime)
	}
	return ev
}

// parseEventTime accepts RFC3339, SQL datetime or unix seconds; anything else is now
func parseEventTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return utils.UTCNow()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, utils.SQLDateTimeLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if t := utils.UnixSecondsToUTCPtr(sec); t != nil {
			return *t
		}
	}
	return utils.UTCNow()
}
