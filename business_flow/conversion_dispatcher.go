package businessflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/app/services"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDispatchTimeout    = 12 * time.Second
	DefaultDispatchClaimLease = 2 * time.Minute
	DefaultDispatchConcurrent = 4
)

// DispatchRequest asks for one sale to be sent to every active destination
type DispatchRequest struct {
	Sale  *models.Sale
	Click *models.Click
	Mode  models.DispatchMode
}

// PlatformResult is the outcome for one destination
type PlatformResult struct {
	Platform    models.Platform `json:"platform"`
	PixelID     string          `json:"pixel_id,omitempty"`
	EventName   string          `json:"event_name"`
	Success     bool            `json:"success"`
	AlreadySent bool            `json:"already_sent,omitempty"`
	InFlight    bool            `json:"in_flight,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// DispatchReport aggregates the per-destination outcomes of one Dispatch call
type DispatchReport struct {
	SaleCode       string              `json:"sale_code"`
	AttributionKey string              `json:"attribution_key"`
	Mode           models.DispatchMode `json:"mode"`
	ClickID        *string             `json:"click_id,omitempty"`
	Results        []PlatformResult    `json:"results"`
	DispatchedAt   time.Time           `json:"dispatched_at"`
}

// Failed returns the results that need operator follow-up
func (r *DispatchReport) Failed() []PlatformResult {
	var out []PlatformResult
	for _, res := range r.Results {
		if !res.Success && !res.InFlight {
			out = append(out, res)
		}
	}
	return out
}

// ReportPublisher receives every finished dispatch report
type ReportPublisher interface {
	PublishReport(ctx context.Context, report *DispatchReport) error
}

// DispatcherOptions tunes sends and claims
type DispatcherOptions struct {
	Timeout            time.Duration
	ClaimLease         time.Duration
	MinorUnitThreshold float64
	Concurrency        int
}

// ConversionDispatcher sends a sale to each active pixel and to the sales aggregator.
// The dedupe log admits one successful send per (attribution key, platform, pixel, event).
type ConversionDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchReport, error)
}

type ConversionDispatcherImpl struct {
	pixelRepo    repository.PixelConfigRepository
	dispatchRepo repository.ConversionDispatchRepository
	saleRepo     repository.SaleRepository
	txManager    repository.Transactor
	senders      map[models.Platform]services.ConversionSender
	publisher    ReportPublisher
	opts         DispatcherOptions
	logger       logrus.FieldLogger
}

func NewConversionDispatcher(
	pixelRepo repository.PixelConfigRepository,
	dispatchRepo repository.ConversionDispatchRepository,
	saleRepo repository.SaleRepository,
	txManager repository.Transactor,
	senders []services.ConversionSender,
	publisher ReportPublisher,
	opts DispatcherOptions,
	logger logrus.FieldLogger,
) ConversionDispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDispatchTimeout
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = DefaultDispatchClaimLease
	}
	if opts.MinorUnitThreshold <= 0 {
		opts.MinorUnitThreshold = DefaultMinorUnitThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultDispatchConcurrent
	}
	bySender := make(map[models.Platform]services.ConversionSender, len(senders))
	for _, s := range senders {
		bySender[s.Platform()] = s
	}
	return &ConversionDispatcherImpl{
		pixelRepo:    pixelRepo,
		dispatchRepo: dispatchRepo,
		saleRepo:     saleRepo,
		txManager:    txManager,
		senders:      bySender,
		publisher:    publisher,
		opts:         opts,
		logger:       logger,
	}
}

// dispatchTarget is one destination: a pixel, or the aggregator when pixel is nil
type dispatchTarget struct {
	platform  models.Platform
	pixel     *models.PixelConfig
	eventName string
}

func (t dispatchTarget) pixelID() string {
	if t.pixel == nil {
		return ""
	}
	return t.pixel.PixelID
}

// EventNameFor maps a sale status to the destination's event name; ok is false when nothing is sent
func EventNameFor(platform models.Platform, status models.SaleStatus) (string, bool) {
	if platform == models.PlatformUTMify {
		if status.IsConfirmed() {
			return "paid", true
		}
		if status.Valid() {
			return "waiting_payment", true
		}
		return "", false
	}
	if !status.IsConfirmed() {
		return "", false
	}
	switch platform {
	case models.PlatformFacebook:
		return "Purchase", true
	case models.PlatformTikTok:
		return "CompletePayment", true
	case models.PlatformKwai:
		return "EVENT_PURCHASE", true
	}
	return "", false
}

// AttributionKeyFor is the dedupe key of a dispatch run.
// Test runs get a fresh key so they never collide with, or block, production sends.
func AttributionKeyFor(mode models.DispatchMode, saleCode string) string {
	if mode == models.DispatchModeTest {
		return fmt.Sprintf("test:%s:%s", uuid.NewString(), saleCode)
	}
	return saleCode
}

// testMarker is the only constructor of services.TestMarker: production mode never carries one
func testMarker(mode models.DispatchMode, pixel *models.PixelConfig) *services.TestMarker {
	if mode != models.DispatchModeTest {
		return nil
	}
	marker := &services.TestMarker{}
	if pixel != nil {
		marker.EventCode = utils.Deref(pixel.TestEventCode)
	}
	return marker
}

func (d *ConversionDispatcherImpl) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchReport, error) {
	if req.Sale == nil || strings.TrimSpace(req.Sale.SaleCode) == "" {
		return nil, ErrSaleCodeRequired
	}
	if req.Mode == "" {
		req.Mode = models.DispatchModeProduction
	}

	targets, err := d.targets(ctx, req.Sale.Status)
	if err != nil {
		return nil, NewBusinessError("DISPATCH_TARGETS_FAILED", "Failed to load dispatch targets", err)
	}

	report := &DispatchReport{
		SaleCode:       req.Sale.SaleCode,
		AttributionKey: AttributionKeyFor(req.Mode, req.Sale.SaleCode),
		Mode:           req.Mode,
		Results:        make([]PlatformResult, len(targets)),
		DispatchedAt:   utils.UTCNow(),
	}
	if req.Click != nil {
		report.ClickID = utils.ToPtr(req.Click.ClickID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			report.Results[i] = d.dispatchOne(gctx, req, report.AttributionKey, target)
			return nil
		})
	}
	_ = g.Wait()

	if d.publisher != nil && len(report.Results) > 0 {
		if err := d.publisher.PublishReport(ctx, report); err != nil {
			d.logger.WithError(err).WithField("sale_code", report.SaleCode).Warn("Failed to publish dispatch report")
		}
	}
	return report, nil
}

func (d *ConversionDispatcherImpl) targets(ctx context.Context, status models.SaleStatus) ([]dispatchTarget, error) {
	var targets []dispatchTarget

	pixels, err := d.pixelRepo.ListActive(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, px := range pixels {
		if !px.IsActive || !px.Platform.IsAdPlatform() {
			continue
		}
		if _, ok := d.senders[px.Platform]; !ok {
			conversionDispatches.WithLabelValues(string(px.Platform), outcomeSkipped).Inc()
			continue
		}
		name, ok := EventNameFor(px.Platform, status)
		if !ok {
			conversionDispatches.WithLabelValues(string(px.Platform), outcomeSkipped).Inc()
			continue
		}
		targets = append(targets, dispatchTarget{platform: px.Platform, pixel: px, eventName: name})
	}

	if _, ok := d.senders[models.PlatformUTMify]; ok {
		if name, ok := EventNameFor(models.PlatformUTMify, status); ok {
			targets = append(targets, dispatchTarget{platform: models.PlatformUTMify, eventName: name})
		}
	}
	return targets, nil
}

func (d *ConversionDispatcherImpl) dispatchOne(ctx context.Context, req DispatchRequest, attributionKey string, target dispatchTarget) PlatformResult {
	result := PlatformResult{Platform: target.platform, PixelID: target.pixelID(), EventName: target.eventName}
	log := d.logger.WithFields(logrus.Fields{
		"platform":   target.platform,
		"sale_code":  req.Sale.SaleCode,
		"pixel_id":   result.PixelID,
		"event_name": target.eventName,
		"mode":       req.Mode,
	})

	now := utils.UTCNow()
	claim, err := d.dispatchRepo.Claim(ctx, &models.ConversionDispatch{
		AttributionKey: attributionKey,
		SaleCode:       req.Sale.SaleCode,
		Platform:       target.platform,
		PixelID:        result.PixelID,
		EventName:      target.eventName,
		Mode:           req.Mode,
		Status:         models.DispatchStatusPending,
		ClaimedAt:      now,
	}, now.Add(-d.opts.ClaimLease))
	if err != nil {
		log.WithError(err).Error("Failed to claim conversion dispatch")
		result.Error = fmt.Sprintf("claim failed: %v", err)
		conversionDispatches.WithLabelValues(string(target.platform), outcomeFailed).Inc()
		return result
	}
	if !claim.Claimed {
		if claim.Dispatch != nil && claim.Dispatch.Status == models.DispatchStatusSent {
			result.Success = true
			result.AlreadySent = true
			conversionDispatches.WithLabelValues(string(target.platform), outcomeAlreadySent).Inc()
		} else {
			result.InFlight = true
			conversionDispatches.WithLabelValues(string(target.platform), outcomeInFlight).Inc()
		}
		return result
	}

	ev := d.buildEvent(req, target)
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	res, sendErr := d.senders[target.platform].Send(sendCtx, ev)
	cancel()
	if res != nil {
		result.StatusCode = res.StatusCode
	}

	// The mark must land even when the caller's context ended during the send.
	markCtx, markCancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.Timeout)
	defer markCancel()

	if sendErr != nil {
		var status *int
		if res != nil {
			status = utils.ToPtr(res.StatusCode)
		}
		if err := d.dispatchRepo.MarkFailed(markCtx, claim.Dispatch.ID, status, sendErr.Error()); err != nil {
			log.WithError(err).Error("Failed to record failed dispatch")
		}
		log.WithError(sendErr).Warn("Conversion send failed")
		result.Error = sendErr.Error()
		conversionDispatches.WithLabelValues(string(target.platform), outcomeFailed).Inc()
		return result
	}

	if err := d.markSent(markCtx, claim.Dispatch.ID, result.StatusCode, req, target.platform); err != nil {
		// The platform accepted the event; a lost mark only risks a resend after the lease expires.
		log.WithError(err).Error("Failed to record successful dispatch")
	}
	log.Info("Conversion sent")
	result.Success = true
	conversionDispatches.WithLabelValues(string(target.platform), outcomeSent).Inc()
	return result
}

func (d *ConversionDispatcherImpl) markSent(ctx context.Context, id uint, status int, req DispatchRequest, platform models.Platform) error {
	if req.Mode != models.DispatchModeProduction {
		return d.dispatchRepo.MarkSent(ctx, id, status)
	}
	return d.txManager.WithinTx(ctx, func(txCtx context.Context) error {
		if err := d.dispatchRepo.MarkSent(txCtx, id, status); err != nil {
			return err
		}
		return d.saleRepo.MarkSent(txCtx, req.Sale.SaleCode, platform)
	})
}

func (d *ConversionDispatcherImpl) buildEvent(req DispatchRequest, target dispatchTarget) services.ConversionEvent {
	sale := req.Sale
	click := req.Click
	if click == nil {
		click = &models.Click{}
	}

	major := EnsureMajorUnits(utils.Deref(sale.PlanValue), d.opts.MinorUnitThreshold)
	currency := utils.FirstNonEmpty(sale.Currency, utils.DefaultCurrency)

	ev := services.ConversionEvent{
		EventName:       target.eventName,
		EventID:         sale.SaleCode,
		EventTime:       saleEventTime(sale),
		SaleCode:        sale.SaleCode,
		SaleStatus:      sale.Status,
		PlanName:        utils.FirstNonEmpty(utils.Deref(sale.PlanName), utils.DefaultPlanName),
		PaymentMethod:   utils.Deref(sale.PaymentMethod),
		PaymentPlatform: utils.Deref(sale.PaymentPlatform),
		CreatedAt:       sale.CreatedAt,
		ApprovedAt:      sale.ApprovedAt,
		Amount:          services.Amount{Major: major, Minor: ToMinorUnits(major), Currency: currency},
		User: services.ConversionUser{
			Name:       utils.Deref(sale.CustomerName),
			Email:      utils.Deref(sale.CustomerEmail),
			Phone:      utils.Deref(sale.CustomerPhone),
			Document:   utils.Deref(sale.CustomerDocument),
			ExternalID: utils.Deref(sale.CustomerDocument),
			IP:         utils.FirstNonEmpty(utils.Deref(sale.IP), utils.Deref(click.IP)),
			UserAgent:  utils.FirstNonEmpty(utils.Deref(sale.UserAgent), utils.Deref(click.UserAgent)),
		},
		Click: services.ConversionClick{
			ClickID:     click.ClickID,
			FBC:         utils.FirstNonEmpty(utils.Deref(click.FBC), utils.Deref(sale.FBC)),
			FBP:         utils.FirstNonEmpty(utils.Deref(click.FBP), utils.Deref(sale.FBP)),
			TTCLID:      utils.FirstNonEmpty(utils.Deref(click.TTCLID), utils.Deref(sale.TTCLID)),
			KwaiClickID: utils.Deref(click.KwaiClickID),
			LandingPage: utils.Deref(click.LandingPage),
			UTMSource:   utils.FirstNonEmpty(utils.Deref(sale.UTMSource), utils.Deref(click.UTMSource)),
			UTMMedium:   utils.FirstNonEmpty(utils.Deref(sale.UTMMedium), utils.Deref(click.UTMMedium)),
			UTMCampaign: utils.FirstNonEmpty(utils.Deref(sale.UTMCampaign), utils.Deref(click.UTMCampaign)),
			UTMContent:  utils.FirstNonEmpty(utils.Deref(sale.UTMContent), utils.Deref(click.UTMContent)),
			UTMTerm:     utils.FirstNonEmpty(utils.Deref(sale.UTMTerm), utils.Deref(click.UTMTerm)),
		},
		Test: testMarker(req.Mode, target.pixel),
	}
	if target.pixel != nil {
		ev.Pixel = services.ConversionPixel{
			PixelID:       target.pixel.PixelID,
			AccessToken:   target.pixel.AccessToken,
			EventSourceID: utils.Deref(target.pixel.EventSourceID),
		}
	}
	return ev
}

func saleEventTime(sale *models.Sale) time.Time {
	if sale.ApprovedAt != nil && !sale.ApprovedAt.IsZero() {
		return sale.ApprovedAt.UTC()
	}
	if !sale.CreatedAt.IsZero() {
		return sale.CreatedAt.UTC()
	}
	return utils.UTCNow()
}
