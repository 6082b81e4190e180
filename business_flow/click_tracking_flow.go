package businessflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/sirupsen/logrus"
)

// ClickTrackingFlow captures ad-click landings from the beacon, pixel and redirect endpoints.
// Public flow, no authentication required.
type ClickTrackingFlow interface {
	Track(ctx context.Context, req dto.TrackClickRequest, meta *ClientMetadata) (*dto.TrackClickResponse, error)
	// PixelClick builds the click recorded by the GIF beacon; a missing click_id gets a pixel_<ms> id
	PixelClick(query dto.TrackingQuery, meta *ClientMetadata) *models.Click
	// BuildRedirect returns the destination URL and the click to record, which is nil without a click_id
	BuildRedirect(query dto.TrackingQuery, meta *ClientMetadata) (string, *models.Click)
	// Save stores a click built by PixelClick or BuildRedirect
	Save(ctx context.Context, click *models.Click) (bool, error)
}

type ClickTrackingFlowImpl struct {
	clickRepo  repository.ClickRepository
	defaultURL string
	logger     logrus.FieldLogger
}

func NewClickTrackingFlow(clickRepo repository.ClickRepository, telegramBotURL string, logger logrus.FieldLogger) ClickTrackingFlow {
	return &ClickTrackingFlowImpl{clickRepo: clickRepo, defaultURL: telegramBotURL, logger: logger}
}

func (f *ClickTrackingFlowImpl) Track(ctx context.Context, req dto.TrackClickRequest, meta *ClientMetadata) (*dto.TrackClickResponse, error) {
	clickID := strings.TrimSpace(req.ClickID)
	if clickID == "" {
		return nil, ErrClickIDRequired
	}

	now := utils.UTCNow()
	click := &models.Click{
		ClickID:     clickID,
		SessionID:   utils.NilIfEmpty(req.SessionID),
		ReceivedAt:  now,
		IP:          utils.NilIfEmpty(metaIP(meta)),
		UserAgent:   utils.NilIfEmpty(utils.FirstNonEmpty(req.UserAgent, metaUserAgent(meta))),
		Referrer:    utils.NilIfEmpty(req.Referrer),
		LandingPage: utils.NilIfEmpty(req.LandingPage),
		UTMSource:   utils.NilIfEmpty(req.UTMSource),
		UTMMedium:   utils.NilIfEmpty(req.UTMMedium),
		UTMCampaign: utils.NilIfEmpty(req.UTMCampaign),
		UTMContent:  utils.NilIfEmpty(req.UTMContent),
		UTMTerm:     utils.NilIfEmpty(req.UTMTerm),
		UTMID:       utils.NilIfEmpty(req.UTMID),
		FBCLID:      utils.NilIfEmpty(req.FBCLID),
		FBC:         utils.NilIfEmpty(req.FBC),
		FBP:         utils.NilIfEmpty(req.FBP),
		TTCLID:      utils.NilIfEmpty(req.TTCLID),
		GCLID:       utils.NilIfEmpty(req.GCLID),
		MSCLKID:     utils.NilIfEmpty(req.MSCLKID),
		KwaiClickID: utils.NilIfEmpty(req.KwaiClickID),
	}
	if req.TimestampMs > 0 {
		click.TimestampMs = utils.ToPtr(req.TimestampMs)
	}
	if meta != nil && click.Referrer == nil {
		click.Referrer = utils.NilIfEmpty(meta.Referrer)
	}

	created, err := f.Save(ctx, click)
	if err != nil {
		return nil, err
	}
	return &dto.TrackClickResponse{ClickID: clickID, Saved: created}, nil
}

func (f *ClickTrackingFlowImpl) PixelClick(query dto.TrackingQuery, meta *ClientMetadata) *models.Click {
	now := utils.UTCNow()
	clickID := strings.TrimSpace(query.ClickID)
	if clickID == "" {
		clickID = fmt.Sprintf("%s%d", utils.PixelClickIDPrefix, now.UnixMilli())
	}
	return queryClick(clickID, query, meta)
}

func (f *ClickTrackingFlowImpl) BuildRedirect(query dto.TrackingQuery, meta *ClientMetadata) (string, *models.Click) {
	clickID := strings.TrimSpace(query.ClickID)
	destination := RedirectDestination(utils.FirstNonEmpty(query.URL, f.defaultURL), f.defaultURL, clickID)
	if clickID == "" {
		return destination, nil
	}
	return destination, queryClick(clickID, query, meta)
}

func (f *ClickTrackingFlowImpl) Save(ctx context.Context, click *models.Click) (bool, error) {
	if click == nil || strings.TrimSpace(click.ClickID) == "" {
		return false, ErrClickIDRequired
	}
	if click.ReceivedAt.IsZero() {
		click.ReceivedAt = utils.UTCNow()
	}
	if click.TimestampMs == nil {
		click.TimestampMs = utils.ToPtr(click.ReceivedAt.UnixMilli())
	}
	if click.SessionID == nil {
		click.SessionID = utils.ToPtr(fmt.Sprintf("%s%d", utils.SessionIDPrefix, click.ReceivedAt.UnixMilli()))
	}
	created, err := f.clickRepo.SaveIfAbsent(ctx, click)
	if err != nil {
		return false, NewBusinessError("CLICK_SAVE_FAILED", "Failed to save click", err)
	}
	if !created {
		f.logger.WithField("click_id", click.ClickID).Debug("Duplicate click ignored")
	}
	return created, nil
}

// RedirectDestination appends start=<click_id> to Telegram links.
// An unparseable destination falls back to fallback.
func RedirectDestination(destination, fallback, clickID string) string {
	u, err := url.Parse(destination)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fallback
	}
	if clickID == "" || !isTelegramHost(u.Host) {
		return u.String()
	}
	q := u.Query()
	q.Set("start", clickID)
	u.RawQuery = q.Encode()
	return u.String()
}

func isTelegramHost(host string) bool {
	host = strings.ToLower(host)
	return host == "t.me" || host == "telegram.me" ||
		strings.HasSuffix(host, ".t.me") || strings.HasSuffix(host, ".telegram.me")
}

func queryClick(clickID string, q dto.TrackingQuery, meta *ClientMetadata) *models.Click {
	click := &models.Click{
		ClickID:     clickID,
		ReceivedAt:  utils.UTCNow(),
		UTMSource:   utils.NilIfEmpty(utils.FirstNonEmpty(q.UTMSource, q.US)),
		UTMMedium:   utils.NilIfEmpty(utils.FirstNonEmpty(q.UTMMedium, q.UM)),
		UTMCampaign: utils.NilIfEmpty(utils.FirstNonEmpty(q.UTMCampaign, q.UC)),
		UTMContent:  utils.NilIfEmpty(q.UTMContent),
		UTMTerm:     utils.NilIfEmpty(q.UTMTerm),
		UTMID:       utils.NilIfEmpty(q.UTMID),
		FBCLID:      utils.NilIfEmpty(q.FBCLID),
		TTCLID:      utils.NilIfEmpty(q.TTCLID),
		GCLID:       utils.NilIfEmpty(q.GCLID),
		KwaiClickID: utils.NilIfEmpty(q.KwaiClickID),
	}
	if meta != nil {
		click.IP = utils.NilIfEmpty(meta.IPAddress)
		click.UserAgent = utils.NilIfEmpty(meta.UserAgent)
		click.Referrer = utils.NilIfEmpty(meta.Referrer)
	}
	return click
}
