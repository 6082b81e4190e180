package businessflow

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirphl/conversion-relay/app/services"
	"github.com/amirphl/conversion-relay/logger"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
)

var testLogger = logger.Discard()

// baseRepo satisfies the generic repository methods the flows never call
type baseRepo[T any, F any] struct{}

func (baseRepo[T, F]) ByID(ctx context.Context, id uint) (*T, error) { return nil, nil }
func (baseRepo[T, F]) ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error) {
	return nil, nil
}
func (baseRepo[T, F]) Save(ctx context.Context, entity *T) error          { return nil }
func (baseRepo[T, F]) SaveBatch(ctx context.Context, entities []*T) error { return nil }
func (baseRepo[T, F]) Count(ctx context.Context, filter F) (int64, error) { return 0, nil }
func (baseRepo[T, F]) Exists(ctx context.Context, filter F) (bool, error) { return false, nil }

type fakeTransactor struct{}

func (fakeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- clicks ---

type fakeClickRepo struct {
	baseRepo[models.Click, models.ClickFilter]
	mu     sync.Mutex
	clicks []*models.Click
	sales  *fakeSaleRepo
	err    error
}

func newFakeClickRepo() *fakeClickRepo { return &fakeClickRepo{} }

func (r *fakeClickRepo) add(c *models.Click) *models.Click {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.clicks = append(r.clicks, &cp)
	return &cp
}

func (r *fakeClickRepo) SaveIfAbsent(ctx context.Context, click *models.Click) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	for _, c := range r.clicks {
		if c.ClickID == click.ClickID {
			return false, nil
		}
	}
	cp := *click
	r.clicks = append(r.clicks, &cp)
	return true, nil
}

func (r *fakeClickRepo) latest(match func(c *models.Click) bool) (*models.Click, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var best *models.Click
	for _, c := range r.clicks {
		if match(c) && (best == nil || c.ReceivedAt.After(best.ReceivedAt)) {
			best = c
		}
	}
	return best, nil
}

func (r *fakeClickRepo) ByClickID(ctx context.Context, clickID string) (*models.Click, error) {
	return r.latest(func(c *models.Click) bool { return c.ClickID == clickID })
}

func (r *fakeClickRepo) ByClickIDWithTTCLID(ctx context.Context, clickID string) (*models.Click, error) {
	return r.latest(func(c *models.Click) bool { return c.ClickID == clickID && c.HasTTCLID() })
}

func (r *fakeClickRepo) LatestByFacebookIDs(ctx context.Context, fbc, fbp string) (*models.Click, error) {
	return r.latest(func(c *models.Click) bool {
		return (fbc != "" && utils.Deref(c.FBC) == fbc) || (fbp != "" && utils.Deref(c.FBP) == fbp)
	})
}

func (r *fakeClickRepo) LatestBySubstring(ctx context.Context, token string) (*models.Click, error) {
	return r.latest(func(c *models.Click) bool {
		return strings.Contains(c.ClickID, token) || strings.Contains(utils.Deref(c.UTMContent), token)
	})
}

func (r *fakeClickRepo) LatestByPriorSale(ctx context.Context, tokens []string) (*models.Click, error) {
	if r.sales == nil {
		return nil, nil
	}
	ids := map[string]bool{}
	for _, s := range r.sales.all() {
		for _, t := range tokens {
			if s.ClickID != nil && (s.SaleCode == t || utils.Deref(s.TransactionID) == t) {
				ids[*s.ClickID] = true
			}
		}
	}
	return r.latest(func(c *models.Click) bool { return ids[c.ClickID] })
}

func (r *fakeClickRepo) LatestByIPWindow(ctx context.Context, ip string, from, to time.Time) (*models.Click, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*models.Click
	for _, c := range r.clicks {
		if utils.Deref(c.IP) == ip && !c.ReceivedAt.Before(from) && !c.ReceivedAt.After(to) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	rank := func(c *models.Click) int {
		switch {
		case c.HasTTCLID():
			return 2
		case c.HasFacebookIDs():
			return 1
		}
		return 0
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if rank(candidates[i]) != rank(candidates[j]) {
			return rank(candidates[i]) > rank(candidates[j])
		}
		return candidates[i].ReceivedAt.After(candidates[j].ReceivedAt)
	})
	return candidates[0], nil
}

func (r *fakeClickRepo) DeleteReceivedBefore(ctx context.Context, cutoff time.Time, batch int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []*models.Click
	var deleted []string
	for _, c := range r.clicks {
		if c.ReceivedAt.Before(cutoff) && len(deleted) < batch {
			deleted = append(deleted, c.ClickID)
			continue
		}
		kept = append(kept, c)
	}
	r.clicks = kept
	return deleted, nil
}

// --- sales ---

type fakeSaleRepo struct {
	baseRepo[models.Sale, models.SaleFilter]
	mu    sync.Mutex
	sales map[string]*models.Sale
	seq   uint

	// failNext is returned once by the next Upsert
	failNext error
}

func newFakeSaleRepo() *fakeSaleRepo { return &fakeSaleRepo{sales: map[string]*models.Sale{}} }

func (r *fakeSaleRepo) all() []*models.Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Sale, 0, len(r.sales))
	for _, s := range r.sales {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

func coalesce(in, old *string) *string {
	if in != nil && *in != "" {
		return in
	}
	return old
}

func (r *fakeSaleRepo) Upsert(ctx context.Context, sale *models.Sale, opts repository.SaleUpsertOptions) (*repository.SaleUpsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNext; err != nil {
		r.failNext = nil
		return nil, err
	}
	old, ok := r.sales[sale.SaleCode]
	if !ok {
		r.seq++
		cp := *sale
		cp.ID = r.seq
		cp.CreatedAt = utils.UTCNow()
		cp.UpdatedAt = cp.CreatedAt
		r.sales[sale.SaleCode] = &cp
		out := cp
		return &repository.SaleUpsertResult{Sale: &out, Inserted: true}, nil
	}
	m := *old
	m.TransactionID = coalesce(sale.TransactionID, old.TransactionID)
	m.ClickID = coalesce(sale.ClickID, old.ClickID)
	m.CustomerName = coalesce(sale.CustomerName, old.CustomerName)
	m.CustomerEmail = coalesce(sale.CustomerEmail, old.CustomerEmail)
	m.CustomerPhone = coalesce(sale.CustomerPhone, old.CustomerPhone)
	m.CustomerDocument = coalesce(sale.CustomerDocument, old.CustomerDocument)
	m.PlanName = coalesce(sale.PlanName, old.PlanName)
	m.UTMSource = coalesce(sale.UTMSource, old.UTMSource)
	m.UTMMedium = coalesce(sale.UTMMedium, old.UTMMedium)
	m.UTMCampaign = coalesce(sale.UTMCampaign, old.UTMCampaign)
	m.UTMContent = coalesce(sale.UTMContent, old.UTMContent)
	m.UTMTerm = coalesce(sale.UTMTerm, old.UTMTerm)
	m.UTMID = coalesce(sale.UTMID, old.UTMID)
	m.FBC = coalesce(sale.FBC, old.FBC)
	m.FBP = coalesce(sale.FBP, old.FBP)
	m.TTCLID = coalesce(sale.TTCLID, old.TTCLID)
	m.AttributionStep = coalesce(sale.AttributionStep, old.AttributionStep)
	if sale.PlanValue != nil {
		m.PlanValue = sale.PlanValue
	}
	if !opts.MonotonicStatus || sale.Status.Rank() >= old.Status.Rank() {
		m.Status = sale.Status
		m.ApprovedAt = sale.ApprovedAt
	}
	m.UpdatedAt = utils.UTCNow()
	r.sales[sale.SaleCode] = &m
	out := m
	return &repository.SaleUpsertResult{Sale: &out, Inserted: false}, nil
}

func (r *fakeSaleRepo) BySaleCode(ctx context.Context, saleCode string) (*models.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[saleCode]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSaleRepo) MarkSent(ctx context.Context, saleCode string, platform models.Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sales[saleCode]
	if !ok {
		return nil
	}
	switch platform {
	case models.PlatformFacebook:
		s.FacebookSent = true
	case models.PlatformTikTok:
		s.TikTokSent = true
	case models.PlatformKwai:
		s.KwaiSent = true
	case models.PlatformUTMify:
		s.UTMifySent = true
	}
	return nil
}

// --- pixels ---

type fakePixelRepo struct {
	baseRepo[models.PixelConfig, models.PixelConfigFilter]
	mu     sync.Mutex
	pixels []*models.PixelConfig
}

func (r *fakePixelRepo) ListActive(ctx context.Context, platform *models.Platform) ([]*models.PixelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PixelConfig
	for _, p := range r.pixels {
		if p.IsActive && (platform == nil || p.Platform == *platform) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePixelRepo) ByPlatformAndPixelID(ctx context.Context, platform models.Platform, pixelID string) (*models.PixelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pixels {
		if p.Platform == platform && p.PixelID == pixelID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakePixelRepo) Upsert(ctx context.Context, pixel *models.PixelConfig) (*models.PixelConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pixels {
		if p.Platform == pixel.Platform && p.PixelID == pixel.PixelID {
			p.Name, p.AccessToken = pixel.Name, pixel.AccessToken
			p.EventSourceID, p.TestEventCode = pixel.EventSourceID, pixel.TestEventCode
			p.IsActive = true
			cp := *p
			return &cp, nil
		}
	}
	cp := *pixel
	cp.ID = uint(len(r.pixels) + 1)
	cp.IsActive = true
	r.pixels = append(r.pixels, &cp)
	out := cp
	return &out, nil
}

func (r *fakePixelRepo) Deactivate(ctx context.Context, platform models.Platform, pixelID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pixels {
		if p.Platform == platform && p.PixelID == pixelID {
			p.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

// --- dispatch log ---

type fakeDispatchRepo struct {
	baseRepo[models.ConversionDispatch, models.ConversionDispatchFilter]
	mu   sync.Mutex
	rows map[models.DispatchKey]*models.ConversionDispatch
	seq  uint
}

func newFakeDispatchRepo() *fakeDispatchRepo {
	return &fakeDispatchRepo{rows: map[models.DispatchKey]*models.ConversionDispatch{}}
}

func (r *fakeDispatchRepo) Claim(ctx context.Context, d *models.ConversionDispatch, staleBefore time.Time) (*repository.ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := d.Key()
	row, ok := r.rows[key]
	if !ok {
		r.seq++
		cp := *d
		cp.ID = r.seq
		cp.Status = models.DispatchStatusPending
		cp.Attempts = 1
		r.rows[key] = &cp
		out := cp
		return &repository.ClaimResult{Dispatch: &out, Claimed: true}, nil
	}
	if row.Status == models.DispatchStatusFailed ||
		(row.Status == models.DispatchStatusPending && row.ClaimedAt.Before(staleBefore)) {
		row.Status = models.DispatchStatusPending
		row.Attempts++
		row.ClaimedAt = d.ClaimedAt
		out := *row
		return &repository.ClaimResult{Dispatch: &out, Claimed: true}, nil
	}
	out := *row
	return &repository.ClaimResult{Dispatch: &out, Claimed: false}, nil
}

func (r *fakeDispatchRepo) byID(id uint) *models.ConversionDispatch {
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (r *fakeDispatchRepo) MarkSent(ctx context.Context, id uint, responseStatus int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.byID(id); row != nil {
		row.Status = models.DispatchStatusSent
		row.ResponseStatus = utils.ToPtr(responseStatus)
		row.SentAt = utils.UTCNowPtr()
	}
	return nil
}

func (r *fakeDispatchRepo) MarkFailed(ctx context.Context, id uint, responseStatus *int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row := r.byID(id); row != nil && row.Status != models.DispatchStatusSent {
		row.Status = models.DispatchStatusFailed
		row.ResponseStatus = responseStatus
		row.LastError = utils.ToPtr(errMsg)
	}
	return nil
}

func (r *fakeDispatchRepo) ByKey(ctx context.Context, key models.DispatchKey) (*models.ConversionDispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeDispatchRepo) ListFailed(ctx context.Context, limit, offset int) ([]*models.ConversionDispatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ConversionDispatch
	for _, row := range r.rows {
		if row.Status == models.DispatchStatusFailed {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeDispatchRepo) CountByStatus(ctx context.Context) (map[models.DispatchStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[models.DispatchStatus]int64{}
	for _, row := range r.rows {
		out[row.Status]++
	}
	return out, nil
}

func (r *fakeDispatchRepo) withStatus(status models.DispatchStatus) []*models.ConversionDispatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ConversionDispatch
	for _, row := range r.rows {
		if row.Status == status {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

// --- processed messages and webhook audit ---

type fakeProcessedRepo struct {
	baseRepo[models.ProcessedMessage, any]
	mu     sync.Mutex
	hashes map[string]*models.ProcessedMessage
}

func newFakeProcessedRepo() *fakeProcessedRepo {
	return &fakeProcessedRepo{hashes: map[string]*models.ProcessedMessage{}}
}

func (r *fakeProcessedRepo) InsertIfAbsent(ctx context.Context, msg *models.ProcessedMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hashes[msg.Hash]; ok {
		return false, nil
	}
	cp := *msg
	r.hashes[msg.Hash] = &cp
	return true, nil
}

func (r *fakeProcessedRepo) ByHash(ctx context.Context, hash string) (*models.ProcessedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hashes[hash], nil
}

func (r *fakeProcessedRepo) DeleteByHash(ctx context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hashes, hash)
	return nil
}

type fakeWebhookRepo struct {
	baseRepo[models.WebhookEvent, any]
	mu        sync.Mutex
	events    []*models.WebhookEvent
	processed map[uint]error
}

func newFakeWebhookRepo() *fakeWebhookRepo { return &fakeWebhookRepo{processed: map[uint]error{}} }

func (r *fakeWebhookRepo) Save(ctx context.Context, e *models.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uint(len(r.events) + 1)
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeWebhookRepo) MarkProcessed(ctx context.Context, id uint, processingErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[id] = processingErr
	return nil
}

// --- senders ---

type fakeSender struct {
	platform models.Platform
	calls    atomic.Int32
	mu       sync.Mutex
	events   []services.ConversionEvent
	err      error
	status   int
}

func newFakeSender(p models.Platform) *fakeSender { return &fakeSender{platform: p, status: 200} }

func (s *fakeSender) Platform() models.Platform { return s.platform }

func (s *fakeSender) Send(ctx context.Context, ev services.ConversionEvent) (*services.SendResult, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.events = append(s.events, ev)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return &services.SendResult{StatusCode: 500, Body: err.Error()}, err
	}
	return &services.SendResult{StatusCode: s.status, Body: "{}"}, nil
}

func (s *fakeSender) sent() []services.ConversionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.ConversionEvent(nil), s.events...)
}

type capturingPublisher struct {
	mu      sync.Mutex
	reports []*DispatchReport
}

func (p *capturingPublisher) PublishReport(ctx context.Context, r *DispatchReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, r)
	return nil
}
