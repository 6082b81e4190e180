package businessflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/services"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	clicks   *fakeClickRepo
	sales    *fakeSaleRepo
	webhooks *fakeWebhookRepo
	fb       *fakeSender
	dispatch *fakeDispatchRepo
	pipeline SalePipeline
	flow     SaleIngestionFlow
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		clicks:   newFakeClickRepo(),
		sales:    newFakeSaleRepo(),
		webhooks: newFakeWebhookRepo(),
		fb:       newFakeSender(models.PlatformFacebook),
		dispatch: newFakeDispatchRepo(),
	}
	f.clicks.sales = f.sales
	pixels := &fakePixelRepo{pixels: []*models.PixelConfig{pixel(models.PlatformFacebook, "fb1", true)}}
	resolver := NewAttributionResolver(f.clicks, AttributionOptions{}, testLogger)
	dispatcher := NewConversionDispatcher(pixels, f.dispatch, f.sales, fakeTransactor{},
		[]services.ConversionSender{f.fb}, nil, DispatcherOptions{}, testLogger)
	f.pipeline = NewSalePipeline(f.sales, resolver, dispatcher, true, testLogger)
	f.flow = NewSaleIngestionFlow(f.pipeline, f.webhooks, DefaultMinorUnitThreshold, testLogger)
	return f
}

func apexWebhook(event, saleCode string) dto.ApexWebhookRequest {
	return dto.ApexWebhookRequest{
		Event: event,
		Transaction: dto.ApexTransaction{
			SaleCode:  saleCode,
			PlanValue: utils.ToPtr(4990.0),
		},
		Customer: dto.ApexCustomer{FullName: "Maria Silva", Email: "maria@example.com"},
	}
}

func TestProcessWebhook_AttributesViaUTMID(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()
	tracking := NewClickTrackingFlow(f.clicks, "https://t.me/bot", testLogger)
	_, err := tracking.Track(ctx, dto.TrackClickRequest{ClickID: "abc123", UTMSource: "facebook"}, NewClientMetadata("1.2.3.4", "UA"))
	require.NoError(t, err)

	req := apexWebhook("payment_approved", "S1")
	req.Tracking.UTMID = "abc123"
	res, err := f.flow.ProcessWebhook(ctx, req, NewClientMetadata("5.6.7.8", "UA"))
	require.NoError(t, err)

	assert.True(t, res.Inserted)
	assert.Equal(t, StepClickID, res.AttributionStep)
	require.NotNil(t, res.ClickID)
	assert.Equal(t, "abc123", *res.ClickID)

	sale, _ := f.sales.BySaleCode(ctx, "S1")
	require.NotNil(t, sale)
	assert.Equal(t, "facebook", utils.Deref(sale.UTMSource))
	assert.Equal(t, "abc123", utils.Deref(sale.ClickID))
	assert.InDelta(t, 49.90, utils.Deref(sale.PlanValue), 0.0001)
	assert.Equal(t, models.SaleStatusApproved, sale.Status)
	assert.NotNil(t, sale.ApprovedAt)
	assert.True(t, sale.FacebookSent)

	require.NotNil(t, res.Dispatch)
	assert.Equal(t, "abc123", f.fb.sent()[0].Click.ClickID)
}

func TestProcessWebhook_FractionalPlanValueIsNotDividedAgain(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()
	f.clicks.add(&models.Click{ClickID: "frac1", ReceivedAt: utils.UTCNow()})

	req := apexWebhook("payment_approved", "S-FRAC")
	req.Transaction.PlanValue = utils.ToPtr(49.90)
	req.Tracking.ClickID = "frac1"
	_, err := f.flow.ProcessWebhook(ctx, req, NewClientMetadata("5.6.7.8", "UA"))
	require.NoError(t, err)

	sale, _ := f.sales.BySaleCode(ctx, "S-FRAC")
	require.NotNil(t, sale)
	assert.InDelta(t, 49.90, utils.Deref(sale.PlanValue), 0.0001)
	require.Len(t, f.fb.sent(), 1)
	assert.InDelta(t, 49.90, f.fb.sent()[0].Amount.Major, 0.0001)
	assert.Equal(t, int64(4990), f.fb.sent()[0].Amount.Minor)
}

func TestProcessWebhook_DuplicateMerges(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	exists, err := f.flow.SaleExists(ctx, "S1")
	require.NoError(t, err)
	assert.False(t, exists)

	first, err := f.flow.ProcessWebhook(ctx, apexWebhook("payment_approved", "S1"), nil)
	require.NoError(t, err)
	assert.True(t, first.Inserted)

	exists, err = f.flow.SaleExists(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, exists)

	again := apexWebhook("payment_approved", "S1")
	again.Customer.Email = ""
	second, err := f.flow.ProcessWebhook(ctx, again, nil)
	require.NoError(t, err)
	assert.False(t, second.Inserted)

	assert.Len(t, f.sales.all(), 1)
	sale, _ := f.sales.BySaleCode(ctx, "S1")
	assert.Equal(t, "maria@example.com", utils.Deref(sale.CustomerEmail))
	assert.Equal(t, int32(1), f.fb.calls.Load())
	assert.True(t, second.Dispatch.Results[0].AlreadySent)
}

func TestProcessWebhook_NoMatchStoresNullClick(t *testing.T) {
	f := newPipelineFixture()
	req := apexWebhook("payment_approved", "S7")
	req.Tracking.UTMSource = "google"
	req.Tracking.UTMID = "nope"

	res, err := f.flow.ProcessWebhook(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Nil(t, res.ClickID)
	assert.Empty(t, res.AttributionStep)

	sale, _ := f.sales.BySaleCode(context.Background(), "S7")
	assert.Nil(t, sale.ClickID)
	assert.Nil(t, sale.AttributionStep)
	assert.Equal(t, "google", utils.Deref(sale.UTMSource))
}

func TestProcessWebhook_StatusDoesNotRegress(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	_, err := f.flow.ProcessWebhook(ctx, apexWebhook("payment_approved", "S1"), nil)
	require.NoError(t, err)
	res, err := f.flow.ProcessWebhook(ctx, apexWebhook("payment_created", "S1"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.SaleStatusApproved, res.Status)
}

func TestProcessWebhook_Validation(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	_, err := f.flow.ProcessWebhook(ctx, apexWebhook("payment_approved", ""), nil)
	assert.True(t, IsSaleCodeRequired(err))

	_, err = f.flow.ProcessWebhook(ctx, apexWebhook("", "S1"), nil)
	assert.ErrorIs(t, err, ErrEventRequired)

	_, err = f.flow.ProcessWebhook(ctx, apexWebhook("subscription_renewed", "S1"), nil)
	assert.True(t, IsUnsupportedEvent(err))

	assert.Empty(t, f.sales.all(), "rejected events must not write")
}

func TestProcessWebhook_ResolverErrorStillStoresSale(t *testing.T) {
	f := newPipelineFixture()
	f.clicks.err = errors.New("db down")

	req := apexWebhook("payment_approved", "S1")
	req.Tracking.ClickID = "abc"
	res, err := f.flow.ProcessWebhook(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Nil(t, res.ClickID)
	assert.Len(t, f.sales.all(), 1)
}

func TestRecordAndMarkWebhook(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()
	req := apexWebhook("payment_approved", "S1")

	id, err := f.flow.RecordWebhook(ctx, req, []byte(`{"event":"payment_approved"}`))
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, "apex", f.webhooks.events[0].Provider)
	assert.JSONEq(t, `{"event":"payment_approved"}`, string(f.webhooks.events[0].Payload))

	f.flow.MarkWebhookProcessed(ctx, id, ErrUnsupportedEvent)
	assert.Nil(t, f.webhooks.processed[id])

	id2, err := f.flow.RecordWebhook(ctx, req, []byte("not json"))
	require.NoError(t, err)
	assert.Contains(t, string(f.webhooks.events[1].Payload), `"sale_code":"S1"`)
	f.flow.MarkWebhookProcessed(ctx, id2, errors.New("boom"))
	assert.EqualError(t, f.webhooks.processed[id2], "boom")
}

func TestStatusForApexEvent(t *testing.T) {
	for event, want := range map[string]models.SaleStatus{
		"payment_approved": models.SaleStatusApproved,
		"PAYMENT_PAID":     models.SaleStatusPaid,
		"pix_generated":    models.SaleStatusCreated,
		"payment_pending":  models.SaleStatusPending,
	} {
		got, ok := StatusForApexEvent(event)
		assert.True(t, ok, event)
		assert.Equal(t, want, got)
	}
	_, ok := StatusForApexEvent("refund")
	assert.False(t, ok)
}

func TestParseEventTime(t *testing.T) {
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), parseEventTime("2026-01-02T03:04:05Z"))
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), parseEventTime("2026-01-02 03:04:05"))
	assert.Equal(t, time.Unix(1767323045, 0).UTC(), parseEventTime("1767323045"))
	assert.WithinDuration(t, utils.UTCNow(), parseEventTime("garbage"), time.Minute)
}
