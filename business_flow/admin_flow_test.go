package businessflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/services"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestPixelAdmin_UpsertListDeactivate(t *testing.T) {
	repo := &fakePixelRepo{}
	flow := NewPixelAdminFlow(repo)
	ctx := context.Background()

	created, err := flow.UpsertPixel(ctx, dto.UpsertPixelRequest{
		Name: "Main", Platform: "Facebook", PixelID: "123", AccessToken: "secret", TestEventCode: "TEST1",
	})
	require.NoError(t, err)
	assert.Equal(t, "facebook", created.Platform)
	assert.True(t, created.HasTestCode)

	require.NoError(t, flow.DeactivatePixel(ctx, "facebook", "123"))
	list, err := flow.ListPixels(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = flow.UpsertPixel(ctx, dto.UpsertPixelRequest{Name: "Main", Platform: "facebook", PixelID: "123", AccessToken: "rotated"})
	require.NoError(t, err)
	list, err = flow.ListPixels(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsActive, "upsert reactivates")
	assert.Equal(t, "rotated", repo.pixels[0].AccessToken)
}

func TestPixelAdmin_Errors(t *testing.T) {
	flow := NewPixelAdminFlow(&fakePixelRepo{})
	ctx := context.Background()

	_, err := flow.UpsertPixel(ctx, dto.UpsertPixelRequest{Name: "x", Platform: "utmify", PixelID: "1", AccessToken: "t"})
	assert.True(t, IsInvalidPlatform(err))

	_, err = flow.UpsertPixel(ctx, dto.UpsertPixelRequest{Name: "x", Platform: "tiktok", PixelID: "1"})
	assert.ErrorIs(t, err, ErrAccessTokenRequired)

	assert.True(t, IsPixelNotFound(flow.DeactivatePixel(ctx, "kwai", "missing")))
}

func newDispatchAdminFixture(t *testing.T) (*dispatcherFixture, *fakeSender, DispatchAdminFlow) {
	t.Helper()
	f := newDispatcherFixture(pixel(models.PlatformTikTok, "tt1", true))
	clicks := newFakeClickRepo()
	clicks.add(&models.Click{ClickID: "abc", ReceivedAt: utils.UTCNow(), TTCLID: utils.ToPtr("tt-cb")})
	tt := newFakeSender(models.PlatformTikTok)
	d := f.dispatcher(tt)
	resolver := NewAttributionResolver(clicks, AttributionOptions{}, testLogger)
	return f, tt, NewDispatchAdminFlow(f.sales, f.dispatches, resolver, d, testLogger)
}

func TestDispatchAdmin_Redispatch(t *testing.T) {
	f, tt, flow := newDispatchAdminFixture(t)
	ctx := context.Background()
	_, err := f.sales.Upsert(ctx, &models.Sale{
		SaleCode: "S1", ClickID: utils.ToPtr("abc"), Status: models.SaleStatusApproved, PlanValue: utils.ToPtr(10.0),
	}, repository.SaleUpsertOptions{})
	require.NoError(t, err)

	report, err := flow.Redispatch(ctx, "S1", true)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchModeTest, report.Mode)
	require.Len(t, tt.sent(), 1)
	assert.Equal(t, "tt-cb", tt.sent()[0].Click.TTCLID)
	assert.Equal(t, &services.TestMarker{EventCode: "TEST-tt1"}, tt.sent()[0].Test)

	sale, _ := f.sales.BySaleCode(ctx, "S1")
	assert.False(t, sale.TikTokSent, "test sends leave production flags alone")

	report, err = flow.Redispatch(ctx, "S1", false)
	require.NoError(t, err)
	assert.True(t, report.Results[0].Success)
	assert.Nil(t, tt.sent()[1].Test)

	_, err = flow.Redispatch(ctx, "missing", false)
	assert.True(t, IsSaleNotFound(err))
}

func TestDispatchAdmin_ListAndExportFailed(t *testing.T) {
	f, tt, flow := newDispatchAdminFixture(t)
	ctx := context.Background()
	tt.err = assert.AnError
	for _, code := range []string{"S1", "S2", "S3"} {
		sale := f.storedSale(t, code, models.SaleStatusApproved)
		_, err := f.dispatcher(tt).Dispatch(ctx, DispatchRequest{Sale: sale})
		require.NoError(t, err)
	}

	page, err := flow.ListFailed(ctx, dto.ListFailedDispatchesRequest{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, int64(3), page.Counts["failed"])

	_, err = flow.ListFailed(ctx, dto.ListFailedDispatchesRequest{Page: -1})
	assert.ErrorIs(t, err, ErrInvalidPaginationArgs)

	name, content, err := flow.ExportFailed(ctx)
	require.NoError(t, err)
	assert.Contains(t, name, ".xlsx")

	xl, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer xl.Close()
	rows, err := xl.GetRows("failed_dispatches")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "sale_code", rows[0][1])
	assert.Equal(t, "S1", rows[1][1])
	assert.Equal(t, "tiktok", rows[1][2])
}

func TestAdminAuth_IssueToken(t *testing.T) {
	svc, err := services.NewTokenService(time.Hour, "iss", "aud", "test-secret-key-for-jwt-signing-32-chars")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = NewAdminAuthFlow(svc, "").IssueToken(ctx, "anything", dto.IssueAdminTokenRequest{Subject: "ops"})
	assert.True(t, IsBootstrapDisabled(err))

	flow := NewAdminAuthFlow(svc, "bootstrap")
	_, err = flow.IssueToken(ctx, "wrong", dto.IssueAdminTokenRequest{Subject: "ops"})
	assert.True(t, IsInvalidBootstrapKey(err))

	res, err := flow.IssueToken(ctx, "bootstrap", dto.IssueAdminTokenRequest{Subject: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", res.TokenType)
	claims, err := svc.ValidateAdminToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
}
