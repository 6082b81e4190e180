package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	testingutil "github.com/amirphl/conversion-relay/testing"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickRepository(t *testing.T) {
	testingutil.WithTestDB(t, func(tdb *testingutil.TestDB) {
		repo := repository.NewClickRepository(tdb.DB)
		fixtures := testingutil.NewTestFixtures(tdb)
		ctx := testingutil.CreateTestContext()
		now := utils.UTCNow()

		t.Run("SaveIfAbsentIsIdempotent", func(t *testing.T) {
			first := testingutil.NewClick(now)
			first.UTMSource = utils.ToPtr("facebook")
			created, err := repo.SaveIfAbsent(ctx, first)
			require.NoError(t, err)
			assert.True(t, created)

			dup := testingutil.NewClick(now)
			dup.ClickID = first.ClickID
			dup.UTMSource = utils.ToPtr("tiktok")
			created, err = repo.SaveIfAbsent(ctx, dup)
			require.NoError(t, err)
			assert.False(t, created)

			count, err := repo.Count(ctx, models.ClickFilter{ClickID: &first.ClickID})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			stored, err := repo.ByClickID(ctx, first.ClickID)
			require.NoError(t, err)
			assert.Equal(t, "facebook", *stored.UTMSource)
		})

		t.Run("ByClickIDNotFound", func(t *testing.T) {
			click, err := repo.ByClickID(ctx, "does-not-exist")
			assert.NoError(t, err)
			assert.Nil(t, click)
		})

		t.Run("FacebookIDsPrefersMostRecent", func(t *testing.T) {
			_, err := fixtures.CreateClick(now.Add(-2*time.Hour), func(c *models.Click) { c.FBP = utils.ToPtr("fb.1.111") })
			require.NoError(t, err)
			newer, err := fixtures.CreateClick(now.Add(-time.Hour), func(c *models.Click) { c.FBC = utils.ToPtr("fb.1.abc") })
			require.NoError(t, err)

			got, err := repo.LatestByFacebookIDs(ctx, "fb.1.abc", "fb.1.111")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, newer.ClickID, got.ClickID)

			none, err := repo.LatestByFacebookIDs(ctx, "", " ")
			require.NoError(t, err)
			assert.Nil(t, none)
		})

		t.Run("SubstringEscapesWildcards", func(t *testing.T) {
			target, err := fixtures.CreateClick(now, func(c *models.Click) { c.ClickID = "campaignXYZ_long_identifier_42" })
			require.NoError(t, err)

			got, err := repo.LatestBySubstring(ctx, "XYZ_long_identifier")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, target.ClickID, got.ClickID)

			got, err = repo.LatestBySubstring(ctx, "%")
			require.NoError(t, err)
			assert.Nil(t, got)
		})

		t.Run("IPWindowTieBreak", func(t *testing.T) {
			ip := "198.51.100.7"
			_, err := fixtures.CreateClick(now.Add(-5*time.Minute), func(c *models.Click) { c.IP = &ip })
			require.NoError(t, err)
			withFB, err := fixtures.CreateClick(now.Add(-20*time.Minute), func(c *models.Click) { c.IP = &ip; c.FBP = utils.ToPtr("fb.1.ip") })
			require.NoError(t, err)

			got, err := repo.LatestByIPWindow(ctx, ip, now.Add(-time.Hour), now)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, withFB.ClickID, got.ClickID)

			withTT, err := fixtures.CreateClick(now.Add(-50*time.Minute), func(c *models.Click) { c.IP = &ip; c.TTCLID = utils.ToPtr("tt-1") })
			require.NoError(t, err)
			got, err = repo.LatestByIPWindow(ctx, ip, now.Add(-time.Hour), now)
			require.NoError(t, err)
			assert.Equal(t, withTT.ClickID, got.ClickID)

			_, err = fixtures.CreateClick(now.Add(-3*time.Hour), func(c *models.Click) { c.IP = utils.ToPtr("192.0.2.1") })
			require.NoError(t, err)
			got, err = repo.LatestByIPWindow(ctx, "192.0.2.1", now.Add(-time.Hour), now)
			require.NoError(t, err)
			assert.Nil(t, got)
		})

		t.Run("DeleteReceivedBefore", func(t *testing.T) {
			old, err := fixtures.CreateClick(now.Add(-72*time.Hour), nil)
			require.NoError(t, err)

			ids, err := repo.DeleteReceivedBefore(ctx, now.Add(-48*time.Hour), 100)
			require.NoError(t, err)
			assert.Contains(t, ids, old.ClickID)

			gone, err := repo.ByClickID(ctx, old.ClickID)
			require.NoError(t, err)
			assert.Nil(t, gone)
		})
	})
}

func TestSaleRepository(t *testing.T) {
	testingutil.WithTestDB(t, func(tdb *testingutil.TestDB) {
		repo := repository.NewSaleRepository(tdb.DB)
		clicks := repository.NewClickRepository(tdb.DB)
		ctx := testingutil.CreateTestContext()

		t.Run("UpsertCoalescesNullFields", func(t *testing.T) {
			first := testingutil.NewSale("S1")
			first.Status = models.SaleStatusCreated
			res, err := repo.Upsert(ctx, first, repository.SaleUpsertOptions{})
			require.NoError(t, err)
			assert.True(t, res.Inserted)

			second := &models.Sale{SaleCode: "S1", Status: models.SaleStatusApproved, CustomerEmail: nil, CustomerName: utils.ToPtr("")}
			res, err = repo.Upsert(ctx, second, repository.SaleUpsertOptions{})
			require.NoError(t, err)
			assert.False(t, res.Inserted)
			assert.Equal(t, "maria@example.com", *res.Sale.CustomerEmail)
			assert.Equal(t, "Maria Silva", *res.Sale.CustomerName)
			assert.Equal(t, models.SaleStatusApproved, res.Sale.Status)
			require.NotNil(t, res.Sale.PlanValue)
			assert.InDelta(t, 49.90, *res.Sale.PlanValue, 0.001)

			count, err := repo.Count(ctx, models.SaleFilter{SaleCode: utils.ToPtr("S1")})
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})

		t.Run("StatusGuard", func(t *testing.T) {
			_, err := repo.Upsert(ctx, &models.Sale{SaleCode: "S2", Status: models.SaleStatusApproved, ApprovedAt: utils.UTCNowPtr()}, repository.SaleUpsertOptions{})
			require.NoError(t, err)

			res, err := repo.Upsert(ctx, &models.Sale{SaleCode: "S2", Status: models.SaleStatusPending}, repository.SaleUpsertOptions{MonotonicStatus: true})
			require.NoError(t, err)
			assert.Equal(t, models.SaleStatusApproved, res.Sale.Status)
			assert.NotNil(t, res.Sale.ApprovedAt)

			res, err = repo.Upsert(ctx, &models.Sale{SaleCode: "S2", Status: models.SaleStatusPending}, repository.SaleUpsertOptions{})
			require.NoError(t, err)
			assert.Equal(t, models.SaleStatusPending, res.Sale.Status)
			assert.Nil(t, res.Sale.ApprovedAt)
		})

		t.Run("ConcurrentUpsertInsertsOnce", func(t *testing.T) {
			var wg sync.WaitGroup
			inserted := make(chan bool, 8)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := repo.Upsert(context.Background(), testingutil.NewSale("S-RACE"), repository.SaleUpsertOptions{})
					if assert.NoError(t, err) {
						inserted <- res.Inserted
					}
				}()
			}
			wg.Wait()
			close(inserted)
			wins := 0
			for v := range inserted {
				if v {
					wins++
				}
			}
			assert.Equal(t, 1, wins)
		})

		t.Run("MarkSent", func(t *testing.T) {
			_, err := repo.Upsert(ctx, testingutil.NewSale("S3"), repository.SaleUpsertOptions{})
			require.NoError(t, err)
			require.NoError(t, repo.MarkSent(ctx, "S3", models.PlatformTikTok))
			assert.Error(t, repo.MarkSent(ctx, "S3", models.Platform("google")))

			sale, err := repo.BySaleCode(ctx, "S3")
			require.NoError(t, err)
			assert.True(t, sale.TikTokSent)
			assert.False(t, sale.FacebookSent)

			// the upsert never resets a flag
			_, err = repo.Upsert(ctx, testingutil.NewSale("S3"), repository.SaleUpsertOptions{})
			require.NoError(t, err)
			sale, err = repo.BySaleCode(ctx, "S3")
			require.NoError(t, err)
			assert.True(t, sale.TikTokSent)
		})

		t.Run("PriorSaleJoin", func(t *testing.T) {
			click := testingutil.NewClick(utils.UTCNow())
			_, err := clicks.SaveIfAbsent(ctx, click)
			require.NoError(t, err)
			sale := testingutil.NewSale("S4")
			sale.ClickID = &click.ClickID
			_, err = repo.Upsert(ctx, sale, repository.SaleUpsertOptions{})
			require.NoError(t, err)

			got, err := clicks.LatestByPriorSale(ctx, []string{"nope", "S4"})
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, click.ClickID, got.ClickID)
		})
	})
}

func TestConversionDispatchRepository(t *testing.T) {
	testingutil.WithTestDB(t, func(tdb *testingutil.TestDB) {
		repo := repository.NewConversionDispatchRepository(tdb.DB)
		ctx := testingutil.CreateTestContext()
		row := func() *models.ConversionDispatch {
			return &models.ConversionDispatch{
				AttributionKey: "S1", SaleCode: "S1", Platform: models.PlatformFacebook,
				PixelID: "px1", EventName: "Purchase", Mode: models.DispatchModeProduction,
			}
		}

		t.Run("ClaimLifecycle", func(t *testing.T) {
			lease := utils.UTCNow().Add(-time.Minute)

			res, err := repo.Claim(ctx, row(), lease)
			require.NoError(t, err)
			require.True(t, res.Claimed)
			id := res.Dispatch.ID

			res, err = repo.Claim(ctx, row(), lease)
			require.NoError(t, err)
			assert.False(t, res.Claimed)
			assert.Equal(t, models.DispatchStatusPending, res.Dispatch.Status)

			require.NoError(t, repo.MarkFailed(ctx, id, utils.ToPtr(500), "boom"))
			res, err = repo.Claim(ctx, row(), lease)
			require.NoError(t, err)
			require.True(t, res.Claimed)
			assert.Equal(t, 2, res.Dispatch.Attempts)

			require.NoError(t, repo.MarkSent(ctx, id, 200))
			res, err = repo.Claim(ctx, row(), utils.UTCNow().Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, res.Claimed)
			assert.Equal(t, models.DispatchStatusSent, res.Dispatch.Status)

			// a late failure report cannot demote a sent row
			require.NoError(t, repo.MarkFailed(ctx, id, nil, "late"))
			got, err := repo.ByKey(ctx, row().Key())
			require.NoError(t, err)
			assert.Equal(t, models.DispatchStatusSent, got.Status)
		})

		t.Run("StalePendingIsReclaimed", func(t *testing.T) {
			r := row()
			r.AttributionKey = "S-stale"
			res, err := repo.Claim(ctx, r, utils.UTCNow().Add(-time.Minute))
			require.NoError(t, err)
			require.True(t, res.Claimed)

			res, err = repo.Claim(ctx, r, utils.UTCNow().Add(time.Minute))
			require.NoError(t, err)
			assert.True(t, res.Claimed)
		})

		t.Run("ConcurrentClaimsHaveOneWinner", func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r := row()
					r.AttributionKey = "S-race"
					res, err := repo.Claim(context.Background(), r, utils.UTCNow().Add(-time.Minute))
					if assert.NoError(t, err) && res.Claimed {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})

		t.Run("ListFailedAndCounts", func(t *testing.T) {
			r := row()
			r.AttributionKey = "S-failed"
			res, err := repo.Claim(ctx, r, utils.UTCNow())
			require.NoError(t, err)
			require.NoError(t, repo.MarkFailed(ctx, res.Dispatch.ID, utils.ToPtr(400), "bad request"))

			failed, err := repo.ListFailed(ctx, 10, 0)
			require.NoError(t, err)
			require.NotEmpty(t, failed)
			assert.Equal(t, "S-failed", failed[0].AttributionKey)

			counts, err := repo.CountByStatus(ctx)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, counts[models.DispatchStatusFailed], int64(1))
			assert.GreaterOrEqual(t, counts[models.DispatchStatusSent], int64(1))
		})
	})
}

func TestPixelConfigRepository(t *testing.T) {
	testingutil.WithTestDB(t, func(tdb *testingutil.TestDB) {
		repo := repository.NewPixelConfigRepository(tdb.DB)
		ctx := testingutil.CreateTestContext()

		pixel, err := repo.Upsert(ctx, &models.PixelConfig{Name: "main", Platform: models.PlatformTikTok, PixelID: "TT1", AccessToken: "a"})
		require.NoError(t, err)
		assert.NotZero(t, pixel.ID)

		found, err := repo.Deactivate(ctx, models.PlatformTikTok, "TT1")
		require.NoError(t, err)
		assert.True(t, found)

		active, err := repo.ListActive(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, active)

		_, err = repo.Upsert(ctx, &models.PixelConfig{Name: "renamed", Platform: models.PlatformTikTok, PixelID: "TT1", AccessToken: "b"})
		require.NoError(t, err)

		platform := models.PlatformTikTok
		active, err = repo.ListActive(ctx, &platform)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "renamed", active[0].Name)
		assert.Equal(t, "b", active[0].AccessToken)

		found, err = repo.Deactivate(ctx, models.PlatformKwai, "none")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestProcessedMessageRepository(t *testing.T) {
	testingutil.WithTestDB(t, func(tdb *testingutil.TestDB) {
		repo := repository.NewProcessedMessageRepository(tdb.DB)
		ctx := testingutil.CreateTestContext()
		msg := func() *models.ProcessedMessage {
			return &models.ProcessedMessage{Hash: "a3f1c6b0e7a1d2c3b4a5968778695a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f", TransactionID: "tx1", SaleCode: "tx1"}
		}

		created, err := repo.InsertIfAbsent(ctx, msg())
		require.NoError(t, err)
		assert.True(t, created)

		created, err = repo.InsertIfAbsent(ctx, msg())
		require.NoError(t, err)
		assert.False(t, created)

		require.NoError(t, repo.DeleteByHash(ctx, msg().Hash))
		created, err = repo.InsertIfAbsent(ctx, msg())
		require.NoError(t, err)
		assert.True(t, created)
	})
}
