package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleStatus_RankOrder(t *testing.T) {
	assert.Less(t, SaleStatusPending.Rank(), SaleStatusCreated.Rank())
	assert.Less(t, SaleStatusCreated.Rank(), SaleStatusApproved.Rank())
	assert.Less(t, SaleStatusApproved.Rank(), SaleStatusPaid.Rank())
	assert.Equal(t, -1, SaleStatus("refunded").Rank())
	assert.False(t, SaleStatus("").Valid())
	assert.True(t, SaleStatusPaid.Valid())
}

func TestSaleStatus_IsConfirmed(t *testing.T) {
	assert.True(t, SaleStatusApproved.IsConfirmed())
	assert.True(t, SaleStatusPaid.IsConfirmed())
	assert.False(t, SaleStatusCreated.IsConfirmed())
	assert.False(t, SaleStatusPending.IsConfirmed())
}

func TestPlatform_SentFlagColumn(t *testing.T) {
	tests := []struct {
		platform Platform
		column   string
		ok       bool
	}{
		{PlatformFacebook, "facebook_sent", true},
		{PlatformTikTok, "tiktok_sent", true},
		{PlatformKwai, "kwai_sent", true},
		{PlatformUTMify, "utmify_sent", true},
		{Platform("google; DROP TABLE sales"), "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.platform), func(t *testing.T) {
			col, ok := tt.platform.SentFlagColumn()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.column, col)
		})
	}
}

func TestPlatform_IsAdPlatform(t *testing.T) {
	assert.True(t, PlatformKwai.IsAdPlatform())
	assert.False(t, PlatformUTMify.IsAdPlatform())
}

func TestClick_Helpers(t *testing.T) {
	empty := ""
	fbp := "fb.1.123.456"
	var nilClick *Click
	assert.False(t, nilClick.HasTTCLID())
	assert.False(t, (&Click{TTCLID: &empty}).HasTTCLID())
	assert.True(t, (&Click{FBP: &fbp}).HasFacebookIDs())
	assert.False(t, (&Click{FBC: &empty}).HasFacebookIDs())
}

func TestPixelConfig_AccessTokenNotSerialized(t *testing.T) {
	raw, err := json.Marshal(PixelConfig{Name: "main", Platform: PlatformFacebook, PixelID: "123", AccessToken: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
}
