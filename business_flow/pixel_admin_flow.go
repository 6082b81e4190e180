package businessflow

import (
	"context"
	"strings"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/repository"
	"github.com/amirphl/conversion-relay/utils"
)

// PixelAdminFlow manages ad-platform pixel credentials
type PixelAdminFlow interface {
	ListPixels(ctx context.Context) ([]dto.PixelDTO, error)
	UpsertPixel(ctx context.Context, req dto.UpsertPixelRequest) (*dto.PixelDTO, error)
	DeactivatePixel(ctx context.Context, platform, pixelID string) error
}

type PixelAdminFlowImpl struct {
	pixelRepo repository.PixelConfigRepository
}

func NewPixelAdminFlow(pixelRepo repository.PixelConfigRepository) PixelAdminFlow {
	return &PixelAdminFlowImpl{pixelRepo: pixelRepo}
}

func (f *PixelAdminFlowImpl) ListPixels(ctx context.Context) ([]dto.PixelDTO, error) {
	rows, err := f.pixelRepo.ListActive(ctx, nil)
	if err != nil {
		return nil, NewBusinessError("LIST_PIXELS_FAILED", "Failed to list pixels", err)
	}
	out := make([]dto.PixelDTO, 0, len(rows))
	for _, px := range rows {
		out = append(out, ToPixelDTO(px))
	}
	return out, nil
}

func (f *PixelAdminFlowImpl) UpsertPixel(ctx context.Context, req dto.UpsertPixelRequest) (*dto.PixelDTO, error) {
	platform, err := parseAdPlatform(req.Platform)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PixelID) == "" {
		return nil, ErrPixelIDRequired
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return nil, ErrAccessTokenRequired
	}

	saved, err := f.pixelRepo.Upsert(ctx, &models.PixelConfig{
		Name:          strings.TrimSpace(req.Name),
		Platform:      platform,
		PixelID:       strings.TrimSpace(req.PixelID),
		AccessToken:   strings.TrimSpace(req.AccessToken),
		EventSourceID: utils.NilIfEmpty(req.EventSourceID),
		TestEventCode: utils.NilIfEmpty(req.TestEventCode),
		IsActive:      true,
	})
	if err != nil {
		return nil, NewBusinessError("UPSERT_PIXEL_FAILED", "Failed to save pixel", err)
	}
	out := ToPixelDTO(saved)
	return &out, nil
}

func (f *PixelAdminFlowImpl) DeactivatePixel(ctx context.Context, platform, pixelID string) error {
	p, err := parseAdPlatform(platform)
	if err != nil {
		return err
	}
	found, err := f.pixelRepo.Deactivate(ctx, p, strings.TrimSpace(pixelID))
	if err != nil {
		return NewBusinessError("DEACTIVATE_PIXEL_FAILED", "Failed to deactivate pixel", err)
	}
	if !found {
		return ErrPixelNotFound
	}
	return nil
}

func parseAdPlatform(raw string) (models.Platform, error) {
	p := models.Platform(strings.ToLower(strings.TrimSpace(raw)))
	if !p.IsAdPlatform() {
		return "", ErrInvalidPlatform
	}
	return p, nil
}

// ToPixelDTO converts a pixel model, leaving the access token out
func ToPixelDTO(px *models.PixelConfig) dto.PixelDTO {
	return dto.PixelDTO{
		ID:            px.ID,
		Name:          px.Name,
		Platform:      string(px.Platform),
		PixelID:       px.PixelID,
		EventSourceID: px.EventSourceID,
		HasTestCode:   utils.Deref(px.TestEventCode) != "",
		IsActive:      px.IsActive,
		CreatedAt:     px.CreatedAt,
		UpdatedAt:     px.UpdatedAt,
	}
}
