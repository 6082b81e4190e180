package businessflow

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/services"
)

// AdminAuthFlow mints admin tokens for holders of the bootstrap key
type AdminAuthFlow interface {
	IssueToken(ctx context.Context, bootstrapKey string, req dto.IssueAdminTokenRequest) (*dto.IssueAdminTokenResponse, error)
}

type AdminAuthFlowImpl struct {
	tokenService services.TokenService
	bootstrapKey string
}

func NewAdminAuthFlow(tokenService services.TokenService, bootstrapKey string) AdminAuthFlow {
	return &AdminAuthFlowImpl{tokenService: tokenService, bootstrapKey: bootstrapKey}
}

func (f *AdminAuthFlowImpl) IssueToken(ctx context.Context, bootstrapKey string, req dto.IssueAdminTokenRequest) (*dto.IssueAdminTokenResponse, error) {
	if f.bootstrapKey == "" {
		return nil, ErrBootstrapDisabled
	}
	if subtle.ConstantTimeCompare([]byte(bootstrapKey), []byte(f.bootstrapKey)) != 1 {
		return nil, ErrInvalidBootstrapKey
	}
	token, expiresAt, err := f.tokenService.GenerateAdminToken(strings.TrimSpace(req.Subject))
	if err != nil {
		return nil, NewBusinessError("TOKEN_GENERATION_FAILED", "Failed to generate admin token", err)
	}
	return &dto.IssueAdminTokenResponse{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}
