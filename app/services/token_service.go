// Package services provides outbound platform clients and technical concerns like admin tokens
package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/conversion-relay/utils"
	"github.com/golang-jwt/jwt/v5"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

const adminTokenType = "admin_access"

// TokenService issues and validates operator tokens for the admin routes
type TokenService interface {
	GenerateAdminToken(subject string) (token string, expiresAt time.Time, err error)
	ValidateAdminToken(token string) (*AdminTokenClaims, error)
	RevokeToken(token string) error
	IsTokenRevoked(tokenID string) bool
}

// AdminTokenClaims represents claims for admin JWTs
type AdminTokenClaims struct {
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
	TokenID   string    `json:"jti"`
}

type adminClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenServiceImpl implements TokenService with HS256 signatures
type TokenServiceImpl struct {
	accessTokenTTL time.Duration
	secretKey      []byte
	issuer         string
	audience       string
	parser         *jwt.Parser

	mu            sync.RWMutex // guards revokedTokens
	revokedTokens map[string]time.Time
}

// NewTokenService creates a new token service
func NewTokenService(accessTokenTTL time.Duration, issuer, audience, secretKey string) (TokenService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	if accessTokenTTL <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}

	return &TokenServiceImpl{
		accessTokenTTL: accessTokenTTL,
		secretKey:      []byte(secretKey),
		issuer:         issuer,
		audience:       audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(utils.UTCNow),
		),
		revokedTokens: make(map[string]time.Time),
	}, nil
}

func (s *TokenServiceImpl) GenerateAdminToken(subject string) (string, time.Time, error) {
	now := utils.UTCNow()
	tokenID, err := generateTokenID()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := now.Add(s.accessTokenTTL)
	claims := adminClaims{
		TokenType: adminTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   subject,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Truncate(time.Second), nil
}

func (s *TokenServiceImpl) ValidateAdminToken(token string) (*AdminTokenClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if s.IsTokenRevoked(claims.ID) {
		return nil, ErrTokenRevoked
	}
	return &AdminTokenClaims{
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		TokenType: claims.TokenType,
		TokenID:   claims.ID,
	}, nil
}

func (s *TokenServiceImpl) RevokeToken(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := utils.UTCNow()
	for id, exp := range s.revokedTokens {
		if now.After(exp) {
			delete(s.revokedTokens, id)
		}
	}
	s.revokedTokens[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func (s *TokenServiceImpl) IsTokenRevoked(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revokedTokens[tokenID]
	return revoked
}

func (s *TokenServiceImpl) parse(token string) (*adminClaims, error) {
	var claims adminClaims
	parsed, err := s.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.TokenType != adminTokenType || claims.ID == "" {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

func generateTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
