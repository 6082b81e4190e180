// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/services"
	"github.com/gofiber/fiber/v3"
)

// AuthMiddleware handles JWT token validation for admin endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

// AdminAuthenticate validates JWT tokens and sets admin-specific context values
func (m *AuthMiddleware) AdminAuthenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Get the Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Authorization header is required",
				Error:   dto.ErrorDetail{Code: "MISSING_AUTHORIZATION_HEADER"},
			})
		}

		// Check Bearer format; proxies may strip the space after a bare scheme
		scheme, token, _ := strings.Cut(strings.TrimSpace(authHeader), " ")
		if !strings.EqualFold(scheme, "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Invalid authorization header format. Expected 'Bearer <token>'",
				Error:   dto.ErrorDetail{Code: "INVALID_AUTHORIZATION_FORMAT"},
			})
		}

		token = strings.TrimSpace(token)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Access token is required",
				Error:   dto.ErrorDetail{Code: "MISSING_ACCESS_TOKEN"},
			})
		}

		claims, err := m.tokenService.ValidateAdminToken(token)
		if err != nil {
			var code, msg string
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				code, msg = "TOKEN_EXPIRED", "Access token has expired"
			case errors.Is(err, services.ErrTokenRevoked):
				code, msg = "TOKEN_REVOKED", "Access token has been revoked"
			case errors.Is(err, services.ErrTokenInvalid):
				code, msg = "TOKEN_INVALID", "Invalid access token"
			default:
				code, msg = "TOKEN_VALIDATION_FAILED", "Token validation failed"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{Success: false, Message: msg, Error: dto.ErrorDetail{Code: code}})
		}

		c.Locals("admin_subject", claims.Subject)
		c.Locals("token_id", claims.TokenID)
		c.Locals("token_claims", claims)

		return c.Next()
	}
}

// GetAdminSubjectFromContext returns the subject of the authenticated admin token
func GetAdminSubjectFromContext(c fiber.Ctx) (string, bool) {
	subject, ok := c.Locals("admin_subject").(string)
	return subject, ok && subject != ""
}

// GetTokenClaimsFromContext extracts token claims from the request context
func GetTokenClaimsFromContext(c fiber.Ctx) (*services.AdminTokenClaims, bool) {
	claims, ok := c.Locals("token_claims").(*services.AdminTokenClaims)
	return claims, ok
}
