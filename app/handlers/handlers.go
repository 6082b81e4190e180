// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultRequestTimeout = 15 * time.Second

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return err.Field() + " must be at least " + err.Param() + " characters"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

// validationDetails flattens validator errors into field -> message pairs
func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	out := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, map[string]string{"field": fe.Field(), "message": getValidationErrorMessage(fe)})
	}
	return out
}

func ErrorResponse(c fiber.Ctx, statusCode int, message, code string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: code, Details: details}})
}

func SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

// clientMetadata captures the caller details flows attach to clicks and sales
func clientMetadata(c fiber.Ctx) *businessflow.ClientMetadata {
	meta := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	meta.SetRequestID(c.Get(businessflow.RequestIDKey))
	meta.SetReferrer(c.Get("Referer"))
	return meta
}

// createRequestContext detaches the flow from the fasthttp request so a slow client cannot cancel it
func createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get(businessflow.RequestIDKey))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	return ctx, cancel
}

func ToSaleProcessingResponse(res *businessflow.SaleProcessingResult) *dto.SaleProcessingResponse {
	if res == nil {
		return nil
	}
	out := &dto.SaleProcessingResponse{
		SaleCode:        res.SaleCode,
		Inserted:        res.Inserted,
		Status:          string(res.Status),
		ClickID:         res.ClickID,
		AttributionStep: string(res.AttributionStep),
	}
	if res.Dispatch != nil {
		out.Dispatch = toPlatformResults(res.Dispatch.Results)
	}
	return out
}

func toPlatformResults(results []businessflow.PlatformResult) []dto.PlatformResultDTO {
	out := make([]dto.PlatformResultDTO, 0, len(results))
	for _, r := range results {
		out = append(out, dto.PlatformResultDTO{
			Platform:    string(r.Platform),
			PixelID:     r.PixelID,
			EventName:   r.EventName,
			Success:     r.Success,
			AlreadySent: r.AlreadySent,
			InFlight:    r.InFlight,
			Error:       r.Error,
		})
	}
	return out
}
