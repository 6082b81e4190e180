// Package businessflow contains the attribution, dispatch and ingestion use cases of the relay
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Validation errors
	ErrClickIDRequired       = errors.New("click_id is required")
	ErrSaleCodeRequired      = errors.New("sale_code or transaction id is required")
	ErrEventRequired         = errors.New("event is required")
	ErrInvalidPlatform       = errors.New("invalid platform")
	ErrPixelIDRequired       = errors.New("pixel_id is required")
	ErrAccessTokenRequired   = errors.New("access_token is required")
	ErrInvalidPaginationArgs = errors.New("invalid pagination arguments")

	// Not-found errors
	ErrPixelNotFound = errors.New("pixel not found")
	ErrSaleNotFound  = errors.New("sale not found")

	// Non-error outcomes callers usually acknowledge and drop
	ErrNotASaleEvent     = errors.New("message is not a sale event")
	ErrUnsupportedEvent  = errors.New("unsupported webhook event")
	ErrAlreadyProcessed  = errors.New("message already processed")
	ErrAggregatorMissing = errors.New("sales aggregator is not configured")

	// Admin auth errors
	ErrBootstrapDisabled   = errors.New("admin bootstrap is disabled")
	ErrInvalidBootstrapKey = errors.New("invalid bootstrap key")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// IsValidationError reports whether err rejects the input before any state is written
func IsValidationError(err error) bool {
	return errors.Is(err, ErrClickIDRequired) ||
		errors.Is(err, ErrSaleCodeRequired) ||
		errors.Is(err, ErrEventRequired) ||
		errors.Is(err, ErrInvalidPlatform) ||
		errors.Is(err, ErrPixelIDRequired) ||
		errors.Is(err, ErrAccessTokenRequired) ||
		errors.Is(err, ErrInvalidPaginationArgs)
}

func IsClickIDRequired(err error) bool {
	return errors.Is(err, ErrClickIDRequired)
}

func IsSaleCodeRequired(err error) bool {
	return errors.Is(err, ErrSaleCodeRequired)
}

func IsInvalidPlatform(err error) bool {
	return errors.Is(err, ErrInvalidPlatform)
}

func IsPixelNotFound(err error) bool {
	return errors.Is(err, ErrPixelNotFound)
}

func IsSaleNotFound(err error) bool {
	return errors.Is(err, ErrSaleNotFound)
}

func IsNotASaleEvent(err error) bool {
	return errors.Is(err, ErrNotASaleEvent)
}

func IsUnsupportedEvent(err error) bool {
	return errors.Is(err, ErrUnsupportedEvent)
}

func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

func IsBootstrapDisabled(err error) bool {
	return errors.Is(err, ErrBootstrapDisabled)
}

func IsInvalidBootstrapKey(err error) bool {
	return errors.Is(err, ErrInvalidBootstrapKey)
}
