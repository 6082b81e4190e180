package handlers

import (
	"github.com/amirphl/conversion-relay/app/dto"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

const BootstrapKeyHeader = "X-Admin-Bootstrap-Key"

// AdminHandlerInterface defines the operator endpoints
type AdminHandlerInterface interface {
	ListPixels(c fiber.Ctx) error
	UpsertPixel(c fiber.Ctx) error
	DeactivatePixel(c fiber.Ctx) error
	Redispatch(c fiber.Ctx) error
	ListFailedDispatches(c fiber.Ctx) error
	ExportFailedDispatches(c fiber.Ctx) error
	IssueToken(c fiber.Ctx) error
}

type AdminHandler struct {
	pixels     businessflow.PixelAdminFlow
	dispatches businessflow.DispatchAdminFlow
	auth       businessflow.AdminAuthFlow
	validator  *validator.Validate
	logger     logrus.FieldLogger
}

func NewAdminHandler(
	pixels businessflow.PixelAdminFlow,
	dispatches businessflow.DispatchAdminFlow,
	auth businessflow.AdminAuthFlow,
	logger logrus.FieldLogger,
) AdminHandlerInterface {
	return &AdminHandler{
		pixels:     pixels,
		dispatches: dispatches,
		auth:       auth,
		validator:  validator.New(),
		logger:     logger,
	}
}

// ListPixels returns active pixels without their access tokens
// @Summary List pixels
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.APIResponse{data=[]dto.PixelDTO}
// @Router /admin/pixels [get]
func (h *AdminHandler) ListPixels(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/admin/pixels", 0)
	defer cancel()

	pixels, err := h.pixels.ListPixels(ctx)
	if err != nil {
		h.logger.WithError(err).Error("List pixels failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list pixels", "LIST_PIXELS_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Pixels retrieved", pixels)
}

// UpsertPixel creates or updates a pixel and reactivates it
// @Summary Upsert pixel
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.UpsertPixelRequest true "Pixel"
// @Success 200 {object} dto.APIResponse{data=dto.PixelDTO}
// @Failure 400 {object} dto.APIResponse
// @Router /admin/pixels [post]
func (h *AdminHandler) UpsertPixel(c fiber.Ctx) error {
	var req dto.UpsertPixelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/admin/pixels", 0)
	defer cancel()

	px, err := h.pixels.UpsertPixel(ctx, req)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
		}
		h.logger.WithError(err).WithField("pixel_id", req.PixelID).Error("Upsert pixel failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save pixel", "UPSERT_PIXEL_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Pixel saved", px)
}

func (h *AdminHandler) DeactivatePixel(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/admin/pixels", 0)
	defer cancel()

	err := h.pixels.DeactivatePixel(ctx, c.Params("platform"), c.Params("pixel_id"))
	switch {
	case err == nil:
		return SuccessResponse(c, fiber.StatusOK, "Pixel deactivated", nil)
	case businessflow.IsPixelNotFound(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Pixel not found", "PIXEL_NOT_FOUND", nil)
	case businessflow.IsValidationError(err):
		return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
	default:
		h.logger.WithError(err).Error("Deactivate pixel failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to deactivate pixel", "DEACTIVATE_PIXEL_FAILED", nil)
	}
}

// Redispatch re-runs conversion sends for a stored sale
// @Summary Redispatch sale
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sale_code path string true "Sale code"
// @Param request body dto.RedispatchRequest false "Mode"
// @Success 200 {object} dto.APIResponse{data=[]dto.PlatformResultDTO}
// @Failure 404 {object} dto.APIResponse
// @Router /admin/sales/{sale_code}/dispatch [post]
func (h *AdminHandler) Redispatch(c fiber.Ctx) error {
	var req dto.RedispatchRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
		}
	}
	saleCode := c.Params("sale_code")

	ctx, cancel := createRequestContext(c, "/admin/sales/dispatch", webhookProcessTimeout)
	defer cancel()

	report, err := h.dispatches.Redispatch(ctx, saleCode, req.Test)
	if err != nil {
		switch {
		case businessflow.IsSaleNotFound(err):
			return ErrorResponse(c, fiber.StatusNotFound, "Sale not found", "SALE_NOT_FOUND", nil)
		case businessflow.IsValidationError(err):
			return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
		}
		h.logger.WithError(err).WithField("sale_code", saleCode).Error("Redispatch failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to redispatch sale", "REDISPATCH_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Sale dispatched", toPlatformResults(report.Results))
}

func (h *AdminHandler) ListFailedDispatches(c fiber.Ctx) error {
	var req dto.ListFailedDispatchesRequest
	if err := c.Bind().Query(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid query", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/admin/dispatches/failed", 0)
	defer cancel()

	res, err := h.dispatches.ListFailed(ctx, req)
	if err != nil {
		if businessflow.IsValidationError(err) {
			return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
		}
		h.logger.WithError(err).Error("List failed dispatches failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list dispatches", "LIST_FAILED_DISPATCHES_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Failed dispatches retrieved", res)
}

// ExportFailedDispatches streams the failed sends as an Excel workbook
// @Summary Export failed dispatches
// @Tags Admin
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Success 200 {string} string "Excel file"
// @Router /admin/dispatches/failed/export [get]
func (h *AdminHandler) ExportFailedDispatches(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/admin/dispatches/failed/export", webhookProcessTimeout)
	defer cancel()

	filename, data, err := h.dispatches.ExportFailed(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Export failed dispatches failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate Excel", "DOWNLOAD_FAILED", nil)
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

// IssueToken mints an admin token for the holder of the bootstrap key
func (h *AdminHandler) IssueToken(c fiber.Ctx) error {
	var req dto.IssueAdminTokenRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/admin/tokens", 0)
	defer cancel()

	res, err := h.auth.IssueToken(ctx, c.Get(BootstrapKeyHeader), req)
	switch {
	case businessflow.IsBootstrapDisabled(err):
		return ErrorResponse(c, fiber.StatusNotFound, "Not found", "NOT_FOUND", nil)
	case businessflow.IsInvalidBootstrapKey(err):
		h.logger.WithField("ip", c.IP()).Warn("Admin token request with invalid bootstrap key")
		return ErrorResponse(c, fiber.StatusUnauthorized, "Invalid bootstrap key", "INVALID_BOOTSTRAP_KEY", nil)
	case err != nil:
		h.logger.WithError(err).Error("Issue admin token failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to issue token", "ISSUE_TOKEN_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusCreated, "Token issued", res)
}
