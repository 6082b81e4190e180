package handlers

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/worker"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/amirphl/conversion-relay/models"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var transparentGIF, _ = base64.StdEncoding.DecodeString(utils.TransparentGIFBase64)

// TrackingHandlerInterface defines the click capture endpoints
type TrackingHandlerInterface interface {
	Track(c fiber.Ctx) error
	Pixel(c fiber.Ctx) error
	Redirect(c fiber.Ctx) error
}

type TrackingHandler struct {
	flow      businessflow.ClickTrackingFlow
	jobs      JobSubmitter
	validator *validator.Validate
	logger    logrus.FieldLogger
}

// NewTrackingHandler builds the handler; beacon clicks are stored through jobs, or inline when jobs is nil
func NewTrackingHandler(flow businessflow.ClickTrackingFlow, jobs JobSubmitter, logger logrus.FieldLogger) TrackingHandlerInterface {
	return &TrackingHandler{flow: flow, jobs: jobs, validator: validator.New(), logger: logger}
}

// Track records a click beacon posted by a landing page
// @Summary Track click
// @Tags Tracking
// @Accept json
// @Produce json
// @Param request body dto.TrackClickRequest true "Click"
// @Success 200 {object} dto.APIResponse{data=dto.TrackClickResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/track [post]
func (h *TrackingHandler) Track(c fiber.Ctx) error {
	var req dto.TrackClickRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/track", 0)
	defer cancel()

	res, err := h.flow.Track(ctx, req, clientMetadata(c))
	if err != nil {
		if businessflow.IsValidationError(err) {
			return ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
		}
		h.logger.WithError(err).WithField("click_id", req.ClickID).Error("Track click failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record click", "TRACK_CLICK_FAILED", nil)
	}
	message := "Click recorded"
	if !res.Saved {
		message = "Click already recorded"
	}
	return SuccessResponse(c, fiber.StatusOK, message, res)
}

// Pixel records a click from a GIF beacon. The image is served whatever happens to the click.
func (h *TrackingHandler) Pixel(c fiber.Ctx) error {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("Pixel handler panicked")
			_ = sendPixel(c)
		}
	}()

	var q dto.TrackingQuery
	if err := c.Bind().Query(&q); err != nil {
		h.logger.WithError(err).Debug("Pixel query could not be bound")
		return sendPixel(c)
	}

	h.saveClick(c, "/pixel.gif", h.flow.PixelClick(q, clientMetadata(c)))
	return sendPixel(c)
}

// Redirect records the click when one is given and forwards to the destination
func (h *TrackingHandler) Redirect(c fiber.Ctx) error {
	var q dto.TrackingQuery
	if err := c.Bind().Query(&q); err != nil {
		h.logger.WithError(err).Debug("Redirect query could not be bound")
	}

	dest, click := h.flow.BuildRedirect(q, clientMetadata(c))
	if click != nil {
		h.saveClick(c, "/redirect", click)
	}
	return c.Redirect().Status(fiber.StatusFound).To(dest)
}

// saveClick hands the click to the worker queue so the beacon answers without waiting on storage.
// When the queue refuses the job the click is stored inline.
func (h *TrackingHandler) saveClick(c fiber.Ctx, endpoint string, click *models.Click) {
	log := h.logger.WithFields(logrus.Fields{"click_id": click.ClickID, "endpoint": endpoint})
	save := func(ctx context.Context) error {
		if _, err := h.flow.Save(ctx, click); err != nil {
			log.WithError(err).Warn("Beacon click not stored")
			return err
		}
		return nil
	}

	err := errors.New("no worker pool")
	if h.jobs != nil {
		err = h.jobs.Submit(worker.Job{
			Name: "click_save:" + click.ClickID,
			Run: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
				defer cancel()
				return save(ctx)
			},
		})
	}
	if err == nil {
		return
	}

	ctx, cancel := createRequestContext(c, endpoint, 0)
	defer cancel()
	_ = save(ctx)
}

func sendPixel(c fiber.Ctx) error {
	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	c.Set("Pragma", "no-cache")
	c.Set("Expires", "0")
	return c.Status(fiber.StatusOK).Send(transparentGIF)
}
