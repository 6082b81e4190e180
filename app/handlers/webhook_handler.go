package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/worker"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

const webhookProcessTimeout = 30 * time.Second

// JobSubmitter queues background work
type JobSubmitter interface {
	Submit(job worker.Job) error
}

// WebhookHandlerInterface defines the payment gateway webhook endpoints
type WebhookHandlerInterface interface {
	Validate(c fiber.Ctx) error
	Receive(c fiber.Ctx) error
}

type WebhookHandler struct {
	flow      businessflow.SaleIngestionFlow
	jobs      JobSubmitter
	validator *validator.Validate
	logger    logrus.FieldLogger
}

func NewWebhookHandler(flow businessflow.SaleIngestionFlow, jobs JobSubmitter, logger logrus.FieldLogger) WebhookHandlerInterface {
	return &WebhookHandler{flow: flow, jobs: jobs, validator: validator.New(), logger: logger}
}

// Validate answers the gateway's probe with the expected payload shape
func (h *WebhookHandler) Validate(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(dto.WebhookValidationResponse{
		Status:   "ok",
		Message:  "Webhook endpoint is reachable",
		Method:   fiber.MethodPost,
		Endpoint: c.Path(),
		ExpectedFormat: map[string]any{
			"event":       "string",
			"timestamp":   "string",
			"transaction": map[string]any{"sale_code": "string", "plan_value": "number (cents)"},
			"customer":    map[string]any{"full_name": "string", "email": "string", "phone": "string"},
			"tracking":    map[string]any{"utm_id": "string", "click_id": "string"},
		},
		Timestamp: utils.UTCNow().Format(time.RFC3339),
	})
}

// Receive stores the webhook and hands it to the worker queue.
// The gateway always gets a 200 once the payload is understood.
// @Summary Apex webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body dto.ApexWebhookRequest true "Webhook"
// @Success 200 {object} dto.APIResponse{data=dto.WebhookAckResponse}
// @Failure 400 {object} dto.APIResponse
// @Router /api/webhook/apex [post]
func (h *WebhookHandler) Receive(c fiber.Ctx) error {
	raw := append([]byte(nil), c.Body()...)

	var req dto.ApexWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	saleCode := req.Transaction.SaleCode
	log := h.logger.WithFields(logrus.Fields{"sale_code": saleCode, "event": req.Event})
	meta := clientMetadata(c)

	recordCtx, cancel := createRequestContext(c, "/api/webhook/apex", 5*time.Second)
	id, err := h.flow.RecordWebhook(recordCtx, req, raw)
	if err != nil {
		log.WithError(err).Warn("Webhook audit row not stored")
	}
	merged, err := h.flow.SaleExists(recordCtx, saleCode)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Could not check for an existing sale")
	}

	job := worker.Job{
		Name: "apex_webhook:" + saleCode,
		Run: func(ctx context.Context) error {
			_, err := h.process(ctx, id, req, meta)
			return err
		},
	}
	err = errors.New("no worker pool")
	if h.jobs != nil {
		err = h.jobs.Submit(job)
	}
	if err == nil {
		message := "Webhook queued"
		if merged {
			message = "Webhook queued; sale already exists and will be merged"
		}
		return SuccessResponse(c, fiber.StatusOK, message, dto.WebhookAckResponse{SaleCode: saleCode, Queued: true, Merged: merged})
	}

	log.WithError(err).Warn("Worker queue unavailable, processing webhook inline")
	ctx, cancel := createRequestContext(c, "/api/webhook/apex", webhookProcessTimeout)
	defer cancel()
	res, procErr := h.process(ctx, id, req, meta)
	if procErr != nil {
		return SuccessResponse(c, fiber.StatusOK, "Webhook received", dto.WebhookAckResponse{SaleCode: saleCode, Merged: merged})
	}
	return SuccessResponse(c, fiber.StatusOK, "Webhook processed", ToSaleProcessingResponse(res))
}

func (h *WebhookHandler) process(ctx context.Context, id uint, req dto.ApexWebhookRequest, meta *businessflow.ClientMetadata) (*businessflow.SaleProcessingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, webhookProcessTimeout)
	defer cancel()

	res, err := h.flow.ProcessWebhook(ctx, req, meta)
	h.flow.MarkWebhookProcessed(ctx, id, err)
	if businessflow.IsUnsupportedEvent(err) {
		h.logger.WithFields(logrus.Fields{"sale_code": req.Transaction.SaleCode, "event": req.Event}).Info("Webhook event ignored")
		return nil, nil
	}
	if err != nil {
		h.logger.WithError(err).WithField("sale_code", req.Transaction.SaleCode).Error("Webhook processing failed")
	}
	return res, err
}
