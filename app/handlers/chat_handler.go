package handlers

import (
	"github.com/amirphl/conversion-relay/app/dto"
	businessflow "github.com/amirphl/conversion-relay/business_flow"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// ChatHandlerInterface accepts chat notifications over HTTP
type ChatHandlerInterface interface {
	Receive(c fiber.Ctx) error
}

type ChatHandler struct {
	flow      businessflow.ChatIngestionFlow
	validator *validator.Validate
	logger    logrus.FieldLogger
}

func NewChatHandler(flow businessflow.ChatIngestionFlow, logger logrus.FieldLogger) ChatHandlerInterface {
	return &ChatHandler{flow: flow, validator: validator.New(), logger: logger}
}

func (h *ChatHandler) Receive(c fiber.Ctx) error {
	var req dto.ChatMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationDetails(err))
	}

	ctx, cancel := createRequestContext(c, "/api/chat/messages", webhookProcessTimeout)
	defer cancel()

	res, err := h.flow.ProcessMessage(ctx, businessflow.ChatMessage{
		ChatID:     req.ChatID,
		MessageID:  req.MessageID,
		Text:       req.Text,
		ReceivedAt: utils.UTCNow(),
	})
	if businessflow.IsNotASaleEvent(err) {
		return SuccessResponse(c, fiber.StatusOK, "Message ignored", dto.ChatMessageResponse{})
	}
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", req.ChatID).Error("Chat message processing failed")
		return ErrorResponse(c, fiber.StatusInternalServerError, "Failed to process message", "CHAT_PROCESSING_FAILED", nil)
	}
	return SuccessResponse(c, fiber.StatusOK, "Message processed", dto.ChatMessageResponse{
		IsSale:           true,
		AlreadyProcessed: res.AlreadyProcessed,
		Sale:             ToSaleProcessingResponse(res.Sale),
	})
}
