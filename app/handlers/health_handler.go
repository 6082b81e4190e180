package handlers

import (
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/gofiber/fiber/v3"
)

const serviceName = "conversion-relay"

type HealthHandler struct {
	version  string
	features []string
}

func NewHealthHandler(version string, features []string) *HealthHandler {
	return &HealthHandler{version: version, features: features}
}

func (h *HealthHandler) Health(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(dto.HealthResponse{
		Status:    "ok",
		Service:   serviceName,
		Version:   h.version,
		Timestamp: utils.UTCNow().Format(time.RFC3339),
		Features:  h.features,
	})
}
