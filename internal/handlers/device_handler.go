package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
)

// DeviceHandler registers push tokens
type DeviceHandler struct {
	deviceRepository repositories.DeviceRepository
}

func NewDeviceHandler(deviceRepo repositories.DeviceRepository) *DeviceHandler {
	return &DeviceHandler{deviceRepository: deviceRepo}
}

func (h *DeviceHandler) RegisterDeviceRoutes(g *echo.Group) {
	g.POST("/api/devices", h.RegisterDevice)
}

// RegisterDevice stores (or re-assigns) an FCM token for the caller
func (h *DeviceHandler) RegisterDevice(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req models.RegisterDeviceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	device := &models.DeviceToken{UserID: currentUserID, Token: req.Token, Platform: req.Platform}
	if err := h.deviceRepository.Upsert(device); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": echo.Map{"registered": true}})
}
