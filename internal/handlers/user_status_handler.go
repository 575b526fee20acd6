package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
	"go.uber.org/zap"
)

// UserStatusHandler answers per-user presence queries
type UserStatusHandler struct {
	presence    repositories.PresenceStore
	presenceLog repositories.PresenceLogRepository
	logger      *zap.Logger
}

// NewUserStatusHandler creates a new UserStatusHandler. presenceLog may be nil.
func NewUserStatusHandler(presence repositories.PresenceStore, presenceLog repositories.PresenceLogRepository, logger *zap.Logger) *UserStatusHandler {
	return &UserStatusHandler{presence: presence, presenceLog: presenceLog, logger: logger}
}

// RegisterUserStatusRoutes registers presence routes
func (h *UserStatusHandler) RegisterUserStatusRoutes(g *echo.Group) {
	g.GET("/api/user-status", h.GetUserStatus)
}

// GetUserStatus returns online/offline for ?userId= and, when known, the last transition time
func (h *UserStatusHandler) GetUserStatus(c echo.Context) error {
	userID, ok := parseOptionalUint(c.QueryParam("userId"))
	if !ok || userID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid userId")
	}

	ctx := c.Request().Context()
	online, err := h.presence.IsOnline(ctx, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := models.UserStatusResponse{UserID: userID, Status: models.PresenceOffline}
	if online {
		resp.Status = models.PresenceOnline
	}
	if h.presenceLog != nil {
		lastSeen, err := h.presenceLog.LastSeen(ctx, userID)
		if err != nil {
			// history is a nice-to-have; the status itself is still correct
			h.logger.Warn("last seen lookup failed", zap.Uint("user_id", userID), zap.Error(err))
		} else {
			resp.LastSeen = lastSeen
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": resp})
}
