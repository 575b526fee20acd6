package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
)

// GroupHandler handles group conversation HTTP requests
type GroupHandler struct {
	groupRepository   repositories.GroupRepository
	messageRepository repositories.MessageRepository
}

// NewGroupHandler creates a new GroupHandler
func NewGroupHandler(groupRepo repositories.GroupRepository, messageRepo repositories.MessageRepository) *GroupHandler {
	return &GroupHandler{
		groupRepository:   groupRepo,
		messageRepository: messageRepo,
	}
}

// RegisterGroupRoutes registers group routes
func (h *GroupHandler) RegisterGroupRoutes(g *echo.Group) {
	g.GET("/message-groups", h.GetGroups)
	g.GET("/message-groups/:id/messages", h.GetGroupMessages)
	g.POST("/message-groups/:id/messages", h.CreateGroupMessage)
	g.POST("/message-groups/:id/messages/", h.CreateGroupMessage)
}

// GetGroups lists the caller's groups
func (h *GroupHandler) GetGroups(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	groups, err := h.groupRepository.GetUserGroups(currentUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"groups": groups}})
}

// GetGroupMessages returns the latest group messages in ascending date order
func (h *GroupHandler) GetGroupMessages(c echo.Context) error {
	groupID, err := h.requireMember(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 || limit > maxPageSize {
		limit = maxPageSize
	}

	messages, err := h.messageRepository.ListForGroup(groupID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// repository returns newest first so the limit keeps the latest ones
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].DateSent.Equal(messages[j].DateSent) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].DateSent.Before(messages[j].DateSent)
	})

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"messages": messages}})
}

// CreateGroupMessage posts a message in a group the caller belongs to
func (h *GroupHandler) CreateGroupMessage(c echo.Context) error {
	groupID, err := h.requireMember(c)
	if err != nil {
		return err
	}

	var req models.CreateGroupMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	message := &models.Message{
		Content:  req.Content,
		DateSent: time.Now().UTC(),
		Status:   models.StatusUnread,
		SenderID: getUserIDFromContext(c),
		GroupID:  &groupID,
	}
	if err := h.messageRepository.CreateMessage(message); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": message})
}

func (h *GroupHandler) requireMember(c echo.Context) (uint, error) {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	groupID, err := parseIDParam(c, "id")
	if err != nil {
		return 0, err
	}
	if _, err := h.groupRepository.GetGroupByID(groupID); err != nil {
		return 0, notFoundOr500(err, "Group")
	}
	member, err := h.groupRepository.IsMember(groupID, currentUserID)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !member {
		return 0, echo.NewHTTPError(http.StatusForbidden, "Not a member of this group")
	}
	return groupID, nil
}
