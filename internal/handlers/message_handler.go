package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
	"go.uber.org/zap"
)

// MessageHandler handles direct message HTTP requests
type MessageHandler struct {
	messageRepository repositories.MessageRepository
	userRepository    repositories.UserRepository
	groupRepository   repositories.GroupRepository
	presence          repositories.PresenceStore
	notifier          OfflineNotifier
	logger            *zap.Logger
}

// NewMessageHandler creates a new MessageHandler. notifier may be nil.
func NewMessageHandler(
	messageRepo repositories.MessageRepository,
	userRepo repositories.UserRepository,
	groupRepo repositories.GroupRepository,
	presence repositories.PresenceStore,
	notifier OfflineNotifier,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageRepository: messageRepo,
		userRepository:    userRepo,
		groupRepository:   groupRepo,
		presence:          presence,
		notifier:          notifier,
		logger:            logger,
	}
}

// RegisterMessageRoutes registers message routes
func (h *MessageHandler) RegisterMessageRoutes(g *echo.Group) {
	g.GET("/messages", h.GetMessages)
	g.POST("/messages", h.CreateMessage)
	g.PUT("/messages/:id", h.UpdateMessageStatus)
}

// GetMessages returns the caller's messages, newest first. With senderId and
// receiverId it narrows to the conversation between those two users, one of
// whom must be the caller.
func (h *MessageHandler) GetMessages(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	senderID, ok := parseOptionalUint(c.QueryParam("senderId"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid senderId")
	}
	receiverID, ok := parseOptionalUint(c.QueryParam("receiverId"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid receiverId")
	}

	var peerID uint
	switch {
	case senderID == 0 && receiverID == 0:
	case senderID == currentUserID:
		peerID = receiverID
	case receiverID == currentUserID:
		peerID = senderID
	case senderID == 0 || receiverID == 0:
		// only the peer was given
		peerID = senderID + receiverID
	default:
		return echo.NewHTTPError(http.StatusForbidden, "Cannot read a conversation you are not part of")
	}

	page, limit := pagination(c)
	messages, total, err := h.messageRepository.ListForUser(repositories.MessageQuery{
		UserID: currentUserID,
		PeerID: peerID,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data":    echo.Map{"messages": messages},
		"meta":    pageMeta(page, limit, total),
	})
}

// CreateMessage persists a direct message and returns it with its id
func (h *MessageHandler) CreateMessage(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	var req models.CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.ReceiverID == currentUserID {
		return echo.NewHTTPError(http.StatusBadRequest, "Cannot message yourself")
	}
	if _, err := h.userRepository.GetUserByID(req.ReceiverID); err != nil {
		return notFoundOr500(err, "Receiver")
	}

	receiverID := req.ReceiverID
	message := &models.Message{
		Content:    req.Content,
		DateSent:   time.Now().UTC(),
		Status:     models.StatusUnread,
		SenderID:   currentUserID,
		ReceiverID: &receiverID,
	}
	if err := h.messageRepository.CreateMessage(message); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.pushIfOffline(c.Request().Context(), message)

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": message})
}

// UpdateMessageStatus sets read/unread. Only the receiver of a direct message
// or a member of the group may change it.
func (h *MessageHandler) UpdateMessageStatus(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	messageID, err := parseIDParam(c, "id")
	if err != nil {
		return err
	}

	var req models.UpdateMessageStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	message, err := h.messageRepository.GetMessageByID(messageID)
	if err != nil {
		return notFoundOr500(err, "Message")
	}

	allowed := message.ReceiverUserID() == currentUserID
	if message.IsGroup() {
		allowed, err = h.groupRepository.IsMember(message.GroupRefID(), currentUserID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	if !allowed {
		return echo.NewHTTPError(http.StatusForbidden, "Only the recipient can update this message")
	}

	if message.Status != req.Status {
		if err := h.messageRepository.UpdateStatus(messageID, req.Status); err != nil {
			return notFoundOr500(err, "Message")
		}
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": echo.Map{"id": messageID, "status": req.Status}})
}

func (h *MessageHandler) pushIfOffline(ctx context.Context, message *models.Message) {
	if h.notifier == nil {
		return
	}
	receiverID := message.ReceiverUserID()
	online, err := h.presence.IsOnline(ctx, receiverID)
	if err != nil {
		h.logger.Warn("presence lookup failed", zap.Uint("user_id", receiverID), zap.Error(err))
		return
	}
	if online {
		return
	}
	go h.notifier.NotifyOffline(context.WithoutCancel(ctx), message)
}
