// Package push delivers FCM notifications for direct messages whose receiver
// has no open socket.
package push

import (
	"context"
	"strconv"
	"unicode/utf8"

	"firebase.google.com/go/v4/messaging"
	"github.com/quartissimo/realtime/internal/models"
	"github.com/quartissimo/realtime/internal/repositories"
	"go.uber.org/zap"
)

const previewLength = 100

// Messenger is the part of *messaging.Client the notifier uses.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Notifier pushes new messages to the receiver's registered devices.
type Notifier struct {
	messenger Messenger
	devices   repositories.DeviceRepository
	logger    *zap.Logger
}

func NewNotifier(messenger Messenger, devices repositories.DeviceRepository, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{messenger: messenger, devices: devices, logger: logger}
}

// NotifyOffline sends msg to every device of its receiver. Tokens FCM reports
// as unregistered are removed. Errors are logged, never returned.
func (n *Notifier) NotifyOffline(ctx context.Context, msg *models.Message) {
	receiverID := msg.ReceiverUserID()
	if receiverID == 0 {
		return
	}

	tokens, err := n.devices.TokensForUser(receiverID)
	if err != nil {
		n.logger.Warn("push: load device tokens", zap.Uint("user_id", receiverID), zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}

	title := msg.Sender.DisplayName()
	if title == "" {
		title = "Nouveau message"
	}
	res, err := n.messenger.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  preview(msg.Content),
		},
		Data: map[string]string{
			"messageId": strconv.FormatUint(uint64(msg.ID), 10),
			"senderId":  strconv.FormatUint(uint64(msg.SenderUserID()), 10),
		},
	})
	if err != nil {
		n.logger.Warn("push: send", zap.Uint("message_id", msg.ID), zap.Error(err))
		return
	}

	var stale []string
	for i, r := range res.Responses {
		if r.Error != nil && messaging.IsUnregistered(r.Error) && i < len(tokens) {
			stale = append(stale, tokens[i])
		}
	}
	if len(stale) > 0 {
		if err := n.devices.DeleteTokens(stale); err != nil {
			n.logger.Warn("push: drop stale tokens", zap.Error(err))
		}
	}
	n.logger.Debug("push delivered",
		zap.Uint("message_id", msg.ID),
		zap.Int("success", res.SuccessCount),
		zap.Int("failure", res.FailureCount))
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "..."
}
