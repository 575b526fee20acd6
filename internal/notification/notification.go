// Package notification derives typed notifications from inbound messages.
// Notifications are a client-side view; the server only stores messages.
package notification

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/quartissimo/realtime/internal/models"
)

// Type is the closed set of notification variants.
type Type string

const (
	TypeMessage Type = "message"
	TypeEvent   Type = "event"
	TypeTroc    Type = "troc"
	TypeService Type = "service"
	TypeBooking Type = "booking"
	TypeAbsence Type = "absence"
	TypeGeneral Type = "general"
)

const (
	defaultTitle   = "Nouveau message"
	unknownSender  = "Utilisateur"
	previewLength  = 100
	ellipsis       = "..."
	titleSeparator = "\n\n"
)

// tags maps a leading content marker to its variant. Order matters only if
// one marker were a prefix of another; none is.
var tags = []struct {
	marker string
	kind   Type
}{
	{"[TROC]", TypeTroc},
	{"[SERVICE]", TypeService},
	{"[EVENT]", TypeEvent},
	{"[BOOKING]", TypeBooking},
	{"[ABSENCE]", TypeAbsence},
	{"[GENERAL]", TypeGeneral},
}

// Data links a notification back to its message.
type Data struct {
	MessageID uint `json:"messageId,omitempty"`
	SenderID  uint `json:"senderId,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	Data      Data      `json:"data"`
}

// ParseMessage classifies msg. It never fails; a nil message yields nil.
func ParseMessage(msg *models.Message) *Notification {
	if msg == nil {
		return nil
	}

	n := &Notification{
		IsRead:    msg.IsRead(),
		CreatedAt: msg.DateSent,
		Data:      Data{MessageID: msg.ID, SenderID: msg.SenderUserID()},
	}

	if kind, rest, ok := decodeTag(msg.Content); ok {
		title, body, _ := strings.Cut(rest, titleSeparator)
		n.Type = kind
		n.Title = strings.TrimSpace(title)
		n.Message = strings.TrimSpace(body)
	} else {
		sender := msg.Sender.DisplayName()
		if sender == "" {
			sender = unknownSender
		}
		n.Type = TypeMessage
		n.Title = defaultTitle
		n.Message = sender + ": " + truncate(msg.Content, previewLength)
	}

	n.ID = fmt.Sprintf("%s-%d", n.Type, msg.ID)
	return n
}

func decodeTag(content string) (Type, string, bool) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	for _, tag := range tags {
		if rest, ok := strings.CutPrefix(trimmed, tag.marker); ok {
			return tag.kind, rest, true
		}
	}
	return "", "", false
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + ellipsis
}

// FilterNotifications keeps the direct messages addressed to currentUserID
// and returns their notifications, newest first.
func FilterNotifications(msgs []models.Message, currentUserID uint) []Notification {
	out := make([]Notification, 0, len(msgs))
	for i := range msgs {
		if msgs[i].ReceiverUserID() != currentUserID || msgs[i].IsGroup() {
			continue
		}
		if n := ParseMessage(&msgs[i]); n != nil {
			out = append(out, *n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Data.MessageID > out[j].Data.MessageID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UnreadCount counts the notifications not yet read.
func UnreadCount(list []Notification) int {
	n := 0
	for _, item := range list {
		if !item.IsRead {
			n++
		}
	}
	return n
}
