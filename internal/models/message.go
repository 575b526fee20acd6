package models

import (
	"errors"
	"time"
)

// Message statuses as stored and exchanged on the wire.
const (
	StatusRead   = "read"
	StatusUnread = "unread"
)

// ErrInvalidAddressing is returned when a message has both or neither of receiver and group.
var ErrInvalidAddressing = errors.New("message must have exactly one of receiver or group")

// Message is a private (receiver set) or group (group set) message (PostgreSQL).
type Message struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Content    string    `json:"content" gorm:"type:text"`
	DateSent   time.Time `json:"date_sent" gorm:"index"`
	Status     string    `json:"status" gorm:"size:10;default:'unread';index"`
	SenderID   uint      `json:"-" gorm:"index"`
	ReceiverID *uint     `json:"-" gorm:"index"`
	GroupID    *uint     `json:"-" gorm:"index"`
	Sender     User      `json:"sender" gorm:"foreignKey:SenderID"`
	Receiver   *User     `json:"receiver" gorm:"foreignKey:ReceiverID"`
	Group      *Group    `json:"group" gorm:"foreignKey:GroupID"`
}

// SenderUserID returns the sender id from the loaded association or the foreign key.
func (m *Message) SenderUserID() uint {
	if m.Sender.ID != 0 {
		return m.Sender.ID
	}
	return m.SenderID
}

// ReceiverUserID returns 0 for group messages.
func (m *Message) ReceiverUserID() uint {
	if m.Receiver != nil && m.Receiver.ID != 0 {
		return m.Receiver.ID
	}
	if m.ReceiverID != nil {
		return *m.ReceiverID
	}
	return 0
}

// GroupRefID returns 0 for private messages.
func (m *Message) GroupRefID() uint {
	if m.Group != nil && m.Group.ID != 0 {
		return m.Group.ID
	}
	if m.GroupID != nil {
		return *m.GroupID
	}
	return 0
}

func (m *Message) IsGroup() bool {
	return m.GroupRefID() != 0
}

func (m *Message) IsRead() bool {
	return m.Status == StatusRead
}

// Validate checks the receiver/group exclusivity.
func (m *Message) Validate() error {
	hasReceiver := m.ReceiverUserID() != 0
	hasGroup := m.GroupRefID() != 0
	if hasReceiver == hasGroup {
		return ErrInvalidAddressing
	}
	return nil
}

// CreateMessageRequest defines the request body for sending a private message
type CreateMessageRequest struct {
	ReceiverID uint   `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,min=1,max=5000"`
}

// CreateGroupMessageRequest defines the request body for posting in a group
type CreateGroupMessageRequest struct {
	Content string `json:"content" validate:"required,min=1,max=5000"`
}

// UpdateMessageStatusRequest defines the read-receipt update body
type UpdateMessageStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=read unread"`
}
