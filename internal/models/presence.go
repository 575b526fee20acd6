package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Presence statuses
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceEvent is one online/offline transition (MongoDB).
type PresenceEvent struct {
	ID     primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID uint               `json:"user_id" bson:"user_id"`
	Status string             `json:"status" bson:"status"`
	At     time.Time          `json:"at" bson:"at"`
}

// UserStatusResponse is the body of GET /api/user-status
type UserStatusResponse struct {
	UserID   uint       `json:"userId"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
