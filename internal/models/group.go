package models

import "time"

// Group is a message group (PostgreSQL)
type Group struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:120"`
	CreatedAt time.Time `json:"-"`
}

// GroupMember links a user to a group. The pair is unique.
type GroupMember struct {
	GroupID  uint      `json:"group_id" gorm:"primaryKey"`
	UserID   uint      `json:"user_id" gorm:"primaryKey;index"`
	JoinedAt time.Time `json:"joined_at" gorm:"autoCreateTime"`
}

func (Group) TableName() string { return "message_groups" }

func (GroupMember) TableName() string { return "message_group_members" }
