package models

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// User is the subset of the community user record the messaging service reads.
// Accounts are created by the main platform backend.
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Firstname string    `json:"firstname"`
	Lastname  string    `json:"lastname"`
	Email     string    `json:"email,omitempty" gorm:"uniqueIndex"`
	CreatedAt time.Time `json:"-"`
}

// DisplayName joins first and last name, skipping empty parts.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.Firstname + " " + u.Lastname)
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
