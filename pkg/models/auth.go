package models

import (
	"github.com/golang-jwt/jwt/v5"
)

type JWTClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty"` // user, admin
	jwt.RegisteredClaims
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
