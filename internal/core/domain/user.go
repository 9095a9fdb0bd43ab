package domain

import (
	"errors"
	"time"
)

const MinPasswordLength = 6

var (
	ErrEmailInUse    = errors.New("this email is already registered")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrWeakPassword  = errors.New("password should be at least 6 characters")
	ErrUserNotFound  = errors.New("no account found with this email")
	ErrWrongPassword = errors.New("incorrect password")
	ErrUnauthorized  = errors.New("unauthorized")
)

// User is the authenticated principal. UID is the owner identifier threaded
// through every data access call.
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type Account struct {
	User
	PasswordHash []byte
	CreatedAt    time.Time
	LastLogin    time.Time
}
