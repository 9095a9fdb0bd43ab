package domain

import "time"

const (
	NotifySuccess = "success"
	NotifyError   = "error"
	NotifyInfo    = "info"
)

// Notification is a transient, user-visible message about the outcome of an
// action.
type Notification struct {
	OwnerID string    `json:"-"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
