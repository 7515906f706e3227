// Package domain holds the entities shared by storage, the workflow
// service, the dispatcher and the bot front ends.
package domain

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrCommentRequired = errors.New("a comment is required when rejecting")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
)

// User is a Telegram account known to the bot. TelegramID doubles as the
// chat id for private messages.
type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	IsAdmin    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DisplayName prefers @username, then the full name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	return name
}

// TelegramProfile is what the transport knows about a sender.
type TelegramProfile struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

type Commission struct {
	ID          int64
	Name        string
	Description string
}

type AppealStatus string

const (
	AppealNew       AppealStatus = "new"
	AppealProcessed AppealStatus = "processed"
	AppealRejected  AppealStatus = "rejected"
)

func (s AppealStatus) Valid() bool {
	switch s {
	case AppealNew, AppealProcessed, AppealRejected:
		return true
	}
	return false
}

// Label is the human readable status shown to citizens.
func (s AppealStatus) Label() string {
	switch s {
	case AppealNew:
		return "🆕 New"
	case AppealProcessed:
		return "✅ Processed"
	case AppealRejected:
		return "❌ Rejected"
	}
	return string(s)
}

type Appeal struct {
	ID             int64
	UserID         int64
	CommissionID   *int64
	CommissionName string
	Text           string
	ContactInfo    string
	FilePath       string
	Status         AppealStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type AdminRequestStatus string

const (
	AdminRequestPending  AdminRequestStatus = "pending"
	AdminRequestApproved AdminRequestStatus = "approved"
	AdminRequestRejected AdminRequestStatus = "rejected"
)

func (s AdminRequestStatus) Valid() bool {
	switch s {
	case AdminRequestPending, AdminRequestApproved, AdminRequestRejected:
		return true
	}
	return false
}

func (s AdminRequestStatus) Label() string {
	switch s {
	case AdminRequestPending:
		return "⏳ Pending review"
	case AdminRequestApproved:
		return "✅ Approved"
	case AdminRequestRejected:
		return "❌ Rejected"
	}
	return string(s)
}

// AdminRequest is a user's application for admin rights. A user has at
// most one.
type AdminRequest struct {
	ID        int64
	UserID    int64
	Position  string
	Status    AdminRequestStatus
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Notification is a durable outbound message. AppealID and AdminRequestID
// are weak references: deleting the notification never touches them.
type Notification struct {
	ID             int64
	UserID         int64
	AppealID       *int64
	AdminRequestID *int64
	Message        string
	Sent           bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PendingNotification is an unsent notification joined with the chat id
// of its recipient.
type PendingNotification struct {
	Notification
	ChatID int64
}
