package model

import (
	"errors"
	"time"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	MessageStatusDraft     MessageStatus = "DRAFT"
	MessageStatusScheduled MessageStatus = "SCHEDULED"
	MessageStatusSending   MessageStatus = "SENDING"
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusFailed    MessageStatus = "FAILED"
	MessageStatusCancelled MessageStatus = "CANCELLED"
)

type Message struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	Content         string        `json:"content"`
	Status          MessageStatus `json:"status"`
	ScheduledAt     *time.Time    `json:"scheduled_at,omitempty"`
	TotalRecipients int           `json:"total_recipients"`
	SuccessCount    int           `json:"success_count"`
	FailedCount     int           `json:"failed_count"`
	Cost            float64       `json:"cost"`
	SentAt          *time.Time    `json:"sent_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// IsTerminal reports whether no further status transition is legal.
func (m *Message) IsTerminal() bool {
	switch m.Status {
	case MessageStatusSent, MessageStatusFailed, MessageStatusCancelled:
		return true
	}
	return false
}

// RecipientInput is one raw phone target in a create request. Name is
// optional and only used for body personalization.
type RecipientInput struct {
	Phone     string `json:"phone"`
	Name      string `json:"name,omitempty"`
	ContactID *int64 `json:"contact_id,omitempty"`
}

// MessageCreateRequest is the input for creating a message with an
// explicit recipient list.
type MessageCreateRequest struct {
	UserID      int64
	Content     string
	ScheduledAt *time.Time
	Recipients  []RecipientInput
}

func (p MessageCreateRequest) Validate() error {
	if p.UserID == 0 {
		return errors.New("user_id is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	if len(p.Recipients) == 0 {
		return errors.New("at least one recipient is required")
	}
	return nil
}

// BulkSendRequest resolves recipients from stored contacts and groups
// instead of raw phone numbers.
type BulkSendRequest struct {
	UserID      int64
	Content     string
	ScheduledAt *time.Time
	ContactIDs  []int64
	GroupIDs    []int64
}

func (p BulkSendRequest) Validate() error {
	if p.UserID == 0 {
		return errors.New("user_id is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	if len(p.ContactIDs) == 0 && len(p.GroupIDs) == 0 {
		return errors.New("at least one contact or group is required")
	}
	return nil
}

// MessageFilter controls List queries.
type MessageFilter struct {
	UserID   *int64
	Statuses []MessageStatus
	From     *time.Time
	To       *time.Time
	Limit    int  // default 50
	Offset   int  // for pagination
	Desc     bool // order by created_at
}
