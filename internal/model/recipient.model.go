package model

import "time"

// RecipientStatus is the per-recipient delivery state. A recipient is
// updated independently of its parent message and settles into exactly
// one terminal state per dispatch.
type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "PENDING"
	RecipientStatusSent      RecipientStatus = "SENT"
	RecipientStatusDelivered RecipientStatus = "DELIVERED"
	RecipientStatusFailed    RecipientStatus = "FAILED"
)

type MessageRecipient struct {
	ID           int64           `json:"id"`
	MessageID    int64           `json:"message_id"`
	Phone        string          `json:"phone"` // canonical form
	Name         string          `json:"name,omitempty"`
	ContactID    *int64          `json:"contact_id,omitempty"`
	Status       RecipientStatus `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RecipientAggregate is the per-message rollup the reporting queries
// produce: counts by status and the summed cost.
type RecipientAggregate struct {
	Total     int64
	Sent      int64
	Delivered int64
	Failed    int64
	Pending   int64
}
