package realtime

import (
	"github.com/relaysms/contact-gateway/internal/dispatch"
	"github.com/relaysms/contact-gateway/internal/model"
)

// Notifier bridges domain status changes onto the hub. All pushes are
// best effort; callers never learn whether anyone was listening.
type Notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// NotificationPayload is the body of the discrete notification raised
// when a recipient lands in DELIVERED or FAILED.
type NotificationPayload struct {
	MessageID   int64                 `json:"message_id"`
	RecipientID int64                 `json:"recipient_id"`
	Phone       string                `json:"phone"`
	Status      model.RecipientStatus `json:"status"`
	Reason      string                `json:"reason,omitempty"`
}

func (n *Notifier) RecipientStatusChanged(userID int64, update dispatch.RecipientUpdate) {
	event := NewEvent(EventRecipientStatus, update.MessageID, update)
	n.hub.ToUser(userID, event)
	n.hub.ToMessageWatchers(update.MessageID, event)

	// Terminal recipient outcomes additionally raise a discrete
	// notification for the owning user.
	if update.Status != model.RecipientStatusDelivered && update.Status != model.RecipientStatusFailed {
		return
	}
	n.hub.ToUser(userID, NewEvent(EventNotification, update.MessageID, NotificationPayload{
		MessageID:   update.MessageID,
		RecipientID: update.RecipientID,
		Phone:       update.Phone,
		Status:      update.Status,
		Reason:      update.ErrorMessage,
	}))
}

// MessageStatusPayload is the wire body of a message-level event.
type MessageStatusPayload struct {
	MessageID    int64               `json:"message_id"`
	Status       model.MessageStatus `json:"status"`
	SuccessCount int                 `json:"success_count"`
	FailedCount  int                 `json:"failed_count"`
	Cost         float64             `json:"cost"`
}

func (n *Notifier) MessageStatusChanged(userID int64, msg *model.Message) {
	event := NewEvent(EventMessageStatus, msg.ID, MessageStatusPayload{
		MessageID:    msg.ID,
		Status:       msg.Status,
		SuccessCount: msg.SuccessCount,
		FailedCount:  msg.FailedCount,
		Cost:         msg.Cost,
	})
	n.hub.ToUser(userID, event)
	n.hub.ToMessageWatchers(msg.ID, event)
}
