package realtime

import "time"

const (
	EventMessageStatus   = "message.status"
	EventRecipientStatus = "recipient.status"
	EventNotification    = "notification"
)

// Event is the envelope pushed to websocket subscribers. Payload holds
// the type-specific body and is serialized as-is.
type Event struct {
	Type      string    `json:"type"`
	MessageID int64     `json:"message_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload"`
}

func NewEvent(eventType string, messageID int64, payload any) Event {
	return Event{
		Type:      eventType,
		MessageID: messageID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
