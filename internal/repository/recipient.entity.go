package repository

import (
	"time"

	"github.com/relaysms/contact-gateway/internal/model"
)

type RecipientEntity struct {
	ID           int64      `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	MessageID    int64      `db:"message_id"    gorm:"column:message_id;not null;index"`
	Phone        string     `db:"phone"         gorm:"column:phone;not null"`
	Name         string     `db:"name"          gorm:"column:name"`
	ContactID    *int64     `db:"contact_id"    gorm:"column:contact_id"`
	Status       string     `db:"status"        gorm:"column:status;not null;default:PENDING"`
	ErrorMessage *string    `db:"error_message" gorm:"column:error_message"`
	ProviderSID  *string    `db:"provider_sid"  gorm:"column:provider_sid"`
	SentAt       *time.Time `db:"sent_at"       gorm:"column:sent_at"`
	DeliveredAt  *time.Time `db:"delivered_at"  gorm:"column:delivered_at"`
	CreatedAt    time.Time  `db:"created_at"    gorm:"column:created_at;autoCreateTime"`
}

func (RecipientEntity) TableName() string {
	return "message_recipients"
}

func toRecipientEntity(m *model.MessageRecipient) *RecipientEntity {
	if m == nil {
		return nil
	}
	return &RecipientEntity{
		ID:           m.ID,
		MessageID:    m.MessageID,
		Phone:        m.Phone,
		Name:         m.Name,
		ContactID:    m.ContactID,
		Status:       string(m.Status),
		ErrorMessage: m.ErrorMessage,
		SentAt:       m.SentAt,
		DeliveredAt:  m.DeliveredAt,
		CreatedAt:    m.CreatedAt,
	}
}

func toRecipientModel(e *RecipientEntity) *model.MessageRecipient {
	if e == nil {
		return nil
	}
	return &model.MessageRecipient{
		ID:           e.ID,
		MessageID:    e.MessageID,
		Phone:        e.Phone,
		Name:         e.Name,
		ContactID:    e.ContactID,
		Status:       model.RecipientStatus(e.Status),
		ErrorMessage: e.ErrorMessage,
		SentAt:       e.SentAt,
		DeliveredAt:  e.DeliveredAt,
		CreatedAt:    e.CreatedAt,
	}
}

func toRecipientModels(entities []*RecipientEntity) []*model.MessageRecipient {
	if entities == nil {
		return nil
	}
	models := make([]*model.MessageRecipient, len(entities))
	for i, e := range entities {
		models[i] = toRecipientModel(e)
	}
	return models
}
