package repository

import (
	"time"

	"github.com/relaysms/contact-gateway/internal/model"
)

type MessageEntity struct {
	ID              int64      `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	UserID          int64      `db:"user_id"          gorm:"column:user_id;not null;index"`
	Content         string     `db:"content"          gorm:"column:content;not null"`
	Status          string     `db:"status"           gorm:"column:status;not null;index;default:DRAFT"`
	ScheduledAt     *time.Time `db:"scheduled_at"     gorm:"column:scheduled_at;index"`
	TotalRecipients int        `db:"total_recipients" gorm:"column:total_recipients;not null;default:0"`
	SuccessCount    int        `db:"success_count"    gorm:"column:success_count;not null;default:0"`
	FailedCount     int        `db:"failed_count"     gorm:"column:failed_count;not null;default:0"`
	Cost            float64    `db:"cost"             gorm:"column:cost;not null;default:0"`
	SentAt          *time.Time `db:"sent_at"          gorm:"column:sent_at"`
	CreatedAt       time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:              m.ID,
		UserID:          m.UserID,
		Content:         m.Content,
		Status:          string(m.Status),
		ScheduledAt:     m.ScheduledAt,
		TotalRecipients: m.TotalRecipients,
		SuccessCount:    m.SuccessCount,
		FailedCount:     m.FailedCount,
		Cost:            m.Cost,
		SentAt:          m.SentAt,
		CreatedAt:       m.CreatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:              e.ID,
		UserID:          e.UserID,
		Content:         e.Content,
		Status:          model.MessageStatus(e.Status),
		ScheduledAt:     e.ScheduledAt,
		TotalRecipients: e.TotalRecipients,
		SuccessCount:    e.SuccessCount,
		FailedCount:     e.FailedCount,
		Cost:            e.Cost,
		SentAt:          e.SentAt,
		CreatedAt:       e.CreatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
