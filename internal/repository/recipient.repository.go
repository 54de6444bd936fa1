package repository

import (
	"context"
	"errors"
	"time"

	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/relaysms/contact-gateway/pkg/pg"
)

var (
	// ErrRecipientNotFound is returned when a recipient row does not exist.
	ErrRecipientNotFound = errors.New("recipient not found")
)

type RecipientRepository struct {
	*pg.DB
}

func NewRecipientRepository(db *pg.DB) *RecipientRepository {
	return &RecipientRepository{
		db,
	}
}

// CreateBatch inserts all recipients of a message in one statement and
// returns them with IDs assigned, in input order.
func (r *RecipientRepository) CreateBatch(ctx context.Context, recipients []*model.MessageRecipient) ([]*model.MessageRecipient, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	entities := make([]*RecipientEntity, len(recipients))
	for i, m := range recipients {
		entities[i] = toRecipientEntity(m)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(&entities).Error; err != nil {
		return nil, err
	}

	return toRecipientModels(entities), nil
}

func (r *RecipientRepository) ListByMessage(ctx context.Context, messageID int64) ([]*model.MessageRecipient, error) {
	var entities []*RecipientEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toRecipientModels(entities), nil
}

// MarkSent records a successful dispatch for one recipient.
func (r *RecipientRepository) MarkSent(ctx context.Context, recipientID int64, providerSID string, sentAt time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("id = ?", recipientID).
		Updates(map[string]interface{}{
			"status":       string(model.RecipientStatusSent),
			"provider_sid": providerSID,
			"sent_at":      sentAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// MarkFailed records a failed dispatch for one recipient.
func (r *RecipientRepository) MarkFailed(ctx context.Context, recipientID int64, errorMessage string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("id = ?", recipientID).
		Updates(map[string]interface{}{
			"status":        string(model.RecipientStatusFailed),
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

// MarkDelivered upgrades a SENT recipient on a carrier delivery
// callback. Guarded so a late callback cannot resurrect a failed row.
func (r *RecipientRepository) MarkDelivered(ctx context.Context, providerSID string, deliveredAt time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Where("provider_sid = ? AND status = ?", providerSID, string(model.RecipientStatusSent)).
		Updates(map[string]interface{}{
			"status":       string(model.RecipientStatusDelivered),
			"delivered_at": deliveredAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

type recipientAggregateRow struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

// Aggregate rolls up a message's recipients by status.
func (r *RecipientRepository) Aggregate(ctx context.Context, messageID int64) (*model.RecipientAggregate, error) {
	var rows []recipientAggregateRow
	err := r.Read(ctx).WithContext(ctx).
		Model(&RecipientEntity{}).
		Select("status, COUNT(*) AS count").
		Where("message_id = ?", messageID).
		Group("status").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	agg := &model.RecipientAggregate{}
	for _, row := range rows {
		agg.Total += row.Count
		switch model.RecipientStatus(row.Status) {
		case model.RecipientStatusSent:
			agg.Sent += row.Count
		case model.RecipientStatusDelivered:
			agg.Delivered += row.Count
		case model.RecipientStatusFailed:
			agg.Failed += row.Count
		case model.RecipientStatusPending:
			agg.Pending += row.Count
		}
	}
	return agg, nil
}
