package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relaysms/contact-gateway/internal/dispatch"
	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/relaysms/contact-gateway/internal/phone"
	"github.com/relaysms/contact-gateway/internal/repository"
	"github.com/relaysms/contact-gateway/pkg/logger"
)

// MessageStore is the message persistence surface the pipeline drives.
// *repository.MessageRepository satisfies it.
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, id int64) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	Transition(ctx context.Context, id int64, from, to model.MessageStatus) error
	Finalize(ctx context.Context, id int64, status model.MessageStatus, successCount, failedCount int, cost float64, sentAt time.Time) error
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Message, error)
}

// RecipientStore persists per-recipient rows.
// *repository.RecipientRepository satisfies it.
type RecipientStore interface {
	CreateBatch(ctx context.Context, recipients []*model.MessageRecipient) ([]*model.MessageRecipient, error)
	ListByMessage(ctx context.Context, messageID int64) ([]*model.MessageRecipient, error)
	Aggregate(ctx context.Context, messageID int64) (*model.RecipientAggregate, error)
}

// ContactResolver turns contact and group ids into concrete contacts,
// scoped to the owning user. *repository.ContactRepository satisfies it.
type ContactResolver interface {
	FindByIDs(ctx context.Context, userID int64, ids []int64) ([]*model.Contact, error)
	FindByGroupIDs(ctx context.Context, userID int64, groupIDs []int64) ([]*model.Contact, error)
}

// Sender fans a recipient list out to the carrier.
// *dispatch.BulkDispatcher satisfies it.
type Sender interface {
	SendBulk(ctx context.Context, recipients []dispatch.BulkRecipient, body string) dispatch.BulkResult
}

// Broadcaster pushes message-level status changes to live subscribers.
// *realtime.Notifier satisfies it; nil disables pushes.
type Broadcaster interface {
	MessageStatusChanged(userID int64, msg *model.Message)
}

// Transactor scopes a function to a single database transaction.
// *pg.DB satisfies it; nil runs each write standalone.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pipeline owns the message lifecycle: DRAFT or SCHEDULED at creation,
// SENDING while the bulk dispatcher runs, then SENT or FAILED;
// SCHEDULED may instead end CANCELLED.
type Pipeline struct {
	messages    MessageStore
	recipients  RecipientStore
	contacts    ContactResolver
	sender      Sender
	broadcaster Broadcaster
	tx          Transactor
	normalizer  *phone.Normalizer
}

func NewPipeline(messages MessageStore, recipients RecipientStore, contacts ContactResolver, sender Sender, broadcaster Broadcaster, tx Transactor, normalizer *phone.Normalizer) *Pipeline {
	return &Pipeline{
		messages:    messages,
		recipients:  recipients,
		contacts:    contacts,
		sender:      sender,
		broadcaster: broadcaster,
		tx:          tx,
		normalizer:  normalizer,
	}
}

// Create persists a message as DRAFT, or SCHEDULED when a future send
// time is given, along with its PENDING recipient rows. Recipients are
// deduplicated by canonical phone; an invalid phone fails the whole
// request here, before anything is persisted.
func (p *Pipeline) Create(ctx context.Context, req model.MessageCreateRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	deduped, err := p.dedupRecipients(req.Recipients)
	if err != nil {
		return nil, err
	}

	status := model.MessageStatusDraft
	if req.ScheduledAt != nil && req.ScheduledAt.After(time.Now()) {
		status = model.MessageStatusScheduled
	}

	msg := &model.Message{
		UserID:          req.UserID,
		Content:         req.Content,
		Status:          status,
		ScheduledAt:     req.ScheduledAt,
		TotalRecipients: len(deduped),
	}

	var created *model.Message
	// The message row and its recipient rows land together or not at
	// all.
	err = p.withinTransaction(ctx, func(ctx context.Context) error {
		created, err = p.messages.Create(ctx, msg)
		if err != nil {
			return err
		}

		rows := make([]*model.MessageRecipient, len(deduped))
		for i, rec := range deduped {
			rows[i] = &model.MessageRecipient{
				MessageID: created.ID,
				Phone:     rec.Phone,
				Name:      rec.Name,
				ContactID: rec.ContactID,
				Status:    model.RecipientStatusPending,
			}
		}
		_, err = p.recipients.CreateBatch(ctx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("message created",
		"message_id", created.ID,
		"user_id", created.UserID,
		"status", created.Status,
		"recipients", created.TotalRecipients)
	return created, nil
}

// Send runs the dispatch leg: DRAFT or SCHEDULED moves to SENDING
// (broadcast), every pending recipient goes through the bulk
// dispatcher, and the message settles in SENT when nothing failed or
// FAILED otherwise (broadcast again). Per-recipient pushes are emitted
// inside the dispatch leg, so subscribers always see them between the
// SENDING broadcast and the terminal one.
func (p *Pipeline) Send(ctx context.Context, messageID, ownerID int64) (*model.Message, error) {
	msg, err := p.getOwned(ctx, messageID, ownerID)
	if err != nil {
		return nil, err
	}

	if msg.Status != model.MessageStatusDraft && msg.Status != model.MessageStatusScheduled {
		return nil, fmt.Errorf("%w: cannot send message in status %s", ErrInvalidState, msg.Status)
	}

	if err := p.messages.Transition(ctx, messageID, msg.Status, model.MessageStatusSending); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil, fmt.Errorf("%w: message moved concurrently", ErrInvalidState)
		}
		return nil, err
	}
	msg.Status = model.MessageStatusSending
	p.broadcast(msg)

	rows, err := p.recipients.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	var targets []dispatch.BulkRecipient
	for _, row := range rows {
		if row.Status != model.RecipientStatusPending {
			continue
		}
		targets = append(targets, dispatch.BulkRecipient{
			Phone:       row.Phone,
			Name:        row.Name,
			MessageID:   messageID,
			RecipientID: row.ID,
			UserID:      ownerID,
		})
	}

	result := p.sender.SendBulk(ctx, targets, msg.Content)

	final := model.MessageStatusSent
	if result.TotalFailed > 0 {
		final = model.MessageStatusFailed
	}
	sentAt := time.Now().UTC()
	if err := p.messages.Finalize(ctx, messageID, final, result.TotalSent, result.TotalFailed, result.TotalCost, sentAt); err != nil {
		// The dispatch already happened; losing the bookkeeping write
		// must not look like a failed send.
		logger.Error("finalize after dispatch failed", "message_id", messageID, "error", err)
	}

	msg.Status = final
	msg.SuccessCount = result.TotalSent
	msg.FailedCount = result.TotalFailed
	msg.Cost = result.TotalCost
	msg.SentAt = &sentAt
	p.broadcast(msg)

	logger.Info("message dispatched",
		"message_id", messageID,
		"status", final,
		"sent", result.TotalSent,
		"failed", result.TotalFailed,
		"cost", result.TotalCost)
	return msg, nil
}

// SendToContacts resolves contact and group ids into a recipient list,
// then runs the normal create path. Contacts appearing both directly
// and via a group count once.
func (p *Pipeline) SendToContacts(ctx context.Context, req model.BulkSendRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	byID, err := p.contacts.FindByIDs(ctx, req.UserID, req.ContactIDs)
	if err != nil {
		return nil, err
	}
	byGroup, err := p.contacts.FindByGroupIDs(ctx, req.UserID, req.GroupIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var recipients []model.RecipientInput
	for _, c := range append(byID, byGroup...) {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		contactID := c.ID
		recipients = append(recipients, model.RecipientInput{
			Phone:     c.Phone,
			Name:      c.Name,
			ContactID: &contactID,
		})
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	return p.Create(ctx, model.MessageCreateRequest{
		UserID:      req.UserID,
		Content:     req.Content,
		ScheduledAt: req.ScheduledAt,
		Recipients:  recipients,
	})
}

// Cancel is legal only while the message is SCHEDULED.
func (p *Pipeline) Cancel(ctx context.Context, messageID, ownerID int64) (*model.Message, error) {
	msg, err := p.getOwned(ctx, messageID, ownerID)
	if err != nil {
		return nil, err
	}
	if msg.Status != model.MessageStatusScheduled {
		return nil, fmt.Errorf("%w: cannot cancel message in status %s", ErrInvalidState, msg.Status)
	}

	if err := p.messages.Transition(ctx, messageID, model.MessageStatusScheduled, model.MessageStatusCancelled); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil, fmt.Errorf("%w: message moved concurrently", ErrInvalidState)
		}
		return nil, err
	}

	msg.Status = model.MessageStatusCancelled
	p.broadcast(msg)
	logger.Info("message cancelled", "message_id", messageID, "user_id", ownerID)
	return msg, nil
}

// Get returns an owner-scoped message.
func (p *Pipeline) Get(ctx context.Context, messageID, ownerID int64) (*model.Message, error) {
	return p.getOwned(ctx, messageID, ownerID)
}

// Recipients returns a message's recipient rows plus their rollup.
func (p *Pipeline) Recipients(ctx context.Context, messageID, ownerID int64) ([]*model.MessageRecipient, *model.RecipientAggregate, error) {
	if _, err := p.getOwned(ctx, messageID, ownerID); err != nil {
		return nil, nil, err
	}
	rows, err := p.recipients.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	agg, err := p.recipients.Aggregate(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	return rows, agg, nil
}

// List returns the owner's messages, newest first by default.
func (p *Pipeline) List(ctx context.Context, ownerID int64, f model.MessageFilter) ([]*model.Message, int64, error) {
	f.UserID = &ownerID
	return p.messages.List(ctx, f)
}

func (p *Pipeline) getOwned(ctx context.Context, messageID, ownerID int64) (*model.Message, error) {
	msg, err := p.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if msg.UserID != ownerID {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (p *Pipeline) withinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.tx == nil {
		return fn(ctx)
	}
	return p.tx.WithinTransaction(ctx, fn)
}

func (p *Pipeline) broadcast(msg *model.Message) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.MessageStatusChanged(msg.UserID, msg)
}

// dedupRecipients canonicalizes every phone and keeps the first
// occurrence of each canonical number.
func (p *Pipeline) dedupRecipients(inputs []model.RecipientInput) ([]model.RecipientInput, error) {
	seen := make(map[string]struct{}, len(inputs))
	out := make([]model.RecipientInput, 0, len(inputs))
	for _, in := range inputs {
		canonical, err := p.normalizer.Normalize(in.Phone)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", in.Phone, err)
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		in.Phone = canonical
		out = append(out, in)
	}
	return out, nil
}
