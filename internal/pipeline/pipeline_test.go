package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/relaysms/contact-gateway/internal/carrier"
	"github.com/relaysms/contact-gateway/internal/dispatch"
	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/relaysms/contact-gateway/internal/phone"
	"github.com/relaysms/contact-gateway/internal/ratelimit"
	"github.com/relaysms/contact-gateway/internal/repository"
	"github.com/relaysms/contact-gateway/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memMessageStore struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*model.Message
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{messages: make(map[int64]*model.Message)}
}

func (s *memMessageStore) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	stored := *msg
	stored.ID = s.nextID
	stored.CreatedAt = time.Now()
	s.messages[stored.ID] = &stored
	out := stored
	return &out, nil
}

func (s *memMessageStore) Get(ctx context.Context, id int64) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *msg
	return &out, nil
}

func (s *memMessageStore) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, msg := range s.messages {
		if f.UserID != nil && msg.UserID != *f.UserID {
			continue
		}
		m := *msg
		out = append(out, &m)
	}
	return out, int64(len(out)), nil
}

func (s *memMessageStore) Transition(ctx context.Context, id int64, from, to model.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	if msg.Status != from {
		return repository.ErrStaleTransition
	}
	msg.Status = to
	return nil
}

func (s *memMessageStore) Finalize(ctx context.Context, id int64, status model.MessageStatus, successCount, failedCount int, cost float64, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	msg.Status = status
	msg.SuccessCount = successCount
	msg.FailedCount = failedCount
	msg.Cost = cost
	msg.SentAt = &sentAt
	return nil
}

func (s *memMessageStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Message
	for _, msg := range s.messages {
		if msg.Status == model.MessageStatusScheduled && msg.ScheduledAt != nil && !msg.ScheduledAt.After(now) {
			m := *msg
			out = append(out, &m)
		}
	}
	return out, nil
}

type memRecipientStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64][]*model.MessageRecipient
}

func newMemRecipientStore() *memRecipientStore {
	return &memRecipientStore{rows: make(map[int64][]*model.MessageRecipient)}
}

func (s *memRecipientStore) CreateBatch(ctx context.Context, recipients []*model.MessageRecipient) ([]*model.MessageRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.MessageRecipient, len(recipients))
	for i, r := range recipients {
		s.nextID++
		stored := *r
		stored.ID = s.nextID
		s.rows[stored.MessageID] = append(s.rows[stored.MessageID], &stored)
		copied := stored
		out[i] = &copied
	}
	return out, nil
}

func (s *memRecipientStore) ListByMessage(ctx context.Context, messageID int64) ([]*model.MessageRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.MessageRecipient
	for _, r := range s.rows[messageID] {
		copied := *r
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memRecipientStore) Aggregate(ctx context.Context, messageID int64) (*model.RecipientAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg := &model.RecipientAggregate{}
	for _, r := range s.rows[messageID] {
		agg.Total++
		switch r.Status {
		case model.RecipientStatusPending:
			agg.Pending++
		case model.RecipientStatusSent:
			agg.Sent++
		case model.RecipientStatusFailed:
			agg.Failed++
		case model.RecipientStatusDelivered:
			agg.Delivered++
		}
	}
	return agg, nil
}

type fakeResolver struct {
	byID    map[int64]*model.Contact
	byGroup map[int64][]*model.Contact
}

func (f *fakeResolver) FindByIDs(ctx context.Context, userID int64, ids []int64) ([]*model.Contact, error) {
	var out []*model.Contact
	for _, id := range ids {
		if c, ok := f.byID[id]; ok && c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeResolver) FindByGroupIDs(ctx context.Context, userID int64, groupIDs []int64) ([]*model.Contact, error) {
	var out []*model.Contact
	for _, id := range groupIDs {
		for _, c := range f.byGroup[id] {
			if c.UserID == userID {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// eventLog captures broadcast and dispatch activity in arrival order.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeSender struct {
	log       *eventLog
	failPhone map[string]bool
	costPer   float64
}

func (f *fakeSender) SendBulk(ctx context.Context, recipients []dispatch.BulkRecipient, body string) dispatch.BulkResult {
	if f.log != nil {
		f.log.add("dispatch")
	}
	res := dispatch.BulkResult{Results: make([]dispatch.Result, len(recipients))}
	for i, r := range recipients {
		if f.failPhone[r.Phone] {
			res.Results[i] = dispatch.Result{Phone: r.Phone, Err: fmt.Errorf("carrier said no")}
			res.TotalFailed++
			continue
		}
		res.Results[i] = dispatch.Result{Phone: r.Phone, Success: true, Cost: f.costPer}
		res.TotalSent++
		res.TotalCost += f.costPer
	}
	return res
}

type logBroadcaster struct {
	log *eventLog
}

func (b *logBroadcaster) MessageStatusChanged(userID int64, msg *model.Message) {
	b.log.add("status:" + string(msg.Status))
}

type fixture struct {
	pipeline   *Pipeline
	messages   *memMessageStore
	recipients *memRecipientStore
	sender     *fakeSender
	log        *eventLog
}

func newFixture(resolver ContactResolver) *fixture {
	log := &eventLog{}
	f := &fixture{
		messages:   newMemMessageStore(),
		recipients: newMemRecipientStore(),
		sender:     &fakeSender{log: log, failPhone: map[string]bool{}, costPer: 0.01},
		log:        log,
	}
	f.pipeline = NewPipeline(f.messages, f.recipients, resolver, f.sender, &logBroadcaster{log: log}, nil, phone.NewNormalizer("1"))
	return f
}

func TestPipeline_CreateDraft(t *testing.T) {
	f := newFixture(nil)

	created, err := f.pipeline.Create(context.Background(), model.MessageCreateRequest{
		UserID:  1,
		Content: "hello",
		Recipients: []model.RecipientInput{
			{Phone: "+15550000001", Name: "Ada"},
			{Phone: "5550000001"}, // same number, different spelling
			{Phone: "+15550000002"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusDraft, created.Status)
	assert.Equal(t, 2, created.TotalRecipients, "duplicates collapse by canonical phone")

	rows, err := f.recipients.ListByMessage(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "+15550000001", rows[0].Phone)
	assert.Equal(t, "Ada", rows[0].Name, "first occurrence wins")
	for _, r := range rows {
		assert.Equal(t, model.RecipientStatusPending, r.Status)
	}
}

func TestPipeline_CreateScheduled(t *testing.T) {
	f := newFixture(nil)
	at := time.Now().Add(time.Hour)

	created, err := f.pipeline.Create(context.Background(), model.MessageCreateRequest{
		UserID:      1,
		Content:     "later",
		ScheduledAt: &at,
		Recipients:  []model.RecipientInput{{Phone: "+15550000001"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusScheduled, created.Status)
}

func TestPipeline_CreateRejectsInvalidPhone(t *testing.T) {
	f := newFixture(nil)

	_, err := f.pipeline.Create(context.Background(), model.MessageCreateRequest{
		UserID:  1,
		Content: "hello",
		Recipients: []model.RecipientInput{
			{Phone: "+15550000001"},
			{Phone: "not-a-number"},
		},
	})
	require.ErrorIs(t, err, phone.ErrInvalidPhone)
	assert.Empty(t, f.messages.messages, "nothing persisted when validation fails")
}

func TestPipeline_SendEndsTerminal(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	created, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:  1,
		Content: "hello",
		Recipients: []model.RecipientInput{
			{Phone: "+15550000001"}, {Phone: "+15550000002"}, {Phone: "+15550000003"},
		},
	})
	require.NoError(t, err)

	sent, err := f.pipeline.Send(ctx, created.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, model.MessageStatusSent, sent.Status, "no failures means SENT, never DRAFT")
	assert.Equal(t, 3, sent.SuccessCount)
	assert.Zero(t, sent.FailedCount)
	assert.InDelta(t, 0.03, sent.Cost, 1e-9)
	require.NotNil(t, sent.SentAt)

	stored, err := f.messages.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, stored.Status)
}

func TestPipeline_SendPartialFailureIsFAILED(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	f.sender.failPhone["+15550000002"] = true

	created, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:  1,
		Content: "hello",
		Recipients: []model.RecipientInput{
			{Phone: "+15550000001"}, {Phone: "+15550000002"},
		},
	})
	require.NoError(t, err)

	sent, err := f.pipeline.Send(ctx, created.ID, 1)
	require.NoError(t, err, "partial failure is data, not an error")
	assert.Equal(t, model.MessageStatusFailed, sent.Status)
	assert.Equal(t, 1, sent.SuccessCount)
	assert.Equal(t, 1, sent.FailedCount)
}

func TestPipeline_BroadcastOrdering(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	created, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:     1,
		Content:    "hello",
		Recipients: []model.RecipientInput{{Phone: "+15550000001"}},
	})
	require.NoError(t, err)

	_, err = f.pipeline.Send(ctx, created.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"status:SENDING", "dispatch", "status:SENT"}, f.log.all())
}

type okCarrier struct{}

func (okCarrier) CreateMessage(ctx context.Context, body, from, to string) (*carrier.Receipt, error) {
	return &carrier.Receipt{SID: "SM-" + to, Status: carrier.StatusPending}, nil
}

// eventRecorder observes both the message-level and the
// recipient-level channels in one arrival-ordered log.
type eventRecorder struct {
	log *eventLog
}

func (r *eventRecorder) MessageStatusChanged(userID int64, msg *model.Message) {
	r.log.add("message:" + string(msg.Status))
}

func (r *eventRecorder) RecipientStatusChanged(userID int64, update dispatch.RecipientUpdate) {
	r.log.add("recipient:" + string(update.Status))
}

func TestPipeline_RecipientEventsPrecedeTerminalBroadcast(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	adapter, err := redis.NewRedisAdapter(t.Name(), "", &goredis.UniversalOptions{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)

	log := &eventLog{}
	recorder := &eventRecorder{log: log}

	normalizer := phone.NewNormalizer("1")
	dispatcher := dispatch.NewDispatcher(normalizer, ratelimit.NewLimiter(adapter, 100, time.Hour), okCarrier{}, nil, recorder, dispatch.Config{
		BasePrice:      0.01,
		IntlMultiplier: 2.5,
		FromNumber:     "+15550000001",
		Seed:           1,
	})
	t.Cleanup(dispatcher.Close)
	bulk := dispatch.NewBulkDispatcher(dispatcher, dispatch.BulkConfig{BatchSize: 2})

	p := NewPipeline(newMemMessageStore(), newMemRecipientStore(), nil, bulk, recorder, nil, normalizer)

	ctx := context.Background()
	created, err := p.Create(ctx, model.MessageCreateRequest{
		UserID:  1,
		Content: "hello",
		Recipients: []model.RecipientInput{
			{Phone: "+15550000001"},
			{Phone: "+15550000002"},
			{Phone: "+15550000003"},
		},
	})
	require.NoError(t, err)

	_, err = p.Send(ctx, created.ID, 1)
	require.NoError(t, err)

	entries := log.all()
	require.Len(t, entries, 5)
	assert.Equal(t, "message:SENDING", entries[0])
	assert.Equal(t, "message:SENT", entries[4])
	for _, e := range entries[1:4] {
		assert.Equal(t, "recipient:SENT", e, "every recipient event lands between SENDING and the terminal broadcast")
	}
}

func TestPipeline_SendGuards(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	created, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:     1,
		Content:    "hello",
		Recipients: []model.RecipientInput{{Phone: "+15550000001"}},
	})
	require.NoError(t, err)

	_, err = f.pipeline.Send(ctx, created.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound, "foreign owner looks like absence")

	_, err = f.pipeline.Send(ctx, 99999, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.pipeline.Send(ctx, created.ID, 1)
	require.NoError(t, err)
	_, err = f.pipeline.Send(ctx, created.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidState, "terminal messages cannot be re-sent")
}

func TestPipeline_Cancel(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	at := time.Now().Add(time.Hour)

	scheduled, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:      1,
		Content:     "later",
		ScheduledAt: &at,
		Recipients:  []model.RecipientInput{{Phone: "+15550000001"}},
	})
	require.NoError(t, err)

	cancelled, err := f.pipeline.Cancel(ctx, scheduled.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusCancelled, cancelled.Status)

	_, err = f.pipeline.Cancel(ctx, scheduled.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidState, "cancel is only legal from SCHEDULED")

	draft, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:     1,
		Content:    "now",
		Recipients: []model.RecipientInput{{Phone: "+15550000002"}},
	})
	require.NoError(t, err)
	_, err = f.pipeline.Cancel(ctx, draft.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPipeline_SendToContacts(t *testing.T) {
	shared := &model.Contact{ID: 2, UserID: 1, Name: "Bob", Phone: "+15550000002"}
	resolver := &fakeResolver{
		byID: map[int64]*model.Contact{
			1: {ID: 1, UserID: 1, Name: "Ada", Phone: "+15550000001"},
			2: shared,
			3: {ID: 3, UserID: 9, Name: "Foreign", Phone: "+15550000003"},
		},
		byGroup: map[int64][]*model.Contact{
			5: {shared, {ID: 4, UserID: 1, Name: "Cleo", Phone: "+15550000004"}},
		},
	}
	f := newFixture(resolver)
	ctx := context.Background()

	created, err := f.pipeline.SendToContacts(ctx, model.BulkSendRequest{
		UserID:     1,
		Content:    "hello {{name}}",
		ContactIDs: []int64{1, 2, 3},
		GroupIDs:   []int64{5},
	})
	require.NoError(t, err)

	// Ada + Bob (once, despite appearing in both lists) + Cleo; the
	// foreign contact is dropped.
	assert.Equal(t, 3, created.TotalRecipients)

	_, err = f.pipeline.SendToContacts(ctx, model.BulkSendRequest{
		UserID:     1,
		Content:    "hello",
		ContactIDs: []int64{999},
	})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestScheduler_Tick(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	due, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:      1,
		Content:     "due",
		ScheduledAt: &past,
		Recipients:  []model.RecipientInput{{Phone: "+15550000001"}},
	})
	require.NoError(t, err)
	// Created with a past timestamp, the message lands in DRAFT; force
	// it into SCHEDULED the way a stored future message would sit.
	require.NoError(t, f.messages.Transition(ctx, due.ID, model.MessageStatusDraft, model.MessageStatusScheduled))

	future := time.Now().Add(time.Hour)
	later, err := f.pipeline.Create(ctx, model.MessageCreateRequest{
		UserID:      1,
		Content:     "later",
		ScheduledAt: &future,
		Recipients:  []model.RecipientInput{{Phone: "+15550000002"}},
	})
	require.NoError(t, err)

	s := NewScheduler(f.pipeline, time.Second)
	s.tick(ctx)

	sent, err := f.messages.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusSent, sent.Status)

	untouched, err := f.messages.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusScheduled, untouched.Status)
}
