package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/relaysms/contact-gateway/internal/carrier"
	"github.com/relaysms/contact-gateway/internal/phone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timedCarrier struct {
	mu      sync.Mutex
	at      map[string]time.Time
	bodies  map[string]string
	failFor map[string]bool
}

func newTimedCarrier() *timedCarrier {
	return &timedCarrier{
		at:      make(map[string]time.Time),
		bodies:  make(map[string]string),
		failFor: make(map[string]bool),
	}
}

func (f *timedCarrier) CreateMessage(ctx context.Context, body, from, to string) (*carrier.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at[to] = time.Now()
	f.bodies[to] = body
	if f.failFor[to] {
		return nil, carrier.ErrCarrier
	}
	return &carrier.Receipt{SID: "SM-" + to, Status: carrier.StatusPending}, nil
}

func (f *timedCarrier) sentAt(to string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at[to]
}

func (f *timedCarrier) body(to string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[to]
}

func newTestBulk(t *testing.T, client carrier.Client, config BulkConfig) *BulkDispatcher {
	_, limiter := setupLimiter(t, 1_000_000)
	d := NewDispatcher(phone.NewNormalizer("1"), limiter, client, nil, nil, Config{
		BasePrice:      0.01,
		IntlMultiplier: 2.5,
		FromNumber:     "+15550000001",
	})
	t.Cleanup(d.Close)
	return NewBulkDispatcher(d, config)
}

func bulkRecipients(n int) []BulkRecipient {
	out := make([]BulkRecipient, n)
	for i := range out {
		out[i] = BulkRecipient{Phone: fmt.Sprintf("+1555%07d", i), UserID: 1}
	}
	return out
}

func TestBulkDispatcher_OrderPreserved(t *testing.T) {
	client := newTimedCarrier()
	b := newTestBulk(t, client, BulkConfig{BatchSize: 5, BatchDelay: time.Millisecond})

	recipients := bulkRecipients(13)
	res := b.SendBulk(context.Background(), recipients, "hello")

	require.Len(t, res.Results, len(recipients))
	for i, r := range res.Results {
		assert.Equal(t, recipients[i].Phone, r.Phone, "result %d out of order", i)
		assert.True(t, r.Success)
	}
	assert.Equal(t, 13, res.TotalSent)
	assert.Zero(t, res.TotalFailed)
	assert.InDelta(t, 0.13, res.TotalCost, 1e-9)
}

func TestBulkDispatcher_BatchDelay(t *testing.T) {
	client := newTimedCarrier()
	delay := 150 * time.Millisecond
	b := newTestBulk(t, client, BulkConfig{BatchSize: 10, BatchDelay: delay})

	recipients := bulkRecipients(12)
	started := time.Now()
	res := b.SendBulk(context.Background(), recipients, "hello")

	assert.Equal(t, 12, res.TotalSent)
	assert.GreaterOrEqual(t, time.Since(started), delay, "two batches need one inter-batch delay")

	var firstBatchLast time.Time
	for _, r := range recipients[:10] {
		if at := client.sentAt(r.Phone); at.After(firstBatchLast) {
			firstBatchLast = at
		}
	}
	for _, r := range recipients[10:] {
		gap := client.sentAt(r.Phone).Sub(firstBatchLast)
		assert.GreaterOrEqual(t, gap, delay, "second batch started before the delay elapsed")
	}
}

func TestBulkDispatcher_PartialFailure(t *testing.T) {
	client := newTimedCarrier()
	b := newTestBulk(t, client, BulkConfig{BatchSize: 10, BatchDelay: time.Millisecond})

	recipients := bulkRecipients(6)
	client.failFor[recipients[2].Phone] = true
	recipients[4].Phone = "not-a-number"

	res := b.SendBulk(context.Background(), recipients, "hello")

	assert.Equal(t, 4, res.TotalSent)
	assert.Equal(t, 2, res.TotalFailed)
	assert.Len(t, res.Results, 6)

	assert.False(t, res.Results[2].Success)
	assert.ErrorIs(t, res.Results[2].Err, carrier.ErrCarrier)
	assert.False(t, res.Results[4].Success)
	assert.ErrorIs(t, res.Results[4].Err, phone.ErrInvalidPhone)
	for _, i := range []int{0, 1, 3, 5} {
		assert.True(t, res.Results[i].Success, "recipient %d should be unaffected", i)
	}
}

func TestBulkDispatcher_PersonalizedBody(t *testing.T) {
	client := newTimedCarrier()
	b := newTestBulk(t, client, BulkConfig{BatchSize: 10, BatchDelay: 0})

	recipients := []BulkRecipient{
		{Phone: "+15550000001", Name: "Ada", UserID: 1},
		{Phone: "+15550000002", UserID: 1},
	}
	res := b.SendBulk(context.Background(), recipients, "Hi {{name}}!")

	require.Equal(t, 2, res.TotalSent)
	assert.Equal(t, "Hi Ada!", client.body("+15550000001"))
	assert.Equal(t, "Hi {{name}}!", client.body("+15550000002"))
}
