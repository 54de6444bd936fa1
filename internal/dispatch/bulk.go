package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/relaysms/contact-gateway/internal/template"
	"github.com/relaysms/contact-gateway/pkg/logger"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = time.Second
)

// BulkRecipient is one target of a bulk send.
type BulkRecipient struct {
	Phone       string
	Name        string
	MessageID   int64
	RecipientID int64
	UserID      int64
}

// BulkResult aggregates a whole bulk send. Results is index-aligned
// with the input recipient list regardless of completion order.
type BulkResult struct {
	TotalSent   int
	TotalFailed int
	TotalCost   float64
	Results     []Result
}

type BulkConfig struct {
	BatchSize  int
	BatchDelay time.Duration
}

// BulkDispatcher partitions recipients into sequential batches and
// fans each batch out concurrently through the single-send Dispatcher.
// A batch fully settles before the next one starts; one recipient's
// failure never aborts anything.
type BulkDispatcher struct {
	dispatcher *Dispatcher
	batchSize  int
	batchDelay time.Duration
}

func NewBulkDispatcher(dispatcher *Dispatcher, config BulkConfig) *BulkDispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchDelay < 0 {
		config.BatchDelay = DefaultBatchDelay
	}
	return &BulkDispatcher{
		dispatcher: dispatcher,
		batchSize:  config.BatchSize,
		batchDelay: config.BatchDelay,
	}
}

func (b *BulkDispatcher) SendBulk(ctx context.Context, recipients []BulkRecipient, body string) BulkResult {
	result := BulkResult{
		Results: make([]Result, len(recipients)),
	}

	for start := 0; start < len(recipients); start += b.batchSize {
		end := start + b.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				r := recipients[idx]
				result.Results[idx] = b.dispatcher.Send(ctx, Request{
					Phone:       r.Phone,
					Body:        b.renderBody(body, r),
					MessageID:   r.MessageID,
					RecipientID: r.RecipientID,
					UserID:      r.UserID,
				})
			}(i)
		}
		wg.Wait()

		// Throttle the carrier and the rate-limit store between bursts.
		if end < len(recipients) && b.batchDelay > 0 {
			select {
			case <-time.After(b.batchDelay):
			case <-ctx.Done():
				logger.Warn("bulk send interrupted between batches", "dispatched", end, "total", len(recipients))
			}
		}
	}

	for _, r := range result.Results {
		if r.Success {
			result.TotalSent++
			result.TotalCost += r.Cost
		} else {
			result.TotalFailed++
		}
	}

	logger.Info("bulk send settled",
		"recipients", len(recipients),
		"sent", result.TotalSent,
		"failed", result.TotalFailed,
		"cost", result.TotalCost)

	return result
}

func (b *BulkDispatcher) renderBody(body string, r BulkRecipient) string {
	if r.Name == "" {
		return body
	}
	return template.Render(body, map[string]string{"name": r.Name})
}
