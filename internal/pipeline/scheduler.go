package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/relaysms/contact-gateway/pkg/logger"
)

const scheduledBatchLimit = 100

// Scheduler polls for SCHEDULED messages whose send time has passed
// and pushes them through the pipeline. Cancellations observed before
// a poll win; once Send starts the dispatch runs to completion.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
}

func NewScheduler(pipeline *Pipeline, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		pipeline: pipeline,
		interval: interval,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.pipeline.messages.DueScheduled(ctx, time.Now(), scheduledBatchLimit)
	if err != nil {
		logger.Error("scheduler poll failed", "error", err)
		return
	}

	for _, msg := range due {
		if _, err := s.pipeline.Send(ctx, msg.ID, msg.UserID); err != nil {
			// Someone cancelled or another instance grabbed it first.
			if errors.Is(err, ErrInvalidState) {
				logger.Debug("scheduled message no longer sendable", "message_id", msg.ID)
				continue
			}
			logger.Error("scheduled send failed", "message_id", msg.ID, "error", err)
		}
	}
}
