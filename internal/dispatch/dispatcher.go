package dispatch

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/relaysms/contact-gateway/internal/carrier"
	"github.com/relaysms/contact-gateway/internal/model"
	"github.com/relaysms/contact-gateway/internal/phone"
	"github.com/relaysms/contact-gateway/internal/ratelimit"
	"github.com/relaysms/contact-gateway/pkg/logger"
	"github.com/relaysms/contact-gateway/pkg/prom"
	"github.com/relaysms/contact-gateway/pkg/worker"
)

const segmentLength = 160

const (
	modeLive      = "live"
	modeSimulated = "simulated"
)

// simulatedSuccessRate is the fraction of sends that succeed when no
// carrier is configured.
const simulatedSuccessRate = 0.9

// RecipientStore persists per-recipient outcomes. Writes are
// best-effort: the dispatcher logs and drops failures.
type RecipientStore interface {
	MarkSent(ctx context.Context, recipientID int64, providerSID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, recipientID int64, errorMessage string) error
	MarkDelivered(ctx context.Context, providerSID string, deliveredAt time.Time) error
}

// Notifier receives recipient status transitions for realtime fan-out.
// Delivery is fire-and-forget.
type Notifier interface {
	RecipientStatusChanged(userID int64, update RecipientUpdate)
}

// RecipientUpdate describes one recipient status transition.
type RecipientUpdate struct {
	RecipientID  int64                 `json:"recipient_id"`
	MessageID    int64                 `json:"message_id"`
	Phone        string                `json:"phone"`
	Status       model.RecipientStatus `json:"status"`
	ErrorMessage string                `json:"error_message,omitempty"`
}

// Request is one send. MessageID/RecipientID are optional: when set,
// the outcome is written back to the recipient row and broadcast.
type Request struct {
	Phone       string
	Body        string
	MessageID   int64
	RecipientID int64
	UserID      int64
}

// Result reflects only the carrier interaction; downstream persistence
// runs asynchronously and never alters it.
type Result struct {
	Phone       string // canonical, empty when normalization failed
	Success     bool
	ProviderSID string
	Cost        float64
	DeliveredAt *time.Time // set when the carrier confirmed delivery in the receipt
	Err         error
}

// ErrorMessage renders Err for recipient rows.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type Config struct {
	BasePrice      float64
	IntlMultiplier float64
	FromNumber     string
	// Seed fixes the simulated-mode RNG; 0 seeds from the clock.
	Seed int64
}

// Dispatcher sends one SMS to one recipient: normalize, rate-limit,
// cost, carrier (or simulated carrier), then best-effort bookkeeping.
type Dispatcher struct {
	normalizer *phone.Normalizer
	limiter    *ratelimit.Limiter
	client     carrier.Client // nil means simulated mode
	store      RecipientStore
	notifier   Notifier
	config     Config
	pool       *worker.WorkerManager

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewDispatcher(normalizer *phone.Normalizer, limiter *ratelimit.Limiter, client carrier.Client, store RecipientStore, notifier Notifier, config Config) *Dispatcher {
	if config.BasePrice == 0 {
		config.BasePrice = 0.01
	}
	if config.IntlMultiplier == 0 {
		config.IntlMultiplier = 2.5
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	d := &Dispatcher{
		normalizer: normalizer,
		limiter:    limiter,
		client:     client,
		store:      store,
		notifier:   notifier,
		config:     config,
		pool:       worker.NewWorkerManager(1024, 8, nil),
		rng:        rand.New(rand.NewSource(seed)),
	}

	d.pool.SetWorker(func(workerIndex int, job interface{}) {
		if fn, ok := job.(func()); ok {
			fn()
		}
	})
	go func() {
		if err := d.pool.Start(); err != nil {
			logger.Debug("dispatch side-effect pool stopped", "error", err)
		}
	}()

	if client == nil {
		logger.Warn("no carrier configured, dispatcher running in simulated mode")
	}
	return d
}

// Close stops the side-effect pool. In-flight jobs finish first.
func (d *Dispatcher) Close() {
	d.pool.Exit()
}

// Send dispatches one SMS. The returned Result is never an abort
// signal for callers batching multiple sends.
func (d *Dispatcher) Send(ctx context.Context, req Request) Result {
	start := time.Now()
	mode := modeLive
	if d.client == nil {
		mode = modeSimulated
	}

	canonical, err := d.normalizer.Normalize(req.Phone)
	if err != nil {
		// No rate-limit slot is consumed for unusable input.
		d.recordFailure(ctx, req, Result{Err: err}, mode)
		return Result{Err: err}
	}

	rl, err := d.limiter.CheckAndIncrement(canonical)
	if err != nil {
		// Store outage: fail the send rather than bypass the cap.
		logger.Error("rate limit check failed", "phone", canonical, "error", err)
		res := Result{Phone: canonical, Err: err}
		d.recordFailure(ctx, req, res, mode)
		return res
	}
	if !rl.Allowed {
		prom.IncSMSRateLimited()
		res := Result{Phone: canonical, Err: &RateLimitedError{ResetAt: rl.ResetAt}}
		d.recordFailure(ctx, req, res, mode)
		return res
	}

	cost := d.estimateCost(req.Body, canonical)

	var res Result
	if d.client == nil {
		res = d.sendSimulated(canonical, cost)
	} else {
		res = d.sendLive(ctx, req.Body, canonical, cost)
	}

	prom.AddSendDuration(time.Since(start).Seconds(), mode)

	if res.Success {
		prom.IncSMSSent(mode)
		prom.AddSMSCost(res.Cost)
		d.recordSuccess(ctx, req, res)
	} else {
		d.recordFailure(ctx, req, res, mode)
	}
	return res
}

func (d *Dispatcher) sendLive(ctx context.Context, body, canonical string, cost float64) Result {
	receipt, err := d.client.CreateMessage(ctx, body, d.config.FromNumber, canonical)
	if err != nil {
		return Result{Phone: canonical, Err: err}
	}
	if receipt.Status == carrier.StatusFailed {
		err := carrier.ErrCarrier
		if receipt.ErrorMsg != "" {
			err = errors.New(receipt.ErrorMsg)
		}
		return Result{Phone: canonical, ProviderSID: receipt.SID, Err: err}
	}
	res := Result{Phone: canonical, Success: true, ProviderSID: receipt.SID, Cost: cost}
	if receipt.Status == carrier.StatusDelivered {
		deliveredAt := receipt.DeliveredAt
		if deliveredAt == nil {
			now := time.Now().UTC()
			deliveredAt = &now
		}
		res.DeliveredAt = deliveredAt
	}
	return res
}

func (d *Dispatcher) sendSimulated(canonical string, cost float64) Result {
	d.rngMu.Lock()
	ok := d.rng.Float64() < simulatedSuccessRate
	d.rngMu.Unlock()

	if !ok {
		return Result{Phone: canonical, Err: errors.New("simulated carrier failure")}
	}
	return Result{
		Phone:       canonical,
		Success:     true,
		ProviderSID: "SIM" + uuid.NewString(),
		Cost:        cost,
	}
}

// estimateCost prices a message: base price per 160-char segment, with
// a multiplier for non-domestic destinations.
func (d *Dispatcher) estimateCost(body, canonical string) float64 {
	segments := int(math.Ceil(float64(utf8.RuneCountInString(body)) / segmentLength))
	if segments < 1 {
		segments = 1
	}

	multiplier := 1.0
	if !d.normalizer.IsDomestic(canonical) {
		multiplier = d.config.IntlMultiplier
	}
	return d.config.BasePrice * float64(segments) * multiplier
}

// recordSuccess marks the recipient SENT, and DELIVERED on top when
// the receipt confirmed delivery. The broadcast is emitted before Send
// returns so subscribers see every recipient transition ahead of the
// message's terminal status; only the row writes run on the pool.
// Write failures are logged, never propagated: the send already
// happened.
func (d *Dispatcher) recordSuccess(ctx context.Context, req Request, res Result) {
	if req.RecipientID == 0 {
		return
	}
	sentAt := time.Now()
	d.pool.Enqueue(func() {
		if d.store == nil {
			return
		}
		if err := d.store.MarkSent(context.WithoutCancel(ctx), req.RecipientID, res.ProviderSID, sentAt); err != nil {
			logger.Error("failed to update recipient status", "recipient_id", req.RecipientID, "error", err)
			return
		}
		if res.DeliveredAt != nil {
			if err := d.store.MarkDelivered(context.WithoutCancel(ctx), res.ProviderSID, *res.DeliveredAt); err != nil {
				logger.Error("failed to mark recipient delivered", "provider_sid", res.ProviderSID, "error", err)
			}
		}
	})
	if d.notifier != nil {
		status := model.RecipientStatusSent
		if res.DeliveredAt != nil {
			status = model.RecipientStatusDelivered
		}
		d.notifier.RecipientStatusChanged(req.UserID, RecipientUpdate{
			RecipientID: req.RecipientID,
			MessageID:   req.MessageID,
			Phone:       res.Phone,
			Status:      status,
		})
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, req Request, res Result, mode string) {
	prom.IncSMSFailed(mode, failureReason(res.Err))

	if req.RecipientID == 0 {
		return
	}
	errMsg := res.ErrorMessage()
	d.pool.Enqueue(func() {
		if d.store == nil {
			return
		}
		if err := d.store.MarkFailed(context.WithoutCancel(ctx), req.RecipientID, errMsg); err != nil {
			logger.Error("failed to update recipient status", "recipient_id", req.RecipientID, "error", err)
		}
	})
	if d.notifier != nil {
		d.notifier.RecipientStatusChanged(req.UserID, RecipientUpdate{
			RecipientID:  req.RecipientID,
			MessageID:    req.MessageID,
			Phone:        res.Phone,
			Status:       model.RecipientStatusFailed,
			ErrorMessage: errMsg,
		})
	}
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, phone.ErrInvalidPhone):
		return "invalid_phone"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "carrier"
	}
}
