package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tenantgate.io/internal/obs"
)

// Deliverer sends one message; *Sender implements it.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 20
	defaultMaxAttempts  = 5
	defaultLease        = 2 * time.Minute
	backoffBase         = 30 * time.Second
	backoffCap          = 30 * time.Minute
)

// Dispatcher drains the outbox. Messages are delivered at least once: a worker
// that dies mid-send leaves the row leased, and it becomes due again after the lease.
type Dispatcher struct {
	store       Store
	deliverer   Deliverer
	interval    time.Duration
	batch       int
	maxAttempts int
	lease       time.Duration
	now         func() time.Time
	wake        chan struct{}
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithPollInterval(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.interval = d
		}
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(x *Dispatcher) {
		if n > 0 {
			x.batch = n
		}
	}
}

func WithMaxAttempts(n int) DispatcherOption {
	return func(x *Dispatcher) {
		if n > 0 {
			x.maxAttempts = n
		}
	}
}

func WithDispatcherClock(fn func() time.Time) DispatcherOption {
	return func(x *Dispatcher) {
		if fn != nil {
			x.now = fn
		}
	}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store Store, deliverer Deliverer, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil || deliverer == nil {
		return nil, errors.New("notify: store and deliverer are required")
	}
	d := &Dispatcher{
		store:       store,
		deliverer:   deliverer,
		interval:    defaultPollInterval,
		batch:       defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		lease:       defaultLease,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Wake asks the running loop to drain the outbox now. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox on every tick or wake-up until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			obs.Logger().Error("outbox dispatch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DispatchPending performs one pass and returns the number of messages delivered.
func (d *Dispatcher) DispatchPending(ctx context.Context) (int, error) {
	now := d.now().UTC()
	msgs, err := d.store.ClaimOutbox(ctx, d.batch, now, now.Add(d.lease))
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, msg := range msgs {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		attempts := msg.Attempts + 1
		sendErr := d.deliverer.Deliver(ctx, msg)
		if sendErr == nil {
			if err := d.store.MarkSent(ctx, msg.ID, d.now().UTC()); err != nil {
				return delivered, err
			}
			delivered++
			continue
		}

		log := obs.Logger().With(
			zap.String("message_id", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.Int("attempts", attempts),
			zap.Error(sendErr))
		if attempts >= d.maxAttempts {
			log.Error("notification permanently failed")
			if err := d.store.MarkFailed(ctx, msg.ID, attempts, sendErr.Error()); err != nil {
				return delivered, err
			}
			continue
		}
		next := d.now().UTC().Add(Backoff(attempts))
		log.Warn("notification delivery failed; will retry", zap.Time("next_attempt_at", next))
		if err := d.store.MarkRetry(ctx, msg.ID, attempts, next, sendErr.Error()); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

// Backoff returns the delay before retry number attempts (1-based): 30s doubling, capped at 30m.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
