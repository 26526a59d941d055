package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/notification"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency  = 8
	DefaultReleaseBatch = 100
	DefaultLease        = 5 * time.Minute
)

// Queue holds messages until their DeliverAfter time. Rows survive restarts
// in the PostgreSQL implementation.
type Queue interface {
	// Schedule stores msg. Scheduling a key twice keeps the first copy.
	Schedule(ctx context.Context, msg notification.Message) error
	// Claim returns up to limit due messages and hides them from other
	// claimers until lease has passed.
	Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notification.Message, error)
	Remove(ctx context.Context, key string) error
}

// Pipeline is the notification.Deliverer used by the dispatcher.
type Pipeline struct {
	sender      *Sender
	queue       Queue
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// NewPipeline creates a new Pipeline instance
func NewPipeline(sender *Sender, queue Queue, concurrency int, now func() time.Time, logger *slog.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		sender:      sender,
		queue:       queue,
		concurrency: concurrency,
		now:         now,
		logger:      logger,
	}
}

// Deliver queues deferred messages and sends the rest concurrently. Every
// message is attempted; the errors of all failures are joined.
func (p *Pipeline) Deliver(ctx context.Context, msgs []notification.Message) error {
	now := p.now()

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, msg := range msgs {
		if msg.Deferred(now) {
			if err := p.queue.Schedule(ctx, msg); err != nil {
				record(fmt.Errorf("failed to schedule message %s: %w", msg.Key, err))
				continue
			}
			p.logger.Debug("Message deferred",
				slog.String("key", msg.Key),
				slog.Time("deliver_after", *msg.DeliverAfter),
			)
			continue
		}
		g.Go(func() error {
			if err := p.sender.Send(ctx, msg); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Releaser moves due messages from the queue to the sender.
type Releaser struct {
	queue  Queue
	sender *Sender
	batch  int
	lease  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewReleaser creates a new Releaser instance
func NewReleaser(queue Queue, sender *Sender, batch int, lease time.Duration, now func() time.Time, logger *slog.Logger) *Releaser {
	if batch <= 0 {
		batch = DefaultReleaseBatch
	}
	if lease <= 0 {
		lease = DefaultLease
	}
	if now == nil {
		now = time.Now
	}
	return &Releaser{
		queue:  queue,
		sender: sender,
		batch:  batch,
		lease:  lease,
		now:    now,
		logger: logger,
	}
}

// Release sends one batch of due messages and returns how many left the
// queue. A message whose send fails stays queued and is claimed again once
// its lease runs out.
func (r *Releaser) Release(ctx context.Context) (int, error) {
	msgs, err := r.queue.Claim(ctx, r.now(), r.batch, r.lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim delayed messages: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	released := 0
	for _, msg := range msgs {
		if err := r.sender.Send(ctx, msg); err != nil {
			r.logger.Warn("Failed to release delayed message",
				slog.String("key", msg.Key),
				slog.Any("error", err),
			)
			if ctx.Err() != nil {
				return released, ctx.Err()
			}
			continue
		}
		if err := r.queue.Remove(ctx, msg.Key); err != nil {
			return released, fmt.Errorf("failed to remove delayed message %s: %w", msg.Key, err)
		}
		released++
	}

	r.logger.Info("Released delayed messages",
		slog.Int("claimed", len(msgs)),
		slog.Int("released", released),
	)
	return released, nil
}
