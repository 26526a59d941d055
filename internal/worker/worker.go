// Package worker consumes booking events from RabbitMQ, hands them to the
// notification dispatcher through a pool of goroutines, and runs the periodic
// delay-queue release and expiry sweep.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	booking "github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultConcurrency  = 4
	DefaultEventTimeout = 30 * time.Second
	DefaultJobTimeout   = 2 * time.Minute
	DefaultMaxRetries   = 3
)

// Source delivers raw events. *rabbitmq.Client satisfies it.
type Source interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// EventHandler turns one booking event into notifications.
type EventHandler interface {
	Handle(ctx context.Context, ev booking.Event) error
}

// Releaser sends delayed notifications that have become due.
type Releaser interface {
	Release(ctx context.Context) (int, error)
}

// Sweeper times out pending jobs past their expiry.
type Sweeper interface {
	ExpireDue(ctx context.Context) (int, error)
}

// Scheduler runs functions on cron specs. *cron.Cron satisfies it.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Start()
	Stop() context.Context
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Source          Source
	Handler         EventHandler
	Releaser        Releaser
	Sweeper         Sweeper
	Scheduler       Scheduler
	WorkerID        string
	Concurrency     int
	EventTimeout    time.Duration
	JobTimeout      time.Duration
	MaxRetries      int
	ReleaseSchedule string
	ExpirySchedule  string
}

// Worker represents the background event worker
type Worker struct {
	logger          *slog.Logger
	source          Source
	handler         EventHandler
	releaser        Releaser
	sweeper         Sweeper
	scheduler       Scheduler
	workerID        string
	concurrency     int
	eventTimeout    time.Duration
	jobTimeout      time.Duration
	maxRetries      int
	releaseSchedule string
	expirySchedule  string

	eventsChan chan *eventMessage
	jobs       singleflight.Group
	wg         sync.WaitGroup
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:          cfg.Logger,
		source:          cfg.Source,
		handler:         cfg.Handler,
		releaser:        cfg.Releaser,
		sweeper:         cfg.Sweeper,
		scheduler:       cfg.Scheduler,
		workerID:        cfg.WorkerID,
		concurrency:     cfg.Concurrency,
		eventTimeout:    cfg.EventTimeout,
		jobTimeout:      cfg.JobTimeout,
		maxRetries:      cfg.MaxRetries,
		releaseSchedule: cfg.ReleaseSchedule,
		expirySchedule:  cfg.ExpirySchedule,
		stopChan:        make(chan struct{}),
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}
	if w.concurrency <= 0 {
		w.concurrency = DefaultConcurrency
	}
	if w.eventTimeout <= 0 {
		w.eventTimeout = DefaultEventTimeout
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = DefaultJobTimeout
	}
	if w.maxRetries <= 0 {
		w.maxRetries = DefaultMaxRetries
	}
	if w.scheduler == nil {
		w.scheduler = cron.New()
	}
	w.eventsChan = make(chan *eventMessage, w.concurrency)
	return w
}

// Start consumes events and runs scheduled jobs until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("event_timeout", w.eventTimeout),
	)

	// Step 1: Register scheduled jobs
	if err := w.scheduleJobs(ctx); err != nil {
		return err
	}

	// Step 2: Subscribe to the event queue
	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	// Step 3: Spawn the pool, then feed it
	w.spawnWorkerPool(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	w.scheduler.Start()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	<-w.scheduler.Stop().Done()
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

var errNoSource = errors.New("worker has no event source")
