package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/booking-dispatch/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.eventsChan:
			if !ok {
				return
			}
			w.handleMessage(ctx, workerName, msg)
		}
	}
}

// handleMessage processes one event and ACKs or NACKs its delivery
func (w *Worker) handleMessage(ctx context.Context, workerName string, msg *eventMessage) {
	err := w.processEvent(ctx, msg)
	delivery := msg.Delivery

	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("event_id", msg.Event.ID),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	// Smart requeue decision based on error type
	requeue := w.shouldRequeue(err)
	w.logger.Error("Event processing failed",
		slog.String("worker_name", workerName),
		slog.String("event_id", msg.Event.ID),
		slog.String("kind", string(msg.Event.Kind)),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("event_id", msg.Event.ID),
			slog.Any("error", nackErr),
		)
	}
}

// shouldRequeue determines if an event should be requeued based on the error type
func (w *Worker) shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrMaxRetriesExceeded) || errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	// Requeue for transient/retryable errors
	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
