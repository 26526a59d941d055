package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	booking "github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/worker/domain"
)

// deliveryCountHeader is set by RabbitMQ quorum queues on redelivery
const deliveryCountHeader = "x-delivery-count"

// processEvent runs the notification handler for one event
func (w *Worker) processEvent(ctx context.Context, msg *eventMessage) error {
	ev := msg.Event
	w.logger.Info("Processing event",
		slog.String("event_id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int64("job_id", ev.JobID),
	)

	// Step 1: Bound the handler by the event timeout
	eventCtx, cancel := context.WithTimeout(ctx, w.eventTimeout)
	defer cancel()

	// Step 2: Build and deliver notifications
	err := w.handler.Handle(eventCtx, ev)
	if err == nil {
		return nil
	}

	// Step 3: Classify the failure for the NACK decision
	if booking.IsDataIntegrity(err) || errors.Is(err, booking.ErrValidation) {
		return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, err)
	}

	attempts, counted := deliveryAttempts(msg)
	if attempts >= w.maxRetries || (!counted && msg.Delivery.Redelivered) {
		w.logger.Warn("Event exceeded max retries",
			slog.String("event_id", ev.ID),
			slog.Int("attempts", attempts),
			slog.Int("max_retries", w.maxRetries),
		)
		return fmt.Errorf("%w: %w", domain.ErrMaxRetriesExceeded, err)
	}

	// Already-sent messages are skipped on redelivery, so a retry only
	// covers what failed.
	return domain.NewRetryableError(fmt.Errorf("event handling failed: %w", err))
}

// deliveryAttempts counts how often the broker has delivered the message,
// including this time. Classic queues only flag a redelivery without
// counting, so counted is false there and the caller cannot tell the second
// attempt from the tenth.
func deliveryAttempts(msg *eventMessage) (attempts int, counted bool) {
	if count, ok := msg.Delivery.Headers[deliveryCountHeader]; ok {
		switch v := count.(type) {
		case int64:
			return int(v) + 1, true
		case int32:
			return int(v) + 1, true
		case int:
			return v + 1, true
		}
	}
	if msg.Delivery.Redelivered {
		return 2, false
	}
	return 1, true
}
