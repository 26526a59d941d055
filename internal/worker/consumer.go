package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	booking "github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// eventMessage is one decoded event and the delivery it arrived in
type eventMessage struct {
	Event    booking.Event
	Delivery amqp.Delivery
}

// setupConsumer starts consuming the event queue and returns the delivery channel
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if w.source == nil {
		return nil, errNoSource
	}

	// Manual acknowledgment; prefetch is set on the channel by the client
	deliveries, err := w.source.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher listens to RabbitMQ deliveries and dispatches events to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			msg, err := decodeEvent(delivery)
			if err != nil {
				w.logger.Error("Failed to decode event",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				// NACK without requeue - malformed messages should go to DLQ
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.eventsChan <- msg:
				w.logger.Debug("Event dispatched to worker pool",
					slog.String("event_id", msg.Event.ID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching event")
				// NACK the message so it can be reprocessed
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}

// decodeEvent parses a delivery body into an event
func decodeEvent(delivery amqp.Delivery) (*eventMessage, error) {
	var ev booking.Event
	if err := json.Unmarshal(delivery.Body, &ev); err != nil {
		return nil, fmt.Errorf("invalid event JSON: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event has no id")
	}
	if ev.Kind == "" {
		return nil, fmt.Errorf("event %s has no kind", ev.ID)
	}
	return &eventMessage{Event: ev, Delivery: delivery}, nil
}
