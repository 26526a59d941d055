// Package delivery gets notification messages to a Sink: at most once per
// message key, with bounded retry, a throughput limit and a durable queue for
// messages that must wait.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/notification"
	"golang.org/x/time/rate"
)

const (
	DefaultAttempts   = 3
	DefaultInterval   = 200 * time.Millisecond
	DefaultMultiplier = 2.0
)

// Log records which message keys have been handed to the transport.
type Log interface {
	// Reserve claims key for sending. It returns false when the key was
	// already sent or another sender holds it.
	Reserve(ctx context.Context, key string) (bool, error)
	MarkSent(ctx context.Context, key string) error
	// MarkFailed releases the key so a later redelivery may try again.
	MarkFailed(ctx context.Context, key, reason string) error
}

// SenderConfig tunes retries and throughput.
type SenderConfig struct {
	Attempts   int
	Interval   time.Duration
	Multiplier float64
	// RatePerSecond of zero disables the limit.
	RatePerSecond float64
	Burst         int
}

func (c SenderConfig) withDefaults() SenderConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Sender hands single messages to the sink.
type Sender struct {
	sink    notification.Sink
	log     Log
	limiter *rate.Limiter
	config  SenderConfig
	logger  *slog.Logger
}

// NewSender creates a new Sender instance
func NewSender(sink notification.Sink, log Log, config SenderConfig, logger *slog.Logger) *Sender {
	config = config.withDefaults()
	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	return &Sender{
		sink:    sink,
		log:     log,
		limiter: rate.NewLimiter(limit, config.Burst),
		config:  config,
		logger:  logger,
	}
}

// Send delivers msg unless its key was already delivered. Transport failures
// that survive every retry are logged and dropped; the returned error is
// reserved for delivery-log faults and cancellation.
func (s *Sender) Send(ctx context.Context, msg notification.Message) error {
	ok, err := s.log.Reserve(ctx, msg.Key)
	if err != nil {
		return fmt.Errorf("failed to reserve message %s: %w", msg.Key, err)
	}
	if !ok {
		s.logger.Debug("Skipping duplicate message",
			slog.String("key", msg.Key),
		)
		return nil
	}

	sendErr := s.sendWithRetry(ctx, msg)
	if sendErr == nil {
		if err := s.log.MarkSent(ctx, msg.Key); err != nil {
			return fmt.Errorf("failed to mark message %s sent: %w", msg.Key, err)
		}
		return nil
	}

	// Release the reservation even when ctx is gone.
	markCtx := context.WithoutCancel(ctx)
	if err := s.log.MarkFailed(markCtx, msg.Key, sendErr.Error()); err != nil {
		return fmt.Errorf("failed to mark message %s failed: %w", msg.Key, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.Error("Dropping message after transport failure",
		slog.String("key", msg.Key),
		slog.String("channel", string(msg.Channel)),
		slog.Int64("recipient_id", msg.RecipientID),
		slog.Any("error", fmt.Errorf("%w: %w", domain.ErrTransportFailure, sendErr)),
	)
	return nil
}

func (s *Sender) sendWithRetry(ctx context.Context, msg notification.Message) error {
	delay := s.config.Interval
	var lastErr error
	for attempt := 1; attempt <= s.config.Attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		err := s.dispatch(ctx, msg)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("Message sent after retry",
					slog.String("key", msg.Key),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		lastErr = err

		if attempt == s.config.Attempts {
			break
		}
		s.logger.Warn("Failed to send message, retrying...",
			slog.String("key", msg.Key),
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * s.config.Multiplier)
	}
	return fmt.Errorf("gave up after %d attempts: %w", s.config.Attempts, lastErr)
}

func (s *Sender) dispatch(ctx context.Context, msg notification.Message) error {
	switch msg.Channel {
	case notification.ChannelPush:
		if msg.Push == nil {
			return domain.NewValidationError("push", "push message without payload")
		}
		return s.sink.SendPush(ctx, []int64{msg.RecipientID}, *msg.Push)
	case notification.ChannelSMS:
		return s.sink.SendSMS(ctx, msg.Address, msg.Text)
	case notification.ChannelMail:
		return s.sink.SendMail(ctx, msg.Address, msg.Template, msg.Data)
	default:
		return domain.NewValidationError("channel", fmt.Sprintf("unknown channel %q", msg.Channel))
	}
}
