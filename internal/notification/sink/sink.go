// Package sink holds the transports notifications leave the system through.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/notification"
	"github.com/cuongbtq/booking-dispatch/shared/rabbitmq"
	"github.com/google/uuid"
)

// Routing keys on the transport exchange, one per provider queue.
const (
	RoutingKeyPush = "push"
	RoutingKeySMS  = "sms"
	RoutingKeyMail = "mail"
)

// Publisher is the part of the RabbitMQ client the sink needs.
type Publisher interface {
	PublishTo(ctx context.Context, msg rabbitmq.Message) error
}

// PushRequest is the body of a push publishing.
type PushRequest struct {
	Recipients []int64                  `json:"recipients"`
	Payload    notification.PushPayload `json:"payload"`
	SentAt     time.Time                `json:"sent_at"`
}

// SMSRequest is the body of an SMS publishing.
type SMSRequest struct {
	Number string    `json:"number"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// MailRequest is the body of a mail publishing.
type MailRequest struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// RabbitSink hands notifications to provider workers over a RabbitMQ
// exchange, routed by channel.
type RabbitSink struct {
	publisher Publisher
	exchange  string
	now       func() time.Time
	logger    *slog.Logger
}

// NewRabbitSink creates a new RabbitSink instance
func NewRabbitSink(publisher Publisher, exchange string, logger *slog.Logger) *RabbitSink {
	return &RabbitSink{
		publisher: publisher,
		exchange:  exchange,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *RabbitSink) SendPush(ctx context.Context, recipients []int64, payload notification.PushPayload) error {
	return s.publish(ctx, RoutingKeyPush, PushRequest{Recipients: recipients, Payload: payload, SentAt: s.now()})
}

func (s *RabbitSink) SendSMS(ctx context.Context, number, text string) error {
	return s.publish(ctx, RoutingKeySMS, SMSRequest{Number: number, Text: text, SentAt: s.now()})
}

func (s *RabbitSink) SendMail(ctx context.Context, to, template string, data map[string]string) error {
	return s.publish(ctx, RoutingKeyMail, MailRequest{To: to, Template: template, Data: data, SentAt: s.now()})
}

func (s *RabbitSink) publish(ctx context.Context, routingKey string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", routingKey, err)
	}
	return s.publisher.PublishTo(ctx, rabbitmq.Message{
		Exchange:    s.exchange,
		RoutingKey:  routingKey,
		MessageID:   uuid.NewString(),
		ContentType: "application/json",
		Body:        raw,
	})
}

// LogSink writes notifications to the log instead of a provider. Used in
// development and when no transport is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SendPush(_ context.Context, recipients []int64, payload notification.PushPayload) error {
	s.logger.Info("Push notification",
		slog.Any("recipients", recipients),
		slog.String("type", payload.Type),
		slog.Int64("job_id", payload.JobID),
		slog.String("body", payload.Body),
		slog.String("android_sound", payload.AndroidSound),
	)
	return nil
}

func (s *LogSink) SendSMS(_ context.Context, number, text string) error {
	s.logger.Info("SMS notification",
		slog.String("number", number),
		slog.String("text", text),
	)
	return nil
}

func (s *LogSink) SendMail(_ context.Context, to, template string, data map[string]string) error {
	s.logger.Info("Mail notification",
		slog.String("to", to),
		slog.String("template", template),
		slog.Any("data", data),
	)
	return nil
}
