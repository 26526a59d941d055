package notification

import (
	"context"
	"fmt"
	"time"
)

// Channel is the transport a message goes out on.
type Channel string

const (
	ChannelPush Channel = "push"
	ChannelSMS  Channel = "sms"
	ChannelMail Channel = "mail"
)

// Push notification types carried in the payload.
const (
	PushSuitableJob        = "suitable_job"
	PushJobAccepted        = "job_accepted"
	PushJobCancelled       = "job_cancelled"
	PushJobExpired         = "job_expired"
	PushSessionStartRemind = "session_start_remind"
)

// Sound profiles for pushes.
const (
	SoundDefault   = "default"
	SoundNormal    = "normal_booking"
	SoundEmergency = "emergency_booking"
)

// PushPayload is what a push transport needs to render a notification.
type PushPayload struct {
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	Type         string            `json:"type"`
	AndroidSound string            `json:"android_sound"`
	IOSSound     string            `json:"ios_sound"`
	JobID        int64             `json:"job_id"`
	Data         map[string]string `json:"data,omitempty"`
}

// Message is one outbound notification to one recipient.
type Message struct {
	Key          string            `json:"key"`
	EventID      string            `json:"event_id"`
	Channel      Channel           `json:"channel"`
	Template     string            `json:"template"`
	RecipientID  int64             `json:"recipient_id"`
	Address      string            `json:"address,omitempty"`
	Text         string            `json:"text,omitempty"`
	Push         *PushPayload      `json:"push,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	DeliverAfter *time.Time        `json:"deliver_after,omitempty"`
}

// MessageKey identifies a message for de-duplication. A redelivered event
// produces the same keys, so each recipient is notified once.
func MessageKey(eventID string, channel Channel, template string, recipientID int64) string {
	return fmt.Sprintf("%s/%s/%s/%d", eventID, channel, template, recipientID)
}

// Deferred reports whether the message must wait until after now.
func (m Message) Deferred(now time.Time) bool {
	return m.DeliverAfter != nil && m.DeliverAfter.After(now)
}

// Sink is the transport boundary. Implementations hand messages to the
// push, SMS and mail providers.
type Sink interface {
	SendPush(ctx context.Context, recipients []int64, payload PushPayload) error
	SendSMS(ctx context.Context, number, text string) error
	SendMail(ctx context.Context, to, template string, data map[string]string) error
}

// Deliverer takes built messages and gets them to a Sink, now or later.
type Deliverer interface {
	Deliver(ctx context.Context, msgs []Message) error
}
