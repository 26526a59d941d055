package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a booking transition the notification dispatcher reacts to.
type EventKind string

const (
	EventJobCreated            EventKind = "job_created"
	EventJobBroadcast          EventKind = "job_broadcast"
	EventJobReopened           EventKind = "job_reopened"
	EventJobAccepted           EventKind = "job_accepted"
	EventTranslatorAssigned    EventKind = "translator_assigned"
	EventSessionEnded          EventKind = "session_ended"
	EventWithdrawnByAdmin      EventKind = "withdrawn_by_admin"
	EventCancelledByCustomer   EventKind = "cancelled_by_customer"
	EventCancelledByTranslator EventKind = "cancelled_by_translator"
	EventDueChanged            EventKind = "due_changed"
	EventTranslatorChanged     EventKind = "translator_changed"
	EventLanguageChanged       EventKind = "language_changed"
	EventJobExpired            EventKind = "job_expired"
	EventSMSBroadcast          EventKind = "sms_broadcast"
)

// Event is the unit handed from the state machine to the dispatcher. It
// carries a snapshot of the job as committed, plus the context the
// dispatcher needs to pick recipients and templates.
type Event struct {
	ID                   string     `json:"event_id"`
	Kind                 EventKind  `json:"kind"`
	JobID                int64      `json:"job_id"`
	Job                  Job        `json:"job"`
	ActorID              int64      `json:"actor_id,omitempty"`
	TranslatorID         int64      `json:"translator_id,omitempty"`
	PreviousTranslatorID int64      `json:"previous_translator_id,omitempty"`
	ExcludeUserID        int64      `json:"exclude_user_id,omitempty"`
	OldDue               *time.Time `json:"old_due,omitempty"`
	OldLanguageID        int64      `json:"old_language_id,omitempty"`
	WithPush             bool       `json:"with_push,omitempty"`
	OccurredAt           time.Time  `json:"occurred_at"`
}

// NewEvent builds an event for the given job snapshot.
func NewEvent(kind EventKind, job *Job, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		JobID:      job.ID,
		Job:        *job.Clone(),
		OccurredAt: at,
	}
}
