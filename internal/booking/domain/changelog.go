package domain

import "time"

// Change-log fields.
const (
	FieldTranslator = "translator"
	FieldDue        = "due"
	FieldLanguage   = "from_language_id"
	FieldStatus     = "status"
)

// ChangeLogEntry records one field change applied by a transition. Entries
// are persisted in the same transaction as the job they describe.
type ChangeLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	JobID     int64     `db:"job_id" json:"job_id"`
	ActorID   int64     `db:"actor_id" json:"actor_id"`
	Field     string    `db:"field" json:"field"`
	OldValue  string    `db:"old_value" json:"old_value"`
	NewValue  string    `db:"new_value" json:"new_value"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
