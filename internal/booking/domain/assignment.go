package domain

import "time"

// Assignment is one translator-to-job link. Rows are never rewritten to
// point at another translator; a reassignment cancels the current row and
// appends a new one.
type Assignment struct {
	ID           int64      `db:"id" json:"id"`
	JobID        int64      `db:"job_id" json:"job_id"`
	TranslatorID int64      `db:"user_id" json:"translator_id"`
	AssignedAt   time.Time  `db:"created_at" json:"assigned_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy  *int64     `db:"completed_by" json:"completed_by,omitempty"`
	CancelAt     *time.Time `db:"cancel_at" json:"cancel_at,omitempty"`
}

// Active reports whether the assignment is neither completed nor cancelled.
func (a *Assignment) Active() bool {
	return a.CompletedAt == nil && a.CancelAt == nil
}
