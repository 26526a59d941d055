// Package ledger tracks which translator holds which job over time.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
)

// Booking is an active assignment joined with its job's time slot.
type Booking struct {
	JobID    int64     `db:"job_id"`
	Due      time.Time `db:"due"`
	Duration int       `db:"duration"`
}

// Store persists assignment rows. ActiveAssignment returns nil, nil when the
// job has no active assignment. DeleteAssignment only touches the active row;
// cancelled and completed rows are history and stay. ActiveBookings returns
// the translator's active bookings whose slot touches [from, to].
type Store interface {
	ActiveAssignment(ctx context.Context, jobID int64) (*domain.Assignment, error)
	Assignments(ctx context.Context, jobID int64) ([]domain.Assignment, error)
	InsertAssignment(ctx context.Context, a *domain.Assignment) error
	CancelAssignment(ctx context.Context, id int64, at time.Time) error
	CompleteAssignment(ctx context.Context, id int64, by int64, at time.Time) error
	DeleteAssignment(ctx context.Context, jobID, translatorID int64) error
	ActiveBookings(ctx context.Context, translatorID int64, from, to time.Time) ([]Booking, error)
}

// Ledger applies assignment history rules on top of a Store.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a ledger over store. A nil clock defaults to time.Now.
func New(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

// ActiveAssignment returns the job's active assignment or nil.
func (l *Ledger) ActiveAssignment(ctx context.Context, jobID int64) (*domain.Assignment, error) {
	a, err := l.store.ActiveAssignment(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active assignment: %w", err)
	}
	return a, nil
}

// History returns every assignment row ever recorded for the job.
func (l *Ledger) History(ctx context.Context, jobID int64) ([]domain.Assignment, error) {
	rows, err := l.store.Assignments(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment history: %w", err)
	}
	return rows, nil
}

// Assign creates the active assignment for a job that has none.
func (l *Ledger) Assign(ctx context.Context, jobID, translatorID int64) (*domain.Assignment, error) {
	current, err := l.ActiveAssignment(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, domain.ErrActiveAssignmentExists
	}
	return l.insert(ctx, jobID, translatorID)
}

// Reassign points the job at translatorID. The current active row, if any,
// is cancelled and a new row is appended. Reassigning to the translator who
// already holds the job is a no-op and returns prev == nil.
func (l *Ledger) Reassign(ctx context.Context, jobID, translatorID int64) (next *domain.Assignment, prev *domain.Assignment, err error) {
	current, err := l.ActiveAssignment(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if current != nil && current.TranslatorID == translatorID {
		return current, nil, nil
	}
	if current != nil {
		at := l.now()
		if err := l.store.CancelAssignment(ctx, current.ID, at); err != nil {
			return nil, nil, fmt.Errorf("failed to cancel assignment: %w", err)
		}
		current.CancelAt = &at
	}
	next, err = l.insert(ctx, jobID, translatorID)
	if err != nil {
		return nil, nil, err
	}
	return next, current, nil
}

// CancelActive cancels the job's active assignment and returns it, or nil
// when there was nothing to cancel.
func (l *Ledger) CancelActive(ctx context.Context, jobID int64, at time.Time) (*domain.Assignment, error) {
	current, err := l.ActiveAssignment(ctx, jobID)
	if err != nil || current == nil {
		return nil, err
	}
	if err := l.store.CancelAssignment(ctx, current.ID, at); err != nil {
		return nil, fmt.Errorf("failed to cancel assignment: %w", err)
	}
	current.CancelAt = &at
	return current, nil
}

// Complete marks the job's active assignment completed.
func (l *Ledger) Complete(ctx context.Context, jobID, by int64, at time.Time) (*domain.Assignment, error) {
	current, err := l.ActiveAssignment(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNoActiveAssignment
	}
	if err := l.store.CompleteAssignment(ctx, current.ID, by, at); err != nil {
		return nil, fmt.Errorf("failed to complete assignment: %w", err)
	}
	current.CompletedAt = &at
	current.CompletedBy = &by
	return current, nil
}

// Remove deletes the translator's active row for the job. Used when a
// translator withdraws in time and the job returns to the open pool.
func (l *Ledger) Remove(ctx context.Context, jobID, translatorID int64) error {
	if err := l.store.DeleteAssignment(ctx, jobID, translatorID); err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	return nil
}

// HasOverlap reports whether the translator already holds an active
// assignment, on another job, whose time slot intersects job's.
func (l *Ledger) HasOverlap(ctx context.Context, translatorID int64, job *domain.Job) (bool, error) {
	bookings, err := l.store.ActiveBookings(ctx, translatorID, job.Due, job.End())
	if err != nil {
		return false, fmt.Errorf("failed to load translator bookings: %w", err)
	}
	for _, b := range bookings {
		if b.JobID == job.ID {
			continue
		}
		if domain.Overlaps(b.Due, b.Duration, job.Due, job.Duration) {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) insert(ctx context.Context, jobID, translatorID int64) (*domain.Assignment, error) {
	a := &domain.Assignment{
		JobID:        jobID,
		TranslatorID: translatorID,
		AssignedAt:   l.now(),
	}
	if err := l.store.InsertAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to insert assignment: %w", err)
	}
	return a, nil
}
