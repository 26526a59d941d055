// Package memory is an in-process RecordStore used by tests and by the
// services when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// Store keeps jobs, assignments and change-log entries in maps. A single
// mutex is held for the whole of a transaction, which serializes every job
// as a side effect; a failed transaction restores the pre-transaction state.
type Store struct {
	mu           sync.Mutex
	nextJobID    int64
	nextAssignID int64
	nextLogID    int64
	jobs         map[int64]*domain.Job
	assignments  []domain.Assignment
	changes      []domain.ChangeLogEntry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[int64]*domain.Job),
	}
}

type snapshot struct {
	nextJobID    int64
	nextAssignID int64
	nextLogID    int64
	jobs         map[int64]*domain.Job
	assignments  []domain.Assignment
	changes      []domain.ChangeLogEntry
}

func (s *Store) snapshot() snapshot {
	jobs := make(map[int64]*domain.Job, len(s.jobs))
	for id, j := range s.jobs {
		jobs[id] = j.Clone()
	}
	return snapshot{
		nextJobID:    s.nextJobID,
		nextAssignID: s.nextAssignID,
		nextLogID:    s.nextLogID,
		jobs:         jobs,
		assignments:  append([]domain.Assignment(nil), s.assignments...),
		changes:      append([]domain.ChangeLogEntry(nil), s.changes...),
	}
}

func (s *Store) restore(snap snapshot) {
	s.nextJobID = snap.nextJobID
	s.nextAssignID = snap.nextAssignID
	s.nextLogID = snap.nextLogID
	s.jobs = snap.jobs
	s.assignments = snap.assignments
	s.changes = snap.changes
}

// WithinJob runs fn with the job loaded. The job handed to fn is a copy;
// only SaveJob writes it back.
func (s *Store) WithinJob(ctx context.Context, jobID int64, fn func(ctx context.Context, tx storage.Tx, job *domain.Job) error) error {
	return s.WithinTx(ctx, func(ctx context.Context, t storage.Tx) error {
		job, err := t.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fn(ctx, t, job)
	})
}

// WithinTx runs fn atomically.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// FindJob returns a copy of the job.
func (s *Store) FindJob(ctx context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJob(id)
}

// QueryJobs returns jobs matching filter, newest first.
func (s *Store) QueryJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Job
	for _, j := range s.jobs {
		if s.matches(j, filter) {
			out = append(out, *j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	if filter.PageSize > 0 && len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (s *Store) matches(j *domain.Job, f storage.JobFilter) bool {
	if len(f.IDs) > 0 && !containsInt64(f.IDs, j.ID) {
		return false
	}
	if f.CustomerID != 0 && j.CustomerID != f.CustomerID {
		return false
	}
	if f.TranslatorID != 0 {
		a := s.active(j.ID)
		if a == nil || a.TranslatorID != f.TranslatorID {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if j.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.LanguageIDs) > 0 && !containsInt64(f.LanguageIDs, j.FromLanguageID) {
		return false
	}
	if len(f.JobTypes) > 0 {
		found := false
		for _, t := range f.JobTypes {
			if j.JobType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ExpiringBefore != nil && j.WillExpireAt.After(*f.ExpiringBefore) {
		return false
	}
	if f.ExcludeIgnoredExpired && j.IgnoreExpiredFlag {
		return false
	}
	if f.Cursor != nil {
		if j.CreatedAt.After(f.Cursor.CreatedAt) {
			return false
		}
		if j.CreatedAt.Equal(f.Cursor.CreatedAt) && j.ID >= f.Cursor.JobID {
			return false
		}
	}
	return true
}

// ChangeLog returns the job's change-log entries in insertion order.
func (s *Store) ChangeLog(ctx context.Context, jobID int64) ([]domain.ChangeLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ChangeLogEntry
	for _, c := range s.changes {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out, nil
}

// LedgerStore returns a ledger store whose calls each take the store lock.
func (s *Store) LedgerStore() ledger.Store {
	return &lockedLedger{s: s}
}

func (s *Store) getJob(id int64) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) active(jobID int64) *domain.Assignment {
	for i := range s.assignments {
		a := &s.assignments[i]
		if a.JobID == jobID && a.Active() {
			return a
		}
	}
	return nil
}

func containsInt64(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// tx operates on the store while WithinTx holds the lock.
type tx struct {
	s *Store
}

func (t *tx) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return t.s.getJob(id)
}

func (t *tx) CreateJob(ctx context.Context, job *domain.Job) error {
	t.s.nextJobID++
	job.ID = t.s.nextJobID
	t.s.jobs[job.ID] = job.Clone()
	return nil
}

func (t *tx) SaveJob(ctx context.Context, job *domain.Job, changes []domain.ChangeLogEntry) error {
	if _, ok := t.s.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	t.s.jobs[job.ID] = job.Clone()
	for _, c := range changes {
		t.s.nextLogID++
		c.ID = t.s.nextLogID
		c.JobID = job.ID
		t.s.changes = append(t.s.changes, c)
	}
	return nil
}

// LockTranslator is a no-op: the store lock already serializes everything.
func (t *tx) LockTranslator(ctx context.Context, translatorID int64) error {
	return nil
}

func (t *tx) ActiveAssignment(ctx context.Context, jobID int64) (*domain.Assignment, error) {
	a := t.s.active(jobID)
	if a == nil {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (t *tx) Assignments(ctx context.Context, jobID int64) ([]domain.Assignment, error) {
	var out []domain.Assignment
	for _, a := range t.s.assignments {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) InsertAssignment(ctx context.Context, a *domain.Assignment) error {
	if t.s.active(a.JobID) != nil && a.Active() {
		return domain.ErrActiveAssignmentExists
	}
	t.s.nextAssignID++
	a.ID = t.s.nextAssignID
	t.s.assignments = append(t.s.assignments, *a)
	return nil
}

func (t *tx) CancelAssignment(ctx context.Context, id int64, at time.Time) error {
	for i := range t.s.assignments {
		if t.s.assignments[i].ID == id {
			t.s.assignments[i].CancelAt = &at
			return nil
		}
	}
	return domain.ErrNoActiveAssignment
}

func (t *tx) CompleteAssignment(ctx context.Context, id int64, by int64, at time.Time) error {
	for i := range t.s.assignments {
		if t.s.assignments[i].ID == id {
			t.s.assignments[i].CompletedAt = &at
			t.s.assignments[i].CompletedBy = &by
			return nil
		}
	}
	return domain.ErrNoActiveAssignment
}

func (t *tx) DeleteAssignment(ctx context.Context, jobID, translatorID int64) error {
	kept := t.s.assignments[:0]
	for _, a := range t.s.assignments {
		if a.JobID == jobID && a.TranslatorID == translatorID && a.Active() {
			continue
		}
		kept = append(kept, a)
	}
	t.s.assignments = kept
	return nil
}

func (t *tx) ActiveBookings(ctx context.Context, translatorID int64, from, to time.Time) ([]ledger.Booking, error) {
	var out []ledger.Booking
	for _, a := range t.s.assignments {
		if a.TranslatorID != translatorID || !a.Active() {
			continue
		}
		j, ok := t.s.jobs[a.JobID]
		if !ok || j.Due.After(to) || j.End().Before(from) {
			continue
		}
		out = append(out, ledger.Booking{JobID: j.ID, Due: j.Due, Duration: j.Duration})
	}
	return out, nil
}

// lockedLedger runs each ledger call under the store lock.
type lockedLedger struct {
	s *Store
}

func (l *lockedLedger) with(fn func(t *tx) error) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return fn(&tx{s: l.s})
}

func (l *lockedLedger) ActiveAssignment(ctx context.Context, jobID int64) (a *domain.Assignment, err error) {
	err = l.with(func(t *tx) error {
		a, err = t.ActiveAssignment(ctx, jobID)
		return err
	})
	return a, err
}

func (l *lockedLedger) Assignments(ctx context.Context, jobID int64) (out []domain.Assignment, err error) {
	err = l.with(func(t *tx) error {
		out, err = t.Assignments(ctx, jobID)
		return err
	})
	return out, err
}

func (l *lockedLedger) InsertAssignment(ctx context.Context, a *domain.Assignment) error {
	return l.with(func(t *tx) error { return t.InsertAssignment(ctx, a) })
}

func (l *lockedLedger) CancelAssignment(ctx context.Context, id int64, at time.Time) error {
	return l.with(func(t *tx) error { return t.CancelAssignment(ctx, id, at) })
}

func (l *lockedLedger) CompleteAssignment(ctx context.Context, id int64, by int64, at time.Time) error {
	return l.with(func(t *tx) error { return t.CompleteAssignment(ctx, id, by, at) })
}

func (l *lockedLedger) DeleteAssignment(ctx context.Context, jobID, translatorID int64) error {
	return l.with(func(t *tx) error { return t.DeleteAssignment(ctx, jobID, translatorID) })
}

func (l *lockedLedger) ActiveBookings(ctx context.Context, translatorID int64, from, to time.Time) (out []ledger.Booking, err error) {
	err = l.with(func(t *tx) error {
		out, err = t.ActiveBookings(ctx, translatorID, from, to)
		return err
	})
	return out, err
}
