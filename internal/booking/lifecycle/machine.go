// Package lifecycle applies status transitions to jobs. Every operation runs
// inside a storage transaction that already holds the job's lock, writes the
// job together with its change-log entries, and returns the events the
// notification dispatcher should act on once the transaction commits.
package lifecycle

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// Default values for Config.
const (
	DefaultImmediateLeadTime  = 5 * time.Minute
	DefaultImmediateDuration  = time.Hour
	DefaultCancellationWindow = 24 * time.Hour
)

// Directory resolves translators named in admin updates.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Config holds the booking rules that are tunable.
type Config struct {
	ImmediateLeadTime time.Duration
	// ImmediateDuration is the slot reserved for an immediate booking that
	// does not state its own duration.
	ImmediateDuration  time.Duration
	CancellationWindow time.Duration
}

// Result is the outcome of one operation.
type Result struct {
	// Job is the job the operation was applied to, as persisted.
	Job *domain.Job
	// Created is set when the operation inserted another job (reopening a
	// timed-out booking).
	Created *domain.Job
	Changes []domain.ChangeLogEntry
	Events  []domain.Event
}

// Machine is the booking state machine.
type Machine struct {
	directory   Directory
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
	transitions map[transitionKey]transitionHandler
}

// NewMachine creates a new state machine. A nil clock defaults to time.Now.
func NewMachine(directory Directory, cfg Config, now func() time.Time, logger *slog.Logger) *Machine {
	if cfg.ImmediateLeadTime <= 0 {
		cfg.ImmediateLeadTime = DefaultImmediateLeadTime
	}
	if cfg.ImmediateDuration <= 0 {
		cfg.ImmediateDuration = DefaultImmediateDuration
	}
	if cfg.CancellationWindow <= 0 {
		cfg.CancellationWindow = DefaultCancellationWindow
	}
	if now == nil {
		now = time.Now
	}
	m := &Machine{
		directory: directory,
		cfg:       cfg,
		now:       now,
		logger:    logger,
	}
	m.transitions = m.transitionTable()
	return m
}

// op accumulates the writes and notifications of one operation. Events are
// drafted while the job is still changing and snapshotted in finish.
type op struct {
	ctx     context.Context
	tx      storage.Tx
	ledger  *ledger.Ledger
	job     *domain.Job
	actor   *domain.User
	now     time.Time
	changes []domain.ChangeLogEntry
	drafts  []draft
}

type draft struct {
	kind domain.EventKind
	job  *domain.Job
	fill func(ev *domain.Event)
}

func (m *Machine) begin(ctx context.Context, tx storage.Tx, job *domain.Job, actor *domain.User) *op {
	now := m.now()
	return &op{
		ctx:    ctx,
		tx:     tx,
		ledger: ledger.New(tx, func() time.Time { return now }),
		job:    job,
		actor:  actor,
		now:    now,
	}
}

func (o *op) actorID() int64 {
	if o.actor == nil {
		return 0
	}
	return o.actor.ID
}

func (o *op) record(field, oldValue, newValue string) {
	o.changes = append(o.changes, domain.ChangeLogEntry{
		JobID:     o.job.ID,
		ActorID:   o.actorID(),
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		CreatedAt: o.now,
	})
}

func (o *op) setStatus(to domain.Status) {
	if o.job.Status == to {
		return
	}
	o.record(domain.FieldStatus, string(o.job.Status), string(to))
	o.job.Status = to
}

func (o *op) recordTranslator(oldID, newID int64) {
	o.record(domain.FieldTranslator, idString(oldID), idString(newID))
}

func (o *op) emit(kind domain.EventKind, fill func(ev *domain.Event)) {
	o.emitFor(kind, o.job, fill)
}

func (o *op) emitFor(kind domain.EventKind, job *domain.Job, fill func(ev *domain.Event)) {
	o.drafts = append(o.drafts, draft{kind: kind, job: job, fill: fill})
}

// finish persists the job with its change log and snapshots the events.
func (o *op) finish() (*Result, error) {
	o.job.UpdatedAt = o.now
	if err := o.tx.SaveJob(o.ctx, o.job, o.changes); err != nil {
		return nil, err
	}
	res := &Result{Job: o.job, Changes: o.changes}
	for _, d := range o.drafts {
		ev := domain.NewEvent(d.kind, d.job, o.now)
		ev.ActorID = o.actorID()
		if d.fill != nil {
			d.fill(&ev)
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func idString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func requireAdmin(actor *domain.User) error {
	if actor == nil || !actor.IsAdmin() {
		return domain.NewValidationError("user", "admin role required")
	}
	return nil
}

func requireTranslator(actor *domain.User) error {
	if actor == nil || !actor.IsTranslator() {
		return domain.NewValidationError("user", "translator role required")
	}
	return nil
}
