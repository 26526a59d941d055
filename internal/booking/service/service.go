// Package service runs booking operations as units of work. It resolves the
// acting user, serializes on the job through the record store, and hands the
// resulting events to a Publisher once the transaction has committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/lifecycle"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
)

// Paging limits for ListJobs.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// DefaultExpiryBatch is how many jobs one ExpireDue call looks at.
const DefaultExpiryBatch = 200

// Publisher delivers committed events to the notification side.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []domain.Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, events []domain.Event) error {
	return f(ctx, events)
}

// JobDetails is a job with its assignment history and audit trail.
type JobDetails struct {
	Job         *domain.Job
	Active      *domain.Assignment
	Assignments []domain.Assignment
	Changes     []domain.ChangeLogEntry
}

// Page is one page of ListJobs.
type Page struct {
	Jobs []domain.Job
	Next *storage.JobCursor
}

// Service is the booking unit-of-work runner.
type Service struct {
	store       storage.RecordStore
	directory   storage.Directory
	machine     *lifecycle.Machine
	publisher   Publisher
	expiryBatch int
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithExpiryBatch caps the number of jobs ExpireDue handles per call.
func WithExpiryBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.expiryBatch = n
		}
	}
}

// WithClock overrides the clock used to select expired jobs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new booking service.
func New(store storage.RecordStore, directory storage.Directory, machine *lifecycle.Machine, publisher Publisher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		directory:   directory,
		machine:     machine,
		publisher:   publisher,
		expiryBatch: DefaultExpiryBatch,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type jobOp func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error)

// runJob executes op under the job's lock and publishes its events after
// commit. A publish failure is logged and never undoes the transition.
func (s *Service) runJob(ctx context.Context, jobID int64, op jobOp) (*lifecycle.Result, error) {
	var res *lifecycle.Result
	err := s.store.WithinJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) error {
		var err error
		res, err = op(ctx, tx, job)
		return err
	})
	if err != nil {
		s.logRejection(jobID, err)
		return nil, err
	}
	s.publish(ctx, res)
	return res, nil
}

func (s *Service) publish(ctx context.Context, res *lifecycle.Result) {
	if res == nil || len(res.Events) == 0 || s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), res.Events); err != nil {
		s.logger.Error("Failed to publish booking events",
			slog.Int64("job_id", res.Job.ID),
			slog.Int("events", len(res.Events)),
			slog.Any("error", err),
		)
	}
}

func (s *Service) logRejection(jobID int64, err error) {
	switch {
	case domain.IsBusinessRejection(err), errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrJobNotFound):
		s.logger.Info("Booking operation rejected",
			slog.Int64("job_id", jobID),
			slog.String("reason", err.Error()),
		)
	case domain.IsDataIntegrity(err):
		s.logger.Error("Booking data integrity fault",
			slog.Int64("job_id", jobID),
			slog.Any("error", err),
		)
	default:
		s.logger.Error("Booking operation failed",
			slog.Int64("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// user resolves the acting user. Unknown users are a validation failure.
func (s *Service) user(ctx context.Context, id int64) (*domain.User, error) {
	if id == 0 {
		return nil, domain.NewValidationError("user", "acting user required")
	}
	u, err := s.directory.GetUser(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.NewValidationError("user", fmt.Sprintf("unknown user %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}
	return u, nil
}

// Create books a new job for the acting customer.
func (s *Service) Create(ctx context.Context, actorID int64, req lifecycle.CreateRequest) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var res *lifecycle.Result
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = s.machine.Create(ctx, tx, actor, req)
		return err
	})
	if err != nil {
		s.logRejection(0, err)
		return nil, err
	}

	s.logger.Info("Job created",
		slog.Int64("job_id", res.Job.ID),
		slog.Int64("customer_id", actor.ID),
		slog.Bool("immediate", res.Job.Immediate),
	)
	s.publish(ctx, res)
	return res.Job, nil
}

// Accept assigns the job to the acting translator.
func (s *Service) Accept(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.Accept(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// Cancel withdraws the job as its customer, or hands it back to the pool
// when the acting user is a translator.
func (s *Service) Cancel(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		if actor.IsTranslator() {
			return s.machine.CancelByTranslator(ctx, tx, job, actor)
		}
		return s.machine.CancelByCustomer(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// EndSession closes a running session.
func (s *Service) EndSession(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.EndSession(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// CustomerNotCall records a customer no-show.
func (s *Service) CustomerNotCall(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.CustomerNotCall(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// Update applies an admin edit.
func (s *Service) Update(ctx context.Context, actorID, jobID int64, req lifecycle.UpdateRequest) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.Update(ctx, tx, job, actor, req)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// Reopen offers the job again. For a timed-out job the returned job is the
// newly created copy.
func (s *Service) Reopen(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.Reopen(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	if res.Created != nil {
		s.logger.Info("Timed-out job reopened as a new job",
			slog.Int64("job_id", jobID),
			slog.Int64("new_job_id", res.Created.ID),
		)
		return res.Created, nil
	}
	return res.Job, nil
}

// IgnoreExpiring sets the job's ignore flag.
func (s *Service) IgnoreExpiring(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.IgnoreExpiring(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// IgnoreExpired keeps the job out of the expiry sweep.
func (s *Service) IgnoreExpired(ctx context.Context, actorID, jobID int64) (*domain.Job, error) {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return nil, err
	}
	res, err := s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.IgnoreExpired(ctx, tx, job, actor)
	})
	if err != nil {
		return nil, err
	}
	return res.Job, nil
}

// SMSBroadcast asks the dispatcher to text eligible translators.
func (s *Service) SMSBroadcast(ctx context.Context, actorID, jobID int64) error {
	actor, err := s.user(ctx, actorID)
	if err != nil {
		return err
	}
	_, err = s.runJob(ctx, jobID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
		return s.machine.SMSBroadcast(ctx, tx, job, actor)
	})
	return err
}

// GetJob returns the job with its assignments and change log.
func (s *Service) GetJob(ctx context.Context, jobID int64) (*JobDetails, error) {
	job, err := s.store.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.LedgerStore().Assignments(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	changes, err := s.store.ChangeLog(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load change log: %w", err)
	}

	details := &JobDetails{Job: job, Assignments: assignments, Changes: changes}
	for i := range assignments {
		if assignments[i].Active() {
			details.Active = &assignments[i]
		}
	}
	return details, nil
}

// ListJobs returns one page of jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, filter storage.JobFilter) (*Page, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}

	jobs, err := s.store.QueryJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		last := page.Jobs[len(page.Jobs)-1]
		page.Next = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
	return page, nil
}

// ExpireDue times out pending jobs whose offer window has passed and
// returns how many it expired. A job that fails to expire is logged and
// skipped so one bad row cannot stall the sweep.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	jobs, err := s.store.QueryJobs(ctx, storage.JobFilter{
		Statuses:              []domain.Status{domain.StatusPending},
		ExpiringBefore:        &now,
		ExcludeIgnoredExpired: true,
		PageSize:              s.expiryBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query expiring jobs: %w", err)
	}

	expired := 0
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		res, err := s.runJob(ctx, j.ID, func(ctx context.Context, tx storage.Tx, job *domain.Job) (*lifecycle.Result, error) {
			return s.machine.Expire(ctx, tx, job)
		})
		if err != nil {
			continue
		}
		if res != nil {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info("Expired pending jobs",
			slog.Int("count", expired),
			slog.Int("candidates", len(jobs)),
		)
	}
	return expired, nil
}
