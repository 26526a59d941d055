// Package storage declares the record store contract the booking core runs
// against. Implementations live in the postgres and memory subpackages.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
)

// Tx is a unit of work. Everything written through a Tx commits or rolls
// back together.
type Tx interface {
	ledger.Store

	// GetJob reads a job inside the transaction.
	GetJob(ctx context.Context, id int64) (*domain.Job, error)

	// CreateJob inserts a job and sets its ID.
	CreateJob(ctx context.Context, job *domain.Job) error

	// SaveJob persists job and appends changes in the same transaction.
	SaveJob(ctx context.Context, job *domain.Job, changes []domain.ChangeLogEntry) error

	// LockTranslator serializes bookings for one translator until the
	// transaction ends, so two jobs cannot both pass an overlap check.
	LockTranslator(ctx context.Context, translatorID int64) error
}

// RecordStore is the transactional job store.
type RecordStore interface {
	// WithinJob runs fn in a transaction that holds an exclusive lock on the
	// job row. Concurrent calls for the same job run one after another.
	WithinJob(ctx context.Context, jobID int64, fn func(ctx context.Context, tx Tx, job *domain.Job) error) error

	// WithinTx runs fn in a transaction without locking a job.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindJob(ctx context.Context, id int64) (*domain.Job, error)
	QueryJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error)
	ChangeLog(ctx context.Context, jobID int64) ([]domain.ChangeLogEntry, error)

	// LedgerStore returns a ledger store that runs each call on its own.
	LedgerStore() ledger.Store
}

// Directory resolves users, their metadata and blacklist relations.
// Filtering is done by the implementation, never by loading every user.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserMeta(ctx context.Context, id int64, key string) (string, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	BlacklistedTranslators(ctx context.Context, customerID int64) ([]int64, error)
	FindTranslators(ctx context.Context, q domain.TranslatorQuery) ([]domain.User, error)
	LanguageName(ctx context.Context, id int64) (string, error)
}

// JobFilter is the predicate for QueryJobs. Zero values do not filter.
// When PageSize is set QueryJobs returns up to PageSize+1 rows so the caller
// can tell whether another page exists.
type JobFilter struct {
	IDs                   []int64
	CustomerID            int64
	TranslatorID          int64
	Statuses              []domain.Status
	LanguageIDs           []int64
	JobTypes              []domain.JobType
	ExpiringBefore        *time.Time
	ExcludeIgnoredExpired bool
	PageSize              int
	Cursor                *JobCursor
}

// JobCursor marks the last row of a page, ordered by created_at, id descending.
type JobCursor struct {
	CreatedAt time.Time
	JobID     int64
}
