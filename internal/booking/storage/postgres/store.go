// Package postgres implements the booking record store and directory on
// PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/internal/booking/ledger"
	"github.com/cuongbtq/booking-dispatch/internal/booking/storage"
	"github.com/cuongbtq/booking-dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const jobColumns = `id, user_id, user_email, from_language_id, immediate, duration, due,
	gender, certified, job_type, customer_phone_type, customer_physical_type, town,
	status, created_at, will_expire_at, end_at, withdraw_at, session_seconds,
	admin_comments, reference, ignore, ignore_expired, email_sent,
	email_sent_to_virpal, updated_at`

const assignmentColumns = `id, job_id, user_id, created_at, completed_at, completed_by, cancel_at`

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store is the PostgreSQL record store
type Store struct {
	pg     *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store instance
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		pg:     pg,
		db:     pg.GetDB(),
		logger: logger,
	}
}

// WithinJob locks the job row with SELECT ... FOR UPDATE and runs fn in the
// same transaction. A second caller on the same job blocks until commit.
func (s *Store) WithinJob(ctx context.Context, jobID int64, fn func(ctx context.Context, tx storage.Tx, job *domain.Job) error) error {
	return s.WithinTx(ctx, func(ctx context.Context, t storage.Tx) error {
		job, err := t.(*tx).lockJob(ctx, jobID)
		if err != nil {
			return err
		}
		return fn(ctx, t, job)
	})
}

// WithinTx runs fn in a transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.pg.WithTx(ctx, func(sqlTx *sqlx.Tx) error {
		return fn(ctx, &tx{assignments: assignments{q: sqlTx}, q: sqlTx})
	})
}

// FindJob retrieves a job by id
func (s *Store) FindJob(ctx context.Context, id int64) (*domain.Job, error) {
	return getJob(ctx, s.db, id, false)
}

// QueryJobs lists jobs matching filter, newest first.
func (s *Store) QueryJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if len(filter.IDs) > 0 {
		query += fmt.Sprintf(" AND id = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.IDs))
		argIdx++
	}

	if filter.CustomerID != 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.CustomerID)
		argIdx++
	}

	if filter.TranslatorID != 0 {
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM translator_job_rel r
			WHERE r.job_id = jobs.id AND r.user_id = $%d
			  AND r.completed_at IS NULL AND r.cancel_at IS NULL)`, argIdx)
		args = append(args, filter.TranslatorID)
		argIdx++
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argIdx)
		args = append(args, pq.Array(statuses))
		argIdx++
	}

	if len(filter.LanguageIDs) > 0 {
		query += fmt.Sprintf(" AND from_language_id = ANY($%d)", argIdx)
		args = append(args, pq.Array(filter.LanguageIDs))
		argIdx++
	}

	if len(filter.JobTypes) > 0 {
		types := make([]string, len(filter.JobTypes))
		for i, t := range filter.JobTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND job_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}

	if filter.ExpiringBefore != nil {
		query += fmt.Sprintf(" AND will_expire_at <= $%d", argIdx)
		args = append(args, *filter.ExpiringBefore)
		argIdx++
	}

	if filter.ExcludeIgnoredExpired {
		query += " AND ignore_expired = FALSE"
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	return jobs, nil
}

// ChangeLog returns the job's change-log entries in insertion order.
func (s *Store) ChangeLog(ctx context.Context, jobID int64) ([]domain.ChangeLogEntry, error) {
	query := `
		SELECT id, job_id, actor_id, field, old_value, new_value, created_at
		FROM job_change_log
		WHERE job_id = $1
		ORDER BY id
	`

	var entries []domain.ChangeLogEntry
	if err := s.db.SelectContext(ctx, &entries, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to load change log: %w", err)
	}
	return entries, nil
}

// LedgerStore returns an auto-commit ledger store.
func (s *Store) LedgerStore() ledger.Store {
	return &assignments{q: s.db}
}

func getJob(ctx context.Context, q querier, id int64, forUpdate bool) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var job domain.Job
	if err := q.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// tx implements storage.Tx over a *sqlx.Tx.
type tx struct {
	assignments
	q *sqlx.Tx
}

func (t *tx) lockJob(ctx context.Context, id int64) (*domain.Job, error) {
	return getJob(ctx, t.q, id, true)
}

func (t *tx) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	return getJob(ctx, t.q, id, false)
}

func (t *tx) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			user_id, user_email, from_language_id, immediate, duration, due,
			gender, certified, job_type, customer_phone_type, customer_physical_type, town,
			status, created_at, will_expire_at, end_at, withdraw_at, session_seconds,
			admin_comments, reference, ignore, ignore_expired, email_sent,
			email_sent_to_virpal, updated_at
		) VALUES (
			:user_id, :user_email, :from_language_id, :immediate, :duration, :due,
			:gender, :certified, :job_type, :customer_phone_type, :customer_physical_type, :town,
			:status, :created_at, :will_expire_at, :end_at, :withdraw_at, :session_seconds,
			:admin_comments, :reference, :ignore, :ignore_expired, :email_sent,
			:email_sent_to_virpal, :updated_at
		)
		RETURNING id
	`

	rows, err := sqlx.NamedQueryContext(ctx, t.q, query, job)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&job.ID); err != nil {
			return fmt.Errorf("failed to scan job id: %w", err)
		}
	}
	return rows.Err()
}

func (t *tx) SaveJob(ctx context.Context, job *domain.Job, changes []domain.ChangeLogEntry) error {
	query := `
		UPDATE jobs SET
			user_email = :user_email,
			from_language_id = :from_language_id,
			immediate = :immediate,
			duration = :duration,
			due = :due,
			gender = :gender,
			certified = :certified,
			job_type = :job_type,
			customer_phone_type = :customer_phone_type,
			customer_physical_type = :customer_physical_type,
			town = :town,
			status = :status,
			created_at = :created_at,
			will_expire_at = :will_expire_at,
			end_at = :end_at,
			withdraw_at = :withdraw_at,
			session_seconds = :session_seconds,
			admin_comments = :admin_comments,
			reference = :reference,
			ignore = :ignore,
			ignore_expired = :ignore_expired,
			email_sent = :email_sent,
			email_sent_to_virpal = :email_sent_to_virpal,
			updated_at = :updated_at
		WHERE id = :id
	`

	res, err := t.q.NamedExecContext(ctx, query, job)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrJobNotFound
	}

	for _, c := range changes {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO job_change_log (job_id, actor_id, field, old_value, new_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, job.ID, c.ActorID, c.Field, c.OldValue, c.NewValue, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to append change log: %w", err)
		}
	}
	return nil
}

// LockTranslator takes a transaction-scoped advisory lock keyed by the
// translator id.
func (t *tx) LockTranslator(ctx context.Context, translatorID int64) error {
	if _, err := t.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, translatorID); err != nil {
		return fmt.Errorf("failed to lock translator: %w", err)
	}
	return nil
}

// assignments implements ledger.Store on translator_job_rel.
type assignments struct {
	q querier
}

func (a *assignments) ActiveAssignment(ctx context.Context, jobID int64) (*domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM translator_job_rel
		WHERE job_id = $1 AND completed_at IS NULL AND cancel_at IS NULL`

	var row domain.Assignment
	if err := a.q.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (a *assignments) Assignments(ctx context.Context, jobID int64) ([]domain.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM translator_job_rel WHERE job_id = $1 ORDER BY id`

	var rows []domain.Assignment
	if err := a.q.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (a *assignments) InsertAssignment(ctx context.Context, row *domain.Assignment) error {
	query := `
		INSERT INTO translator_job_rel (job_id, user_id, created_at, completed_at, completed_by, cancel_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := a.q.QueryRowxContext(ctx, query,
		row.JobID, row.TranslatorID, row.AssignedAt, row.CompletedAt, row.CompletedBy, row.CancelAt,
	).Scan(&row.ID)
	if err != nil {
		if postgresql.IsUniqueViolation(err) {
			return domain.ErrActiveAssignmentExists
		}
		return err
	}
	return nil
}

func (a *assignments) CancelAssignment(ctx context.Context, id int64, at time.Time) error {
	_, err := a.q.ExecContext(ctx, `UPDATE translator_job_rel SET cancel_at = $1 WHERE id = $2`, at, id)
	return err
}

func (a *assignments) CompleteAssignment(ctx context.Context, id int64, by int64, at time.Time) error {
	_, err := a.q.ExecContext(ctx,
		`UPDATE translator_job_rel SET completed_at = $1, completed_by = $2 WHERE id = $3`, at, by, id)
	return err
}

func (a *assignments) DeleteAssignment(ctx context.Context, jobID, translatorID int64) error {
	_, err := a.q.ExecContext(ctx,
		`DELETE FROM translator_job_rel
		 WHERE job_id = $1 AND user_id = $2 AND completed_at IS NULL AND cancel_at IS NULL`, jobID, translatorID)
	return err
}

func (a *assignments) ActiveBookings(ctx context.Context, translatorID int64, from, to time.Time) ([]ledger.Booking, error) {
	query := `
		SELECT r.job_id, j.due, j.duration
		FROM translator_job_rel r
		JOIN jobs j ON j.id = r.job_id
		WHERE r.user_id = $1
		  AND r.completed_at IS NULL
		  AND r.cancel_at IS NULL
		  AND j.due <= $3
		  AND j.due + j.duration * INTERVAL '1 minute' >= $2
	`

	var rows []ledger.Booking
	if err := a.q.SelectContext(ctx, &rows, query, translatorID, from, to); err != nil {
		return nil, err
	}
	return rows, nil
}
