package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/booking-dispatch/internal/notification"
	"github.com/cuongbtq/booking-dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// DefaultStaleAfter is how long a "sending" reservation blocks other senders
// before it is treated as abandoned.
const DefaultStaleAfter = 10 * time.Minute

// PostgresLog stores reservations in notification_deliveries.
type PostgresLog struct {
	db         *sqlx.DB
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewPostgresLog creates a new PostgresLog instance
func NewPostgresLog(pg *postgresql.Client, staleAfter time.Duration, logger *slog.Logger) *PostgresLog {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &PostgresLog{
		db:         pg.GetDB(),
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Reserve inserts the key, or takes over a failed or abandoned row. A key
// that is sent or freshly sending yields no row and so no reservation.
func (l *PostgresLog) Reserve(ctx context.Context, key string) (bool, error) {
	query := `
		INSERT INTO notification_deliveries (message_key, status, attempts, created_at, updated_at)
		VALUES ($1, $2, 1, NOW(), NOW())
		ON CONFLICT (message_key) DO UPDATE
		SET status = EXCLUDED.status,
			attempts = notification_deliveries.attempts + 1,
			updated_at = NOW()
		WHERE notification_deliveries.status = $3
			OR (notification_deliveries.status = $2 AND notification_deliveries.updated_at < $4)
		RETURNING message_key`

	var reserved string
	err := l.db.GetContext(ctx, &reserved, query,
		key, statusSending, statusFailed, time.Now().Add(-l.staleAfter))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		l.logger.Error("Failed to reserve message key",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return false, fmt.Errorf("failed to reserve message key: %w", err)
	}
	return true, nil
}

func (l *PostgresLog) MarkSent(ctx context.Context, key string) error {
	return l.mark(ctx, key, statusSent, "")
}

func (l *PostgresLog) MarkFailed(ctx context.Context, key, reason string) error {
	return l.mark(ctx, key, statusFailed, reason)
}

func (l *PostgresLog) mark(ctx context.Context, key, status, reason string) error {
	query := `
		UPDATE notification_deliveries
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE message_key = $1`

	if _, err := l.db.ExecContext(ctx, query, key, status, reason); err != nil {
		l.logger.Error("Failed to update delivery status",
			slog.String("key", key),
			slog.String("status", status),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return nil
}

// PostgresQueue stores deferred messages in delayed_notifications.
type PostgresQueue struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresQueue creates a new PostgresQueue instance
func NewPostgresQueue(pg *postgresql.Client, logger *slog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:     pg.GetDB(),
		logger: logger,
	}
}

func (q *PostgresQueue) Schedule(ctx context.Context, msg notification.Message) error {
	if msg.DeliverAfter == nil {
		return fmt.Errorf("message %s has no deliver_after", msg.Key)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	query := `
		INSERT INTO delayed_notifications (id, payload, deliver_after, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING`

	if _, err := q.db.ExecContext(ctx, query, msg.Key, string(payload), *msg.DeliverAfter); err != nil {
		q.logger.Error("Failed to schedule message",
			slog.String("key", msg.Key),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to schedule message: %w", err)
	}
	return nil
}

// Claim pushes deliver_after of the due rows forward by lease in a single
// statement. SKIP LOCKED lets concurrent workers claim disjoint rows.
func (q *PostgresQueue) Claim(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]notification.Message, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM delayed_notifications
			WHERE deliver_after <= $1
			ORDER BY deliver_after ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) UPDATE delayed_notifications
		SET deliver_after = $3
		FROM due
		WHERE delayed_notifications.id = due.id
		RETURNING delayed_notifications.payload`

	var payloads [][]byte
	if err := q.db.SelectContext(ctx, &payloads, query, now, limit, now.Add(lease)); err != nil {
		q.logger.Error("Failed to claim delayed messages",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to claim delayed messages: %w", err)
	}

	msgs := make([]notification.Message, 0, len(payloads))
	for _, payload := range payloads {
		var msg notification.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delayed message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (q *PostgresQueue) Remove(ctx context.Context, key string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM delayed_notifications WHERE id = $1`, key); err != nil {
		return fmt.Errorf("failed to remove delayed message: %w", err)
	}
	return nil
}
