package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/booking-dispatch/internal/booking/domain"
	"github.com/cuongbtq/booking-dispatch/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const userColumns = `id, user_type, name, email, mobile, active, translator_type,
	translator_level, gender, town, consumer_type, customer_type`

// Directory reads users, user_meta, user_languages and users_blacklist.
type Directory struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewDirectory creates a new Directory instance
func NewDirectory(pg *postgresql.Client, logger *slog.Logger) *Directory {
	return &Directory{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// GetUser retrieves a user with their language ids
func (d *Directory) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return d.getUser(ctx, query, id)
}

// FindUserByEmail retrieves a user by case-insensitive email
func (d *Directory) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return d.getUser(ctx, query, email)
}

func (d *Directory) getUser(ctx context.Context, query string, arg interface{}) (*domain.User, error) {
	var user domain.User
	if err := d.db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	err := d.db.SelectContext(ctx, &user.LanguageIDs,
		`SELECT lang_id FROM user_languages WHERE user_id = $1 ORDER BY lang_id`, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user languages: %w", err)
	}
	return &user, nil
}

// GetUserMeta returns "" when the key is not set.
func (d *Directory) GetUserMeta(ctx context.Context, id int64, key string) (string, error) {
	var value string
	err := d.db.GetContext(ctx, &value,
		`SELECT value FROM user_meta WHERE user_id = $1 AND key = $2`, id, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get user meta: %w", err)
	}
	return value, nil
}

func (d *Directory) BlacklistedTranslators(ctx context.Context, customerID int64) ([]int64, error) {
	var ids []int64
	err := d.db.SelectContext(ctx, &ids,
		`SELECT translator_id FROM users_blacklist WHERE user_id = $1 ORDER BY translator_id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blacklist: %w", err)
	}
	return ids, nil
}

// FindTranslators pushes every filter of q into one query. A nil Levels
// slice matches every level; an empty one matches none.
func (d *Directory) FindTranslators(ctx context.Context, q domain.TranslatorQuery) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_type = $1 AND active = TRUE`
	args := []interface{}{domain.RoleTranslator}
	argIdx := 2

	if q.TranslatorType != "" {
		query += fmt.Sprintf(" AND translator_type = $%d", argIdx)
		args = append(args, q.TranslatorType)
		argIdx++
	}

	if q.Levels != nil {
		query += fmt.Sprintf(" AND translator_level = ANY($%d)", argIdx)
		args = append(args, pq.Array(q.Levels))
		argIdx++
	}

	if q.LanguageID != 0 {
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM user_languages l WHERE l.user_id = users.id AND l.lang_id = $%d)", argIdx)
		args = append(args, q.LanguageID)
		argIdx++
	}

	if q.Gender != domain.GenderAny {
		query += fmt.Sprintf(" AND gender = $%d", argIdx)
		args = append(args, q.Gender)
		argIdx++
	}

	if len(q.ExcludeIDs) > 0 {
		query += fmt.Sprintf(" AND NOT (id = ANY($%d))", argIdx)
		args = append(args, pq.Array(q.ExcludeIDs))
	}

	query += " ORDER BY id"

	var users []domain.User
	if err := d.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find translators: %w", err)
	}

	d.logger.Debug("Translator query executed",
		slog.String("translator_type", string(q.TranslatorType)),
		slog.Int64("language_id", q.LanguageID),
		slog.Int("count", len(users)),
	)
	return users, nil
}

func (d *Directory) LanguageName(ctx context.Context, id int64) (string, error) {
	var name string
	if err := d.db.GetContext(ctx, &name, `SELECT language FROM languages WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NewValidationError("from_language_id", "unknown language")
		}
		return "", fmt.Errorf("failed to get language: %w", err)
	}
	return name, nil
}
