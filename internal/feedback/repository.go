// internal/feedback/repository.go
package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"readhub/internal/apperrors"
)

const feedbackTable = "feedback"

var feedbackColumns = []interface{}{
	"id", "idempotency_key", "subject", "message", "type", "status", "priority",
	"user_name", "user_email", "user_phone", "admin_response", "created_at",
	"updated_at", "updated_by",
}

// insertFeedback is idempotent: replaying a submission that already landed
// is a no-op.
const insertFeedback = `
	INSERT INTO feedback (id, idempotency_key, subject, message, type, status, priority,
		user_name, user_email, user_phone, admin_response, created_at)
	VALUES (:id, :idempotency_key, :subject, :message, :type, :status, :priority,
		:user_name, :user_email, :user_phone, :admin_response, :created_at)
	ON CONFLICT (idempotency_key) DO NOTHING`

// Repository reads and writes the feedback table.
type Repository struct {
	db   *sqlx.DB
	goqu *goqu.Database
}

// NewRepository creates a feedback repository over db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:   db,
		goqu: goqu.New("postgres", db),
	}
}

// Insert stores f unless a row with its idempotency key exists. It reports
// whether a row was written.
func (r *Repository) Insert(ctx context.Context, f *Feedback) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, insertFeedback, f)
	if err != nil {
		return false, fmt.Errorf("failed to insert feedback: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get returns one submission or a not-found error.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Feedback, error) {
	query, args, err := r.goqu.From(feedbackTable).Prepared(true).
		Select(feedbackColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	f := &Feedback{}
	if err := r.db.GetContext(ctx, f, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("feedback with ID %s not found", id))
		}
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return f, nil
}

// List returns submissions matching filter, newest first.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*Feedback, error) {
	ds := r.goqu.From(feedbackTable).Prepared(true).Select(feedbackColumns...)

	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}
	if filter.Type != "" {
		ds = ds.Where(goqu.Ex{"type": filter.Type})
	}
	if filter.Priority != "" {
		ds = ds.Where(goqu.Ex{"priority": filter.Priority})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("subject").ILike(pattern),
			goqu.C("message").ILike(pattern),
			goqu.C("user_name").ILike(pattern),
			goqu.C("user_email").ILike(pattern),
		))
	}

	query, args, err := ds.Order(goqu.I("created_at").Desc()).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	var items []*Feedback
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return items, nil
}

// update writes the given columns plus the audit stamp.
func (r *Repository) update(ctx context.Context, id uuid.UUID, set goqu.Record, actor string, now time.Time) error {
	set["updated_at"] = now
	set["updated_by"] = actor

	query, args, err := r.goqu.Update(feedbackTable).Prepared(true).
		Set(set).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("feedback with ID %s not found", id))
	}
	return nil
}

func (r *Repository) delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := r.goqu.Delete(feedbackTable).Prepared(true).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("feedback with ID %s not found", id))
	}
	return nil
}

type statusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

func (r *Repository) countByStatus(ctx context.Context) ([]statusCount, error) {
	query, args, err := r.goqu.From(feedbackTable).Prepared(true).
		Select(goqu.C("status"), goqu.COUNT("*").As("count")).
		GroupBy("status").
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build stats query", err)
	}

	var counts []statusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}
	return counts, nil
}
