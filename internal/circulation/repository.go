// internal/circulation/repository.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"readhub/internal/apperrors"
)

const recordsTable = "borrowed_books"

var recordColumns = []interface{}{
	"id", "book_id", "borrower_id", "borrower_name", "borrower_email",
	"book_title", "book_author", "book_isbn", "borrow_date", "due_date",
	"return_date", "status", "renewals", "version", "created_at",
}

// lockedBook is the slice of a book row the borrow and return transactions
// need.
type lockedBook struct {
	ID           uuid.UUID `db:"id"`
	Title        string    `db:"title"`
	Author       string    `db:"author"`
	ISBN         string    `db:"isbn"`
	Availability string    `db:"availability"`
	Version      int       `db:"version"`
}

type borrower struct {
	FullName string `db:"full_name"`
	Email    string `db:"email"`
	Status   string `db:"status"`
}

// Repository reads and writes borrowed_books and the availability column of
// books.
type Repository struct {
	db   *sqlx.DB
	goqu *goqu.Database
}

// NewRepository creates a borrow-record repository over db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:   db,
		goqu: goqu.New("postgres", db),
	}
}

// DB exposes the underlying handle for callers that open transactions.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

// List returns records matching where, newest first. A nil where returns
// the whole collection.
func (r *Repository) List(ctx context.Context, where goqu.Ex) ([]*BorrowRecord, error) {
	ds := r.goqu.From(recordsTable).Prepared(true).Select(recordColumns...)
	if where != nil {
		ds = ds.Where(where)
	}
	query, args, err := ds.Order(goqu.I("borrow_date").Desc(), goqu.I("created_at").Desc()).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	var records []*BorrowRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list borrow records: %w", err)
	}
	return records, nil
}

func (r *Repository) lockBook(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*lockedBook, error) {
	query, args, err := r.goqu.From("books").Prepared(true).
		Select("id", "title", "author", "isbn", "availability", "version").
		Where(goqu.Ex{"id": id}).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	b := &lockedBook{}
	if err := tx.GetContext(ctx, b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("book with ID %s not found", id))
		}
		return nil, fmt.Errorf("failed to lock book: %w", err)
	}
	return b, nil
}

func (r *Repository) lockRecord(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*BorrowRecord, error) {
	query, args, err := r.goqu.From(recordsTable).Prepared(true).
		Select(recordColumns...).
		Where(goqu.Ex{"id": id}).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	rec := &BorrowRecord{}
	if err := tx.GetContext(ctx, rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("borrow record with ID %s not found", id))
		}
		return nil, fmt.Errorf("failed to lock borrow record: %w", err)
	}
	return rec, nil
}

func (r *Repository) getBorrower(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*borrower, error) {
	query, args, err := r.goqu.From("users").Prepared(true).
		Select("full_name", "email", "status").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	b := &borrower{}
	if err := tx.GetContext(ctx, b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("user with ID %s not found", id))
		}
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}
	return b, nil
}

func (r *Repository) countActive(ctx context.Context, tx *sqlx.Tx, where goqu.Ex) (int, error) {
	where["status"] = StatusActive
	query, args, err := r.goqu.From(recordsTable).Prepared(true).
		Select(goqu.COUNT("*")).
		Where(where).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build count query", err)
	}

	var n int
	if err := tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count active records: %w", err)
	}
	return n, nil
}

func (r *Repository) insertRecord(ctx context.Context, tx *sqlx.Tx, rec *BorrowRecord) error {
	query, args, err := r.goqu.Insert(recordsTable).Prepared(true).Rows(goqu.Record{
		"id":             rec.ID,
		"book_id":        rec.BookID,
		"borrower_id":    rec.BorrowerID,
		"borrower_name":  rec.BorrowerName,
		"borrower_email": rec.BorrowerEmail,
		"book_title":     rec.BookTitle,
		"book_author":    rec.BookAuthor,
		"book_isbn":      rec.BookISBN,
		"borrow_date":    rec.BorrowDate,
		"due_date":       rec.DueDate,
		"status":         rec.Status,
		"renewals":       rec.Renewals,
		"version":        rec.Version,
		"created_at":     rec.CreatedAt,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert borrow record: %w", err)
	}
	return nil
}

// markReturned closes an active record. It fails with a conflict if the
// record is no longer active.
func (r *Repository) markReturned(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, returnDate time.Time) error {
	query, args, err := r.goqu.Update(recordsTable).Prepared(true).
		Set(goqu.Record{
			"status":      StatusReturned,
			"return_date": returnDate,
			"version":     goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": id, "status": StatusActive}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to return borrow record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("record already returned")
	}
	return nil
}

func (r *Repository) extendDue(ctx context.Context, tx *sqlx.Tx, rec *BorrowRecord) error {
	query, args, err := r.goqu.Update(recordsTable).Prepared(true).
		Set(goqu.Record{
			"due_date": rec.DueDate,
			"renewals": rec.Renewals,
			"version":  goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": rec.ID, "status": StatusActive}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to extend borrow record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("record already returned")
	}
	return nil
}

// setAvailability flips a book from one availability to the other and bumps
// its version. It fails with ErrBookUnavailable if the book was not in the
// from state.
func (r *Repository) setAvailability(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to string) error {
	query, args, err := r.goqu.Update("books").Prepared(true).
		Set(goqu.Record{
			"availability": to,
			"version":      goqu.L("version + 1"),
		}).
		Where(goqu.Ex{"id": id, "availability": from}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book availability: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookUnavailable
	}
	return nil
}

// bumpBookVersion records a change to the book's history that leaves
// availability untouched.
func (r *Repository) bumpBookVersion(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query, args, err := r.goqu.Update("books").Prepared(true).
		Set(goqu.Record{"version": goqu.L("version + 1")}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update book version: %w", err)
	}
	return nil
}
