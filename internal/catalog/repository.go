// internal/catalog/repository.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"readhub/internal/apperrors"
)

const booksTable = "books"

var bookColumns = []interface{}{
	"id", "title", "author", "isbn", "category", "availability", "condition",
	"description", "location", "published_year", "added_date", "added_by",
	"updated_date", "updated_by", "version",
}

// Repository reads and writes the books table.
type Repository struct {
	db   *sqlx.DB
	goqu *goqu.Database
}

// NewRepository creates a books repository over db.
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

func (r *Repository) insert(ctx context.Context, tx *sqlx.Tx, b *Book) error {
	query, args, err := r.goqu.Insert(booksTable).Prepared(true).Rows(goqu.Record{
		"id":             b.ID,
		"title":          b.Title,
		"author":         b.Author,
		"isbn":           b.ISBN,
		"category":       b.Category,
		"availability":   b.Availability,
		"condition":      b.Condition,
		"description":    b.Description,
		"location":       b.Location,
		"published_year": b.PublishedYear,
		"added_date":     b.AddedDate,
		"added_by":       b.AddedBy,
		"version":        b.Version,
	}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// Get returns one book or a not-found error.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Book, error) {
	query, args, err := r.goqu.From(booksTable).Prepared(true).
		Select(bookColumns...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	book := &Book{}
	if err := r.db.GetContext(ctx, book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("book with ID %s not found", id))
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// GetByIDs returns the books whose ids appear in ids, in no particular order.
// Unknown ids are skipped.
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]*Book, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := r.goqu.From(booksTable).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C("id").In(ids)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var books []*Book
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load books: %w", err)
	}
	return books, nil
}

// List returns books matching filter ordered by title.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Book, error) {
	ds := r.goqu.From(booksTable).Prepared(true).Select(bookColumns...)

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
			goqu.C("isbn").ILike(pattern),
		))
	}
	if filter.Availability != "" {
		ds = ds.Where(goqu.Ex{"availability": filter.Availability})
	}
	if filter.Category != "" {
		ds = ds.Where(goqu.Ex{"category": filter.Category})
	}
	ds = ds.Order(goqu.I("title").Asc())

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	var books []*Book
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// update writes b only if the stored row is still at expectedVersion.
// b.UpdatedDate must be set.
func (r *Repository) update(ctx context.Context, tx *sqlx.Tx, b *Book, expectedVersion int) error {
	query, args, err := r.goqu.Update(booksTable).Prepared(true).
		Set(goqu.Record{
			"title":          b.Title,
			"author":         b.Author,
			"isbn":           b.ISBN,
			"category":       b.Category,
			"condition":      b.Condition,
			"description":    b.Description,
			"location":       b.Location,
			"published_year": b.PublishedYear,
			"updated_date":   *b.UpdatedDate,
			"updated_by":     b.UpdatedBy,
			"version":        b.Version,
		}).
		Where(goqu.Ex{"id": b.ID, "version": expectedVersion}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("book was modified by someone else, reload and try again")
	}
	return nil
}

func (r *Repository) delete(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	query, args, err := r.goqu.Delete(booksTable).Prepared(true).
		Where(goqu.Ex{"id": id, "availability": AvailabilityAvailable}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("a borrowed book cannot be deleted")
	}
	return nil
}

func (r *Repository) existingISBNs(ctx context.Context) (map[string]bool, error) {
	var isbns []string
	if err := r.db.SelectContext(ctx, &isbns, `SELECT isbn FROM books WHERE isbn <> ''`); err != nil {
		return nil, fmt.Errorf("failed to list isbns: %w", err)
	}
	seen := make(map[string]bool, len(isbns))
	for _, isbn := range isbns {
		seen[isbn] = true
	}
	return seen, nil
}
