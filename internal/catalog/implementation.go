// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"readhub/internal/apperrors"
	"readhub/internal/eventstore"
	"readhub/internal/observability"
)

const aggregateType = "book"

const searchLimit = 20

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	repo       *Repository
	index      Index
	now        func() time.Time
}

// NewService creates a new catalog service instance. index may be nil, in
// which case search runs against the database only.
func NewService(es *eventstore.EventStore, repo *Repository, index Index) Service {
	return &service{
		eventStore: es,
		repo:       repo,
		index:      index,
		now:        time.Now,
	}
}

// AddBook creates a new available book and records a BookAdded event.
func (s *service) AddBook(ctx context.Context, in BookInput, actor string) (*Book, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	book := &Book{
		ID:            uuid.New(),
		Title:         in.Title,
		Author:        in.Author,
		ISBN:          in.ISBN,
		Category:      in.Category,
		Availability:  AvailabilityAvailable,
		Condition:     in.Condition,
		Description:   in.Description,
		Location:      in.Location,
		PublishedYear: in.PublishedYear,
		AddedDate:     s.now().UTC(),
		AddedBy:       actor,
		Version:       1,
	}

	event, err := eventstore.NewEvent("BookAdded", BookAddedEvent{
		ID:     book.ID,
		Title:  book.Title,
		Author: book.Author,
		ISBN:   book.ISBN,
	}, actor)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.insert(ctx, tx, book); err != nil {
			return err
		}
		return s.eventStore.AppendEventsTx(ctx, tx, book.ID, aggregateType, 0, []eventstore.Event{event})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add book: %w", err)
	}

	s.reindex(ctx, book)
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	return s.repo.Get(ctx, id)
}

// UpdateBook applies an admin edit. Availability is never changed here.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, in BookInput, actor string) (*Book, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := book.Version

	now := s.now().UTC()
	book.Title = in.Title
	book.Author = in.Author
	book.ISBN = in.ISBN
	book.Category = in.Category
	book.Condition = in.Condition
	book.Description = in.Description
	book.Location = in.Location
	book.PublishedYear = in.PublishedYear
	book.UpdatedDate = &now
	book.UpdatedBy = actor
	book.Version = expected + 1

	event, err := eventstore.NewEvent("BookUpdated", BookUpdatedEvent{ID: id, Input: in}, actor)
	if err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.repo.update(ctx, tx, book, expected); err != nil {
			return err
		}
		return s.eventStore.AppendEventsTx(ctx, tx, id, aggregateType, expected, []eventstore.Event{event})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}

	s.reindex(ctx, book)
	return book, nil
}

// DeleteBook removes a book that is not on loan and has no loan history.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID, actor string) error {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !book.IsAvailable() {
		return apperrors.NewConflictError("a borrowed book cannot be deleted")
	}

	event, err := eventstore.NewEvent("BookRemoved", BookRemovedEvent{ID: id, Title: book.Title}, actor)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.eventStore.AppendEventsTx(ctx, tx, id, aggregateType, book.Version, []eventstore.Event{event}); err != nil {
			return err
		}
		return s.repo.delete(ctx, tx, id)
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperrors.NewConflictError("book has borrowing history and cannot be deleted")
		}
		return fmt.Errorf("failed to delete book: %w", err)
	}

	if s.index != nil {
		if err := s.index.RemoveBook(ctx, id); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("book_id", id.String()).Msg("failed to remove book from search index")
		}
	}
	return nil
}

// ListBooks returns the catalog filtered by search text, availability and category.
func (s *service) ListBooks(ctx context.Context, filter ListFilter) ([]*Book, error) {
	return s.repo.List(ctx, filter)
}

// Search finds books through the search index, falling back to the
// database when the index is unavailable.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	if query == "" {
		return nil, apperrors.NewValidationError("missing search query")
	}

	if s.index != nil {
		ids, err := s.index.SearchIDs(ctx, query, searchLimit)
		if err == nil {
			return s.booksInOrder(ctx, ids)
		}
		observability.LoggerFromContext(ctx).Warn().Err(err).Bool("circuit_open", IsCircuitOpen(err)).Msg("search index unavailable, falling back to database")
	}

	books, err := s.repo.List(ctx, ListFilter{Search: query})
	if err != nil {
		return nil, err
	}
	if len(books) > searchLimit {
		books = books[:searchLimit]
	}
	return books, nil
}

func (s *service) booksInOrder(ctx context.Context, ids []string) ([]*Book, error) {
	books, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Book, len(books))
	for _, b := range books {
		byID[b.ID.String()] = b
	}
	ordered := make([]*Book, 0, len(books))
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			ordered = append(ordered, b)
		}
	}
	return ordered, nil
}

// History returns the audit trail of a book.
func (s *service) History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.eventStore.LoadEvents(ctx, id, 0, 0)
}

// SeedSampleBooks adds the starter collection, skipping ISBNs already on file.
func (s *service) SeedSampleBooks(ctx context.Context, actor string) (int, error) {
	existing, err := s.repo.existingISBNs(ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, in := range sampleBooks {
		if existing[in.ISBN] {
			continue
		}
		if _, err := s.AddBook(ctx, in, actor); err != nil {
			return added, fmt.Errorf("failed to seed %q: %w", in.Title, err)
		}
		added++
	}
	return added, nil
}

func (s *service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.repo.DB().BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return apperrors.NewConflictError("book was modified by someone else, reload and try again")
		}
		return err
	}
	return tx.Commit()
}

func (s *service) reindex(ctx context.Context, b *Book) {
	if s.index == nil {
		return
	}
	if err := s.index.IndexBook(ctx, b); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("book_id", b.ID.String()).Msg("failed to index book")
	}
}
