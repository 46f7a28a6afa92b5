// internal/circulation/implementation.go
package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"

	"readhub/internal/apperrors"
	"readhub/internal/catalog"
	"readhub/internal/config"
	"readhub/internal/eventstore"
	"readhub/internal/membership"
	"readhub/internal/observability"
	"readhub/internal/store"
)

// bookAggregate is the event stream circulation appends to; a book's history
// shows its loans next to its catalog edits.
const bookAggregate = "book"

// dueSoonDays is the window in which an active loan counts as due soon.
const dueSoonDays = 3

// ErrBookUnavailable is returned when a book is already on loan.
var ErrBookUnavailable = apperrors.NewConflictError("book is not available")

var (
	errAlreadyBorrowed = apperrors.NewConflictError("you have already borrowed this book")
	errLimitReached    = apperrors.NewConflictError("borrow limit reached")
	errRenewalLimit    = apperrors.NewConflictError("renewal limit reached")
	errInactiveReader  = apperrors.NewForbiddenError("account is not active")
	errLostRace        = apperrors.NewConflictError("loan was changed by someone else, reload and try again")
)

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	repo       *Repository
	enricher   *Enricher
	rules      config.BorrowingConfig
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewService creates a new circulation service instance.
func NewService(es *eventstore.EventStore, repo *Repository, enricher *Enricher, rules config.BorrowingConfig, metrics *observability.Metrics) Service {
	if metrics == nil {
		metrics = &observability.Metrics{}
	}
	return &service{
		eventStore: es,
		repo:       repo,
		enricher:   enricher,
		rules:      rules,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Borrow lends a book to the signed-in user. The eligibility checks, the new
// record, the availability flip and the history event commit together.
func (s *service) Borrow(ctx context.Context, bookID uuid.UUID, by *membership.Session) (*BorrowRecord, error) {
	today := dateOf(s.now())
	var rec *BorrowRecord

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		book, err := s.repo.lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}

		dup, err := s.repo.countActive(ctx, tx, goqu.Ex{"borrower_id": by.UserID, "book_id": bookID})
		if err != nil {
			return err
		}
		if dup > 0 {
			return errAlreadyBorrowed
		}
		if book.Availability != catalog.AvailabilityAvailable {
			return ErrBookUnavailable
		}
		active, err := s.repo.countActive(ctx, tx, goqu.Ex{"borrower_id": by.UserID})
		if err != nil {
			return err
		}
		if active >= s.rules.MaxBooksPerUser {
			return errLimitReached
		}

		who, err := s.repo.getBorrower(ctx, tx, by.UserID)
		if err != nil {
			return err
		}
		if who.Status != membership.StatusActive {
			return errInactiveReader
		}

		rec = &BorrowRecord{
			ID:            uuid.New(),
			BookID:        book.ID,
			BorrowerID:    by.UserID,
			BorrowerName:  who.FullName,
			BorrowerEmail: who.Email,
			BookTitle:     book.Title,
			BookAuthor:    book.Author,
			BookISBN:      book.ISBN,
			BorrowDate:    today,
			DueDate:       today.AddDate(0, 0, s.rules.DefaultPeriodDays),
			Status:        StatusActive,
			Version:       1,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.repo.insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.repo.setAvailability(ctx, tx, book.ID, catalog.AvailabilityAvailable, catalog.AvailabilityBorrowed); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, book.ID, book.Version, "BookBorrowed", BookBorrowedEvent{
			RecordID:   rec.ID,
			BookID:     book.ID,
			BorrowerID: by.UserID,
			DueDate:    rec.DueDate,
		}, by.UserID.String())
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrorTypeConflict) {
			observability.Add(ctx, s.metrics.BorrowRejected, 1, attribute.String("reason", err.Error()))
		}
		return nil, err
	}

	observability.Add(ctx, s.metrics.Borrows, 1)
	observability.LoggerFromContext(ctx).Info().
		Str("record_id", rec.ID.String()).
		Str("book_id", bookID.String()).
		Str("borrower_id", by.UserID.String()).
		Msg("book borrowed")
	return rec, nil
}

// Return closes an active loan and puts the book back on the shelf. Readers
// may only return their own loans; admins may return any.
func (s *service) Return(ctx context.Context, recordID uuid.UUID, by *membership.Session) (*BorrowRecord, error) {
	today := dateOf(s.now())
	var rec *BorrowRecord

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		rec, err = s.repo.lockRecord(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if !by.IsAdmin() && rec.BorrowerID != by.UserID {
			return apperrors.NewForbiddenError("you can only return your own books")
		}
		if !rec.IsActive() {
			return apperrors.NewConflictError("record already returned")
		}

		book, err := s.repo.lockBook(ctx, tx, rec.BookID)
		if err != nil {
			return err
		}
		if err := s.repo.markReturned(ctx, tx, rec.ID, today); err != nil {
			return err
		}
		if err := s.repo.setAvailability(ctx, tx, book.ID, catalog.AvailabilityBorrowed, catalog.AvailabilityAvailable); err != nil {
			if errors.Is(err, ErrBookUnavailable) {
				return apperrors.NewConflictError("book is not marked as borrowed")
			}
			return err
		}
		return s.appendEvent(ctx, tx, book.ID, book.Version, "BookReturned", BookReturnedEvent{
			RecordID:   rec.ID,
			BookID:     book.ID,
			BorrowerID: rec.BorrowerID,
			ReturnDate: today,
		}, by.UserID.String())
	})
	if err != nil {
		return nil, err
	}

	rec.Status = StatusReturned
	rec.ReturnDate = &today
	rec.Version++

	observability.Add(ctx, s.metrics.Returns, 1)
	observability.LoggerFromContext(ctx).Info().
		Str("record_id", rec.ID.String()).
		Str("book_id", rec.BookID.String()).
		Msg("book returned")
	return rec, nil
}

// Extend pushes an active loan's due date out by the configured number of
// days, up to the renewal limit.
func (s *service) Extend(ctx context.Context, recordID uuid.UUID, actor string) (*BorrowRecord, error) {
	var rec *BorrowRecord

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		rec, err = s.repo.lockRecord(ctx, tx, recordID)
		if err != nil {
			return err
		}
		if !rec.IsActive() {
			return apperrors.NewConflictError("record already returned")
		}
		if rec.Renewals >= s.rules.MaxRenewals {
			return errRenewalLimit
		}

		book, err := s.repo.lockBook(ctx, tx, rec.BookID)
		if err != nil {
			return err
		}

		rec.DueDate = rec.DueDate.AddDate(0, 0, s.rules.ExtensionDays)
		rec.Renewals++
		if err := s.repo.extendDue(ctx, tx, rec); err != nil {
			return err
		}
		if err := s.repo.bumpBookVersion(ctx, tx, book.ID); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, book.ID, book.Version, "DueDateExtended", DueDateExtendedEvent{
			RecordID:   rec.ID,
			BookID:     book.ID,
			NewDueDate: rec.DueDate,
			Renewals:   rec.Renewals,
		}, actor)
	})
	if err != nil {
		return nil, err
	}
	rec.Version++
	return rec, nil
}

// ActiveForBorrower returns the loans the borrower still holds.
func (s *service) ActiveForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*EnrichedRecord, error) {
	records, err := s.repo.List(ctx, goqu.Ex{"borrower_id": borrowerID, "status": StatusActive})
	if err != nil {
		return nil, err
	}
	return s.enricher.Enrich(ctx, records), nil
}

// HistoryForBorrower returns every loan of the borrower matching filter.
func (s *service) HistoryForBorrower(ctx context.Context, borrowerID uuid.UUID, filter Filter) ([]*EnrichedRecord, error) {
	records, err := s.repo.List(ctx, goqu.Ex{"borrower_id": borrowerID})
	if err != nil {
		return nil, err
	}
	return ApplyFilter(s.enricher.Enrich(ctx, records), filter, s.now()), nil
}

// StatsForBorrower summarizes the borrower's loans for the dashboard.
func (s *service) StatsForBorrower(ctx context.Context, borrowerID uuid.UUID) (*BorrowerStats, error) {
	records, err := s.repo.List(ctx, goqu.Ex{"borrower_id": borrowerID})
	if err != nil {
		return nil, err
	}
	stats := ComputeStats(records, s.now())
	stats.CanBorrow = stats.CurrentBorrowed < s.rules.MaxBooksPerUser
	return stats, nil
}

// ListAll returns every loan matching filter for the admin console.
func (s *service) ListAll(ctx context.Context, filter Filter) ([]*EnrichedRecord, error) {
	records, err := s.repo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return ApplyFilter(s.enricher.Enrich(ctx, records), filter, s.now()), nil
}

// BorrowerDetails returns a borrower's loans with active and overdue counts.
func (s *service) BorrowerDetails(ctx context.Context, borrowerID uuid.UUID) (*BorrowerSummary, error) {
	records, err := s.repo.List(ctx, goqu.Ex{"borrower_id": borrowerID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no borrowing records for user %s", borrowerID))
	}

	enriched := s.enricher.Enrich(ctx, records)
	summary := &BorrowerSummary{
		BorrowerID:    borrowerID,
		BorrowerName:  enriched[0].BorrowerName,
		BorrowerEmail: enriched[0].BorrowerEmail,
		MemberDetails: enriched[0].MemberDetails,
		Records:       enriched,
	}
	for _, r := range enriched {
		switch r.EffectiveStatus {
		case StatusActive:
			summary.Active++
		case StatusOverdue:
			summary.Overdue++
		}
	}
	return summary, nil
}

// ComputeStats counts current, due-soon, overdue and total loans.
func ComputeStats(records []*BorrowRecord, now time.Time) *BorrowerStats {
	stats := &BorrowerStats{TotalBorrowed: len(records)}
	for _, r := range records {
		if !r.IsActive() {
			continue
		}
		stats.CurrentBorrowed++
		left := -r.DaysOverdue(now)
		switch {
		case left < 0:
			stats.Overdue++
		case left <= dueSoonDays:
			stats.DueSoon++
		}
	}
	return stats
}

// ApplyFilter narrows enriched records by free text, student id and
// effective status, and fills in each record's effective status.
func ApplyFilter(records []*EnrichedRecord, f Filter, now time.Time) []*EnrichedRecord {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	studentID := strings.ToLower(strings.TrimSpace(f.StudentID))

	out := make([]*EnrichedRecord, 0, len(records))
	for _, r := range records {
		r.EffectiveStatus = r.BorrowRecord.EffectiveStatus(now)
		if f.Status != "" && r.EffectiveStatus != f.Status {
			continue
		}
		if studentID != "" && (r.MemberDetails == nil || !strings.Contains(strings.ToLower(r.MemberDetails.StudentID), studentID)) {
			continue
		}
		if search != "" && !matchesSearch(r, search) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesSearch(r *EnrichedRecord, search string) bool {
	fields := []string{r.BookTitle, r.BookAuthor, r.BorrowerName, r.BorrowerEmail, r.BookISBN}
	if r.MemberDetails != nil {
		fields = append(fields, r.MemberDetails.Department, r.MemberDetails.Phone)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func (s *service) appendEvent(ctx context.Context, tx *sqlx.Tx, bookID uuid.UUID, expected int, eventType string, data interface{}, actor string) error {
	event, err := eventstore.NewEvent(eventType, data, actor)
	if err != nil {
		return err
	}
	return s.eventStore.AppendEventsTx(ctx, tx, bookID, bookAggregate, expected, []eventstore.Event{event})
}

func (s *service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.repo.DB().BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return translateTxError(err)
	}
	if err := tx.Commit(); err != nil {
		return translateTxError(err)
	}
	return nil
}

// translateTxError turns lost races into conflicts.
func translateTxError(err error) error {
	switch {
	case errors.Is(err, eventstore.ErrConcurrencyConflict),
		store.IsSerializationFailure(err):
		return errLostRace
	case store.IsUniqueViolation(err):
		return ErrBookUnavailable
	}
	return err
}
