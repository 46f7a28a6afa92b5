// internal/reports/service.go
package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"readhub/internal/apperrors"
	"readhub/internal/catalog"
	"readhub/internal/circulation"
	"readhub/internal/membership"
	"readhub/internal/observability"
)

// Source loads the collections a report is built from.
type Source interface {
	ListBooks(ctx context.Context) ([]*catalog.Book, error)
	ListUsers(ctx context.Context) ([]*membership.User, error)
	ListMembers(ctx context.Context) ([]*membership.Member, error)
	ListRecords(ctx context.Context) ([]*circulation.BorrowRecord, error)
}

// StoreSource reads the collections through the service repositories.
type StoreSource struct {
	Books   *catalog.Repository
	Members *membership.Repository
	Records *circulation.Repository
}

func (s *StoreSource) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	return s.Books.List(ctx, catalog.ListFilter{})
}

func (s *StoreSource) ListUsers(ctx context.Context) ([]*membership.User, error) {
	return s.Members.ListUsers(ctx, membership.UserFilter{})
}

func (s *StoreSource) ListMembers(ctx context.Context) ([]*membership.Member, error) {
	return s.Members.ListMembers(ctx)
}

func (s *StoreSource) ListRecords(ctx context.Context) ([]*circulation.BorrowRecord, error) {
	return s.Records.List(ctx, nil)
}

// Service defines the interface for the reports service.
type Service interface {
	Report(ctx context.Context, rangeKey string) (*Report, error)
	Inventory(ctx context.Context, rangeKey string) (*Inventory, error)
	Export(ctx context.Context, w io.Writer, rangeKey, format string, sections []string) error
}

type service struct {
	source Source
	now    func() time.Time
}

// NewService creates a new reports service instance.
func NewService(source Source) Service {
	return &service{source: source, now: time.Now}
}

// load fetches all four collections concurrently.
func (s *service) load(ctx context.Context) (Dataset, error) {
	var ds Dataset
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		books, err := s.source.ListBooks(ctx)
		ds.Books = books
		return err
	})
	g.Go(func() error {
		users, err := s.source.ListUsers(ctx)
		ds.Users = users
		return err
	})
	g.Go(func() error {
		members, err := s.source.ListMembers(ctx)
		ds.Members = members
		return err
	})
	g.Go(func() error {
		records, err := s.source.ListRecords(ctx)
		ds.Records = records
		return err
	})

	if err := g.Wait(); err != nil {
		return Dataset{}, fmt.Errorf("failed to load report data: %w", err)
	}
	return ds, nil
}

func (s *service) Report(ctx context.Context, rangeKey string) (*Report, error) {
	ds, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	rep, err := Build(ds, rangeKey, s.now())
	if err != nil {
		return nil, err
	}
	observability.LoggerFromContext(ctx).Debug().
		Str("range", rep.DateRange).
		Int("borrowings", rep.TotalBorrowings).
		Msg("report built")
	return rep, nil
}

func (s *service) Inventory(ctx context.Context, rangeKey string) (*Inventory, error) {
	start, err := DateRangeStart(rangeKey, s.now())
	if err != nil {
		return nil, err
	}
	books, err := s.source.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load books: %w", err)
	}
	return BuildInventory(books, start), nil
}

// Export writes the selected sections of the report in format.
func (s *service) Export(ctx context.Context, w io.Writer, rangeKey, format string, sections []string) error {
	if format != FormatCSV && format != FormatJSON {
		return apperrors.NewValidationError(fmt.Sprintf("unsupported export format %q", format))
	}
	if len(sections) == 0 {
		return apperrors.NewValidationError("Please select at least one report section to export.")
	}

	rep, err := s.Report(ctx, rangeKey)
	if err != nil {
		return err
	}
	doc := NewDocument(rep, sections, s.now())
	if format == FormatCSV {
		return doc.WriteCSV(w)
	}
	return doc.WriteJSON(w)
}
