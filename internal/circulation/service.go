// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"readhub/internal/membership"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, bookID uuid.UUID, borrower *membership.Session) (*BorrowRecord, error)
	Return(ctx context.Context, recordID uuid.UUID, by *membership.Session) (*BorrowRecord, error)
	Extend(ctx context.Context, recordID uuid.UUID, actor string) (*BorrowRecord, error)

	ActiveForBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*EnrichedRecord, error)
	HistoryForBorrower(ctx context.Context, borrowerID uuid.UUID, filter Filter) ([]*EnrichedRecord, error)
	StatsForBorrower(ctx context.Context, borrowerID uuid.UUID) (*BorrowerStats, error)

	ListAll(ctx context.Context, filter Filter) ([]*EnrichedRecord, error)
	BorrowerDetails(ctx context.Context, borrowerID uuid.UUID) (*BorrowerSummary, error)
}
