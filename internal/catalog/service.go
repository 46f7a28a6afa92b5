// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"readhub/internal/eventstore"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, in BookInput, actor string) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, in BookInput, actor string) (*Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID, actor string) error
	ListBooks(ctx context.Context, filter ListFilter) ([]*Book, error)
	Search(ctx context.Context, query string) ([]*Book, error)
	History(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)
	SeedSampleBooks(ctx context.Context, actor string) (int, error)
}
