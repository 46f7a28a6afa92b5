// internal/catalog/search.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"readhub/internal/config"
)

const booksCollection = "books"

// Index is the full-text search side of the catalog.
type Index interface {
	IndexBook(ctx context.Context, b *Book) error
	RemoveBook(ctx context.Context, id uuid.UUID) error
	SearchIDs(ctx context.Context, query string, limit int) ([]string, error)
}

// TypesenseIndex keeps the books collection in Typesense.
type TypesenseIndex struct {
	client *typesense.Client
}

// NewTypesenseIndex creates a client for the configured Typesense server.
func NewTypesenseIndex(cfg config.TypesenseConfig) *TypesenseIndex {
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)
	return &TypesenseIndex{client: client}
}

// InitSchema creates the books collection when it does not exist yet.
func (t *TypesenseIndex) InitSchema(ctx context.Context) error {
	collections, err := t.client.Collections().Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve collections: %w", err)
	}
	for _, col := range collections {
		if col.Name == booksCollection {
			return nil
		}
	}

	schema := &api.CollectionSchema{
		Name: booksCollection,
		Fields: []api.Field{
			{Name: "title", Type: "string"},
			{Name: "author", Type: "string"},
			{Name: "isbn", Type: "string", Optional: pointer.True()},
			{Name: "category", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "availability", Type: "string", Facet: pointer.True()},
			{Name: "added_at", Type: "int64"},
		},
		DefaultSortingField: pointer.String("added_at"),
	}
	if _, err := t.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	log.Info().Str("collection", booksCollection).Msg("created search collection")
	return nil
}

// IndexBook upserts the searchable fields of b.
func (t *TypesenseIndex) IndexBook(ctx context.Context, b *Book) error {
	document := map[string]interface{}{
		"id":           b.ID.String(),
		"title":        b.Title,
		"author":       b.Author,
		"isbn":         b.ISBN,
		"category":     b.Category,
		"availability": b.Availability,
		"added_at":     b.AddedDate.Unix(),
	}
	if _, err := t.client.Collection(booksCollection).Documents().Upsert(ctx, document); err != nil {
		return fmt.Errorf("failed to index book: %w", err)
	}
	return nil
}

// RemoveBook deletes the document for id.
func (t *TypesenseIndex) RemoveBook(ctx context.Context, id uuid.UUID) error {
	if _, err := t.client.Collection(booksCollection).Document(id.String()).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete book from index: %w", err)
	}
	return nil
}

// SearchIDs returns matching book ids in relevance order.
func (t *TypesenseIndex) SearchIDs(ctx context.Context, query string, limit int) ([]string, error) {
	params := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String("title,author,isbn"),
		PerPage: pointer.Int(limit),
	}

	result, err := t.client.Collection(booksCollection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to search books: %w", err)
	}
	if result.Hits == nil {
		return nil, nil
	}

	ids := make([]string, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		if id, ok := (*hit.Document)["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// breakerIndex stops calling a failing search backend for a while so the
// catalog falls back to the database quickly.
type breakerIndex struct {
	next Index
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps next so that repeated failures open the circuit.
func WithCircuitBreaker(next Index) Index {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "catalog-search",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return &breakerIndex{next: next, cb: cb}
}

func (b *breakerIndex) IndexBook(ctx context.Context, book *Book) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.IndexBook(ctx, book)
	})
	return err
}

func (b *breakerIndex) RemoveBook(ctx context.Context, id uuid.UUID) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.RemoveBook(ctx, id)
	})
	return err
}

func (b *breakerIndex) SearchIDs(ctx context.Context, query string, limit int) ([]string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SearchIDs(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}
	ids, _ := res.([]string)
	return ids, nil
}

// IsCircuitOpen reports whether err came from an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
