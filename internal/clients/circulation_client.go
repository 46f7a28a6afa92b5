// internal/clients/circulation_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"readhub/internal/circulation"
)

// Borrow checks bookID out to the signed-in user.
func (c *Client) Borrow(ctx context.Context, bookID uuid.UUID) (*circulation.BorrowRecord, error) {
	var rec circulation.BorrowRecord
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/circulation/borrow/%s", bookID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Return closes the loan recordID.
func (c *Client) Return(ctx context.Context, recordID uuid.UUID) (*circulation.BorrowRecord, error) {
	var rec circulation.BorrowRecord
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/circulation/return/%s", recordID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MyActive lists the signed-in user's open loans.
func (c *Client) MyActive(ctx context.Context) ([]*circulation.EnrichedRecord, error) {
	var records []*circulation.EnrichedRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/circulation/me/active", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}
