// internal/clients/catalog_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"readhub/internal/catalog"
)

// ListBooks returns the catalog, narrowed by filter.
func (c *Client) ListBooks(ctx context.Context, filter catalog.ListFilter) ([]*catalog.Book, error) {
	q := url.Values{}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Availability != "" {
		q.Set("availability", filter.Availability)
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	path := "/api/v1/catalog/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var books []*catalog.Book
	if err := c.do(ctx, http.MethodGet, path, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// Search runs a full-text query over titles, authors and ISBNs.
func (c *Client) Search(ctx context.Context, query string) ([]*catalog.Book, error) {
	var books []*catalog.Book
	path := fmt.Sprintf("/api/v1/catalog/search?q=%s", url.QueryEscape(query))
	if err := c.do(ctx, http.MethodGet, path, nil, &books); err != nil {
		return nil, err
	}
	return books, nil
}

// SeedBooks adds the sample collection and returns how many books were added.
func (c *Client) SeedBooks(ctx context.Context) (int, error) {
	var result struct {
		Added int `json:"added"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/catalog/books/seed", nil, &result); err != nil {
		return 0, err
	}
	return result.Added, nil
}
