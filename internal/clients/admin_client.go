// internal/clients/admin_client.go
package clients

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"readhub/internal/feedback"
)

// ExportReport writes a report export to w.
func (c *Client) ExportReport(ctx context.Context, w io.Writer, rangeKey, format string, sections []string) error {
	q := url.Values{}
	if rangeKey != "" {
		q.Set("range", rangeKey)
	}
	if format != "" {
		q.Set("format", format)
	}
	if len(sections) > 0 {
		q.Set("sections", strings.Join(sections, ","))
	}
	path := "/api/v1/admin/reports/export"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.stream(ctx, path, w)
}

// FlushFeedback replays contact submissions queued while the store was down.
func (c *Client) FlushFeedback(ctx context.Context) (*feedback.FlushResult, error) {
	var res feedback.FlushResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/feedback/flush", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
