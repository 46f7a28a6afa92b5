// internal/clients/client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"readhub/internal/apperrors"
)

// Client talks to the ReadHub API gateway on behalf of one signed-in user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

// do sends a request and decodes a JSON response into out. Error bodies come
// back as *apperrors.AppError so callers can branch on the type.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// stream copies a successful response body to w.
func (c *Client) stream(ctx context.Context, path string, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, in interface{}) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.NewExternalError("gateway unreachable", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("unexpected status code: %d", resp.StatusCode)
	}

	appErr := &apperrors.AppError{Message: body.Error, Code: body.Code, Fields: body.Fields}
	switch resp.StatusCode {
	case http.StatusNotFound:
		appErr.Type = apperrors.ErrorTypeNotFound
	case http.StatusBadRequest:
		appErr.Type = apperrors.ErrorTypeValidation
	case http.StatusConflict:
		appErr.Type = apperrors.ErrorTypeConflict
	case http.StatusUnauthorized:
		appErr.Type = apperrors.ErrorTypeUnauthorized
	case http.StatusForbidden:
		appErr.Type = apperrors.ErrorTypeForbidden
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		appErr.Type = apperrors.ErrorTypeExternal
	default:
		appErr.Type = apperrors.ErrorTypeInternal
	}
	return appErr
}
