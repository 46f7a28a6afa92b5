// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"readhub/internal/membership"
)

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, req membership.SignInRequest) (*membership.SignInResult, error) {
	var result membership.SignInResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/members/auth/signin", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SignOut ends the client's session and returns the page to show next.
func (c *Client) SignOut(ctx context.Context) (string, error) {
	var result struct {
		Redirect string `json:"redirect"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/members/auth/signout", nil, &result); err != nil {
		return "", err
	}
	return result.Redirect, nil
}

// Me returns the session behind the client's token.
func (c *Client) Me(ctx context.Context) (*membership.Session, error) {
	var sess membership.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/members/auth/me", nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
