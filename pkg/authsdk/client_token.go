package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Login posts credentials verbatim to the backend login endpoint. A non-2xx
// answer is returned as a *Failure carrying the raw body and status for
// pass-through; there is no retry.
func (c *SDKClient) Login(ctx context.Context, credentials json.RawMessage) (*TokenPair, error) {
	if len(credentials) == 0 {
		credentials = json.RawMessage("{}")
	}

	resp, body, err := c.postJSON(ctx, PathLogin, credentials)
	if err != nil {
		return nil, err
	}
	return decodePair(resp, body)
}

// Refresh exchanges a refresh token for a new pair. It never retries: a
// missing token, a transport error and a non-2xx answer all come back as
// errors for the caller to treat as "session expired".
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrMissingRefreshToken
	}

	payload, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	resp, body, err := c.postJSON(ctx, PathRefresh, payload)
	if err != nil {
		return nil, err
	}
	return decodePair(resp, body)
}

// Logout asks the backend to revoke refreshToken. Callers log the error and
// carry on; the local session is torn down either way.
func (c *SDKClient) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	payload, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}

	resp, body, err := c.postJSON(ctx, PathLogout, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("logout failed: %w", &Failure{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		})
	}
	return nil
}
