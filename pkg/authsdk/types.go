package authsdk

import (
	"time"
)

// TokenPair is the backend's login/refresh response.
type TokenPair struct {
	// AccessToken is the short-lived bearer credential.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived credential exchanged for a new pair.
	RefreshToken string `json:"refresh_token"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	// TokenType is normally "bearer".
	TokenType string `json:"token_type"`
}

// Validate reports ErrInvalidTokenPair unless both tokens are present.
func (p *TokenPair) Validate() error {
	if p == nil || p.AccessToken == "" || p.RefreshToken == "" {
		return ErrInvalidTokenPair
	}
	return nil
}

// Access, Refresh and AccessMaxAge let a pair be handed straight to cookiex.

func (p *TokenPair) Access() string  { return p.AccessToken }
func (p *TokenPair) Refresh() string { return p.RefreshToken }

func (p *TokenPair) AccessMaxAge() time.Duration {
	return time.Duration(p.ExpiresIn) * time.Second
}

// RefreshRequest is the body of the refresh and logout calls.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HealthResponse is returned by the gateway's liveness and readiness probes.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports per-dependency readiness.
type HealthChecks struct {
	Cache string `json:"cache"`
}

// SessionResponse is returned by the gateway's login and refresh endpoints.
// The tokens themselves only travel in cookies.
type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	TokenType     string `json:"token_type,omitempty"`
	ExpiresIn     int    `json:"expires_in,omitempty"`
}

// LogoutResponse is returned by the gateway's logout endpoint.
type LogoutResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the normalized error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
