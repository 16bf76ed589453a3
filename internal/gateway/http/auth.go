package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/aussiebroadwan/gateway/pkg/authsdk"
	"github.com/aussiebroadwan/gateway/pkg/cookiex"
	"github.com/aussiebroadwan/gateway/pkg/httpx"
	"github.com/aussiebroadwan/gateway/pkg/slogx"
)

const maxCredentialsBody = 64 << 10

// AuthClient issues and revokes token pairs. *authsdk.SDKClient implements it.
type AuthClient interface {
	Login(ctx context.Context, credentials json.RawMessage) (*authsdk.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*authsdk.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
}

type LoginHandler struct {
	Auth    AuthClient
	Cookies *cookiex.Codec
}

// ServeHTTP exchanges credentials for a session.
//
//	@Summary		Log in
//	@Description	Forwards the credentials to the backend. On success both token cookies are set;
//	@Description	backend failures are passed through with their original status and body.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			credentials	body		object					true	"Backend login credentials"
//	@Success		200			{object}	authsdk.SessionResponse	"Session established"
//	@Failure		400			{object}	authsdk.ErrorResponse	"Malformed body"
//	@Failure		401			{object}	object					"Backend rejection, passed through"
//	@Failure		429			{object}	authsdk.ErrorResponse	"Rate limited"
//	@Failure		502			{object}	authsdk.ErrorResponse	"Backend unreachable"
//	@Router			/api/auth/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCredentialsBody))
	if err != nil || !json.Valid(raw) {
		httpx.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pair, err := h.Auth.Login(r.Context(), raw)
	if err != nil {
		if f, ok := authsdk.AsFailure(err); ok {
			log.Info("login rejected by backend", "status", f.StatusCode)
			f.WriteTo(w)
			return
		}
		log.Error("login failed", "error", err)
		httpx.WriteError(w, http.StatusBadGateway, "Login failed")
		return
	}

	h.Cookies.WriteTokens(w, pair)
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
		Authenticated: true,
		TokenType:     pair.TokenType,
		ExpiresIn:     pair.ExpiresIn,
	})
}

type RefreshHandler struct {
	Auth    AuthClient
	Cookies *cookiex.Codec
}

// ServeHTTP rotates the token pair held in the session cookies.
//
//	@Summary		Refresh session
//	@Description	Exchanges the refresh-token cookie for a new pair and rewrites both cookies.
//	@Description	Any failure clears both cookies so the browser falls back to logging in.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	authsdk.SessionResponse	"Session refreshed"
//	@Failure		401	{object}	authsdk.ErrorResponse	"Missing or rejected refresh token"
//	@Failure		429	{object}	authsdk.ErrorResponse	"Rate limited"
//	@Router			/api/auth/refresh [post].
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slogx.FromContext(r.Context())

	_, refresh := h.Cookies.Tokens(r)
	if refresh == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "No refresh token")
		return
	}

	pair, err := h.Auth.Refresh(r.Context(), refresh)
	if err == nil {
		err = pair.Validate()
	}
	if err != nil {
		if errors.Is(err, authsdk.ErrInvalidTokenPair) {
			log.Warn("backend returned an incomplete token pair")
		} else {
			log.Info("refresh rejected", "error", err)
		}
		h.Cookies.ClearTokens(w)
		httpx.WriteError(w, http.StatusUnauthorized, "Session expired")
		return
	}

	h.Cookies.WriteTokens(w, pair)
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
		Authenticated: true,
		TokenType:     pair.TokenType,
		ExpiresIn:     pair.ExpiresIn,
	})
}

type LogoutHandler struct {
	Auth    AuthClient
	Cookies *cookiex.Codec
	Timeout time.Duration

	// Store, if set, loses every entry cached for the departing access token.
	Store cache.Store
}

// ServeHTTP ends the session.
//
//	@Summary		Log out
//	@Description	Asks the backend to revoke the refresh token (best effort), drops responses cached
//	@Description	for the session and clears both cookies.
//	@Tags			Auth
//	@Produce		json
//	@Success		200	{object}	authsdk.LogoutResponse	"Always succeeds"
//	@Router			/api/auth/logout [post].
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	access, refresh := h.Cookies.Tokens(r)

	if session := cache.SessionTag(access); session != "" && h.Store != nil {
		if err := h.Store.ExpireTag(r.Context(), session); err != nil {
			slogx.FromContext(r.Context()).Warn("dropping cached session responses failed", "error", err)
		}
	}

	if refresh != "" {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := h.Auth.Logout(ctx, refresh); err != nil {
			slogx.FromContext(ctx).Warn("backend logout failed, clearing session anyway", "error", err)
		}
	}

	h.Cookies.ClearTokens(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutResponse{Success: true})
}
