package authsdk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingRefreshToken is returned by Refresh when there is nothing to exchange.
	ErrMissingRefreshToken = errors.New("authsdk: refresh token required")

	// ErrInvalidTokenPair is returned when a 2xx body is not a complete token pair.
	ErrInvalidTokenPair = errors.New("authsdk: incomplete token pair")
)

// Failure is a non-2xx response from an auth endpoint. The body is kept
// verbatim so the gateway can pass it through to the browser.
type Failure struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Error implements the error interface.
func (f *Failure) Error() string {
	body := strings.TrimSpace(string(f.Body))
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("authsdk: http %d", f.StatusCode)
	}
	return fmt.Sprintf("authsdk: http %d: %s", f.StatusCode, body)
}

// WriteTo copies the failure to w unchanged: same status, same body.
func (f *Failure) WriteTo(w http.ResponseWriter) {
	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(f.StatusCode)
	_, _ = w.Write(f.Body)
}

// AsFailure unwraps err into a *Failure.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
