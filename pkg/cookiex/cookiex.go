// Package cookiex reads and writes the gateway's token cookies.
//
// The access token cookie is readable by client scripts, which build their
// own Authorization headers from it. The refresh token cookie is HttpOnly and
// only ever seen by the gateway. Both are written together or not at all.
package cookiex

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAccessName    = "access-token"
	DefaultRefreshName   = "refresh-token"
	DefaultRefreshMaxAge = 30 * 24 * time.Hour
)

// TokenPair is the subset of an issued token pair the codec persists.
type TokenPair interface {
	Access() string
	Refresh() string
	AccessMaxAge() time.Duration
}

// Codec writes token cookies with the gateway's fixed attributes.
type Codec struct {
	AccessName    string
	RefreshName   string
	RefreshMaxAge time.Duration

	// Secure marks both cookies Secure; enable in production only so local
	// development over plain http keeps working.
	Secure bool
}

// NewCodec returns a Codec with the default cookie names and lifetimes.
func NewCodec(secure bool) *Codec {
	return &Codec{
		AccessName:    DefaultAccessName,
		RefreshName:   DefaultRefreshName,
		RefreshMaxAge: DefaultRefreshMaxAge,
		Secure:        secure,
	}
}

// ExtractCookie finds name in a raw Cookie header and returns its URL-decoded
// value. The first matching entry wins and the value is everything after the
// first '='. Malformed headers degrade to not found; a value that fails to
// decode is returned as sent.
func ExtractCookie(header, name string) (string, bool) {
	for header != "" {
		var entry string
		entry, header, _ = strings.Cut(header, ";")

		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || strings.TrimSpace(key) != name {
			continue
		}

		if decoded, err := url.PathUnescape(value); err == nil {
			return decoded, true
		}
		return value, true
	}
	return "", false
}

// Tokens returns the access and refresh tokens carried by r. Missing cookies
// are returned as "".
func (c *Codec) Tokens(r *http.Request) (access, refresh string) {
	header := strings.Join(r.Header.Values("Cookie"), "; ")
	access, _ = ExtractCookie(header, c.AccessName)
	refresh, _ = ExtractCookie(header, c.RefreshName)
	return access, refresh
}

// WriteTokens sets both token cookies on w. A pair missing either token is
// not written at all and WriteTokens reports false.
func (c *Codec) WriteTokens(w http.ResponseWriter, pair TokenPair) bool {
	if pair == nil || pair.Access() == "" || pair.Refresh() == "" {
		return false
	}

	// A pair without a lifetime becomes a session cookie rather than an
	// already-expired one.
	http.SetCookie(w, c.cookie(c.AccessName, pair.Access(), max(seconds(pair.AccessMaxAge()), 0), false))
	http.SetCookie(w, c.cookie(c.RefreshName, pair.Refresh(), seconds(c.RefreshMaxAge), true))
	return true
}

// ClearTokens expires both token cookies.
func (c *Codec) ClearTokens(w http.ResponseWriter) {
	// net/http renders MaxAge<0 as "Max-Age=0"; MaxAge==0 would omit it.
	http.SetCookie(w, c.cookie(c.AccessName, "", -1, false))
	http.SetCookie(w, c.cookie(c.RefreshName, "", -1, true))
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}

func (c *Codec) cookie(name, value string, maxAge int, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    url.PathEscape(value),
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
