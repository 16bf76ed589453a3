// Package payload turns raw backend responses into the values the gateway
// re-emits, and backend error bodies into a single {"error": ...} shape.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gateway/internal/gateway/proxy"
)

// ErrorPayload is the canonical error body. Error is never empty.
type ErrorPayload struct {
	Error   string `json:"error"`
	Detail  any    `json:"detail,omitempty"`
	Message any    `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// Parse decodes a backend body. It returns nil for 204/205, for malformed
// JSON and for blank text; non-JSON text becomes {"message": text}.
func Parse(resp *proxy.Response) any {
	if resp == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusResetContent {
		return nil
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if len(bytes.TrimSpace(resp.Body)) == 0 {
			return nil
		}
		var v any
		if err := json.Unmarshal(resp.Body, &v); err != nil {
			return nil
		}
		return v
	}

	text := strings.TrimSpace(string(resp.Body))
	if text == "" {
		return nil
	}
	return map[string]any{"message": text}
}

// messageKeys is the order in which an error message is looked up.
var messageKeys = [...]string{"error", "message", "detail"}

// NormalizeError builds the canonical error body for a failed response.
// Applying it to its own output yields the same Error.
func NormalizeError(payload any, status int, statusText string) ErrorPayload {
	switch p := payload.(type) {
	case ErrorPayload:
		return NormalizeError(p.fields(), status, statusText)
	case *ErrorPayload:
		if p != nil {
			return NormalizeError(p.fields(), status, statusText)
		}
	case map[string]any:
		return fromObject(p, status, statusText)
	case string:
		if msg := strings.TrimSpace(p); msg != "" {
			return ErrorPayload{Error: msg}
		}
	}
	return ErrorPayload{Error: fallback(status, statusText)}
}

func fromObject(obj map[string]any, status int, statusText string) ErrorPayload {
	var out ErrorPayload
	chosen := ""
	for _, key := range messageKeys {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			out.Error = strings.TrimSpace(s)
			chosen = key
			break
		}
	}
	if out.Error == "" {
		out.Error = fallback(status, statusText)
	}

	if v, ok := obj["detail"]; ok && chosen != "detail" {
		out.Detail = v
	}
	if v, ok := obj["message"]; ok && chosen != "message" {
		out.Message = v
	}
	if v, ok := obj["details"]; ok {
		out.Details = v
	}
	return out
}

func (p ErrorPayload) fields() map[string]any {
	m := map[string]any{"error": p.Error}
	if p.Detail != nil {
		m["detail"] = p.Detail
	}
	if p.Message != nil {
		m["message"] = p.Message
	}
	if p.Details != nil {
		m["details"] = p.Details
	}
	return m
}

func fallback(status int, statusText string) string {
	if s := strings.TrimSpace(statusText); s != "" {
		return s
	}
	return fmt.Sprintf("Request failed with status %d", status)
}
