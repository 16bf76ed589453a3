package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
)

const (
	uploadMaxBody = 32 << 20

	// agentTimeout covers agent replies, which stream from a model backend.
	agentTimeout = 2 * time.Minute
)

// created invalidates "<prefix>:<id>" for the resource in a creation
// response, so its detail view is fresh on the next read.
func created(prefix string) cache.TagsFunc {
	return func(payload any) []cache.Target {
		return []cache.Target{{
			Tag:      cache.ResourceTag(prefix, payload, "id"),
			Strategy: cache.StrategyImmediate,
		}}
	}
}

// expire invalidates tags immediately. Tags may use path placeholders.
func expire(tags ...string) cache.StaticTags {
	out := make(cache.StaticTags, 0, len(tags))
	for _, t := range tags {
		out = append(out, cache.Target{Tag: t, Strategy: cache.StrategyImmediate})
	}
	return out
}

// Routes is the proxied API surface of the front end.
func Routes() []Endpoint {
	return []Endpoint{
		// Chats
		{
			Method: http.MethodGet, Pattern: "/api/chats",
			Backend: Path("/chats"), ForwardQuery: true,
			Cache:         &CachePolicy{Tags: []string{"chats"}},
			FallbackError: "Failed to load chats",
		},
		{
			Method: http.MethodPost, Pattern: "/api/chats",
			Backend:       Path("/chats"),
			Tags:          cache.Join(cache.Tag("chats"), created("chat")),
			FallbackError: "Failed to create chat",
		},
		{
			Method: http.MethodGet, Pattern: "/api/chats/{id}",
			Backend:       Path("/chats/{id}"),
			Cache:         &CachePolicy{Tags: []string{"chats", "chat:{id}"}},
			FallbackError: "Failed to load chat",
		},
		{
			Method: http.MethodPatch, Pattern: "/api/chats/{id}",
			Backend:       Path("/chats/{id}"),
			Tags:          cache.Join(cache.Tag("chats"), expire("chat:{id}")),
			FallbackError: "Failed to update chat",
		},
		{
			Method: http.MethodDelete, Pattern: "/api/chats/{id}",
			Backend:       Path("/chats/{id}"),
			Tags:          cache.Join(cache.Tag("chats"), expire("chat:{id}")),
			FallbackError: "Failed to delete chat",
		},
		{
			Method: http.MethodGet, Pattern: "/api/chats/{id}/messages",
			Backend: Path("/chats/{id}/messages"), ForwardQuery: true,
			FallbackError: "Failed to load messages",
		},
		{
			Method: http.MethodPost, Pattern: "/api/chats/{id}/messages",
			Backend: Path("/agent/chats/{id}/messages"), Timeout: agentTimeout,
			Tags:          cache.Join(cache.Tag("chats"), expire("chat:{id}")),
			FallbackError: "Failed to send message",
		},

		// MCP servers, passed through wholesale
		{
			Method: http.MethodGet, Pattern: "/api/mcp/{path...}",
			Backend: Path("/mcp/{path...}"), ForwardQuery: true,
			Cache:         &CachePolicy{Tags: []string{"mcp"}, TTL: 5 * time.Minute},
			FallbackError: "Failed to load MCP servers",
		},
		{
			Pattern: "/api/mcp/{path...}",
			Backend: Path("/mcp/{path...}"), ForwardQuery: true,
			Tags:          expire("mcp"),
			FallbackError: "Failed to update MCP servers",
		},

		// Receipts
		{
			Method: http.MethodGet, Pattern: "/api/receipts",
			Backend: Path("/receipts"), ForwardQuery: true,
			Cache:         &CachePolicy{Tags: []string{"receipts"}},
			FallbackError: "Failed to load receipts",
		},
		{
			Method: http.MethodGet, Pattern: "/api/receipts/{id}",
			Backend:       Path("/receipts/{id}"),
			Cache:         &CachePolicy{Tags: []string{"receipts", "receipt:{id}"}},
			FallbackError: "Failed to load receipt",
		},
		{
			Method: http.MethodPost, Pattern: "/api/receipts/upload",
			Backend: Path("/receipts/upload"), MaxBody: uploadMaxBody,
			Tags:          cache.Join(cache.Tag("receipts", "hsa"), created("receipt")),
			FallbackError: "Failed to upload receipt",
		},
		{
			Method: http.MethodPost, Pattern: "/api/receipts/parse",
			Backend: Path("/receipts/parse"), MaxBody: uploadMaxBody,
			FallbackError: "Failed to parse receipt",
		},
		{
			Method: http.MethodPatch, Pattern: "/api/receipts/{id}",
			Backend:       Path("/receipts/{id}"),
			Tags:          cache.Join(cache.Tag("receipts", "hsa"), expire("receipt:{id}")),
			FallbackError: "Failed to update receipt",
		},
		{
			Method: http.MethodDelete, Pattern: "/api/receipts/{id}",
			Backend:       Path("/receipts/{id}"),
			Tags:          cache.Join(cache.Tag("receipts", "hsa"), expire("receipt:{id}")),
			FallbackError: "Failed to delete receipt",
		},
		{
			Method: http.MethodPost, Pattern: "/api/receipts/bulk-import/scan",
			Backend: Path("/receipts/bulk-import/scan"), Timeout: agentTimeout,
			FallbackError: "Failed to scan receipts",
		},
		{
			Method: http.MethodPost, Pattern: "/api/receipts/bulk-import/commit",
			Backend: Path("/receipts/bulk-import/commit"), Timeout: agentTimeout,
			Tags:          cache.Tag("receipts", "hsa", "donations"),
			FallbackError: "Failed to import receipts",
		},

		// Donations
		{
			Method: http.MethodGet, Pattern: "/api/donations",
			Backend: Path("/donations"), ForwardQuery: true,
			Cache:         &CachePolicy{Tags: []string{"donations"}},
			FallbackError: "Failed to load donations",
		},
		{
			Method: http.MethodPost, Pattern: "/api/donations",
			Backend:       Path("/donations"),
			Tags:          cache.Join(cache.Tag("donations"), created("donation")),
			FallbackError: "Failed to record donation",
		},
		{
			Method: http.MethodDelete, Pattern: "/api/donations/{id}",
			Backend:       Path("/donations/{id}"),
			Tags:          cache.Join(cache.Tag("donations"), expire("donation:{id}")),
			FallbackError: "Failed to delete donation",
		},

		// HSA dashboard
		{
			Method: http.MethodGet, Pattern: "/api/hsa/summary",
			Backend: Path("/hsa/summary"), ForwardQuery: true,
			Cache:         &CachePolicy{Tags: []string{"hsa"}},
			FallbackError: "Failed to load HSA summary",
		},

		// Settings
		{
			Method: http.MethodGet, Pattern: "/api/settings",
			Backend:       Path("/settings"),
			Cache:         &CachePolicy{Tags: []string{"settings"}},
			FallbackError: "Failed to load settings",
		},
		{
			Method: http.MethodPut, Pattern: "/api/settings",
			Backend:       Path("/settings"),
			Tags:          expire("settings"),
			FallbackError: "Failed to save settings",
		},
	}
}
