package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache: miss")

// Entry is a stored backend response.
type Entry struct {
	StatusCode  int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store is a tagged response cache. Drivers live under cache/drivers.
type Store interface {
	// Get returns ErrMiss for absent or expired keys.
	Get(ctx context.Context, key string) (Entry, error)

	// Set stores e under key for ttl and indexes it under every tag.
	Set(ctx context.Context, key string, e Entry, tags []string, ttl time.Duration) error

	// ExpireTag drops every entry indexed under tag.
	ExpireTag(ctx context.Context, tag string) error

	// MarkStale shortens the remaining lifetime of every entry under tag to
	// at most maxStale. Entries already closer to expiry are left alone.
	MarkStale(ctx context.Context, tag string, maxStale time.Duration) error

	// Purge removes expired entries and returns how many were dropped.
	Purge(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
