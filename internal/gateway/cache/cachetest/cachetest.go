// Package cachetest holds the behaviour every cache.Store driver must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/stretchr/testify/require"
)

// StaleWait is how long the suite waits for a MarkStale'd entry to lapse.
// Redis rounds expiries to whole seconds, so it is not shorter.
const StaleWait = time.Second

// Run exercises a fresh store from newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) cache.Store) {
	t.Helper()

	entry := cache.Entry{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"id":1}`),
		StoredAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	t.Run("miss", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)

		_, err := s.Get(context.Background(), "absent")
		require.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("set then get", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", entry, []string{"chats"}, time.Minute))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, entry.StatusCode, got.StatusCode)
		require.Equal(t, entry.ContentType, got.ContentType)
		require.Equal(t, entry.Body, got.Body)
		require.WithinDuration(t, entry.StoredAt, got.StoredAt, time.Millisecond)
	})

	t.Run("overwrite moves tags", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "k", entry, []string{"old"}, time.Minute))
		require.NoError(t, s.Set(ctx, "k", entry, []string{"new"}, time.Minute))

		require.NoError(t, s.ExpireTag(ctx, "old"))
		_, err := s.Get(ctx, "k")
		require.NoError(t, err)

		require.NoError(t, s.ExpireTag(ctx, "new"))
		_, err = s.Get(ctx, "k")
		require.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("expire tag", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "a", entry, []string{"chats", "chat:1"}, time.Minute))
		require.NoError(t, s.Set(ctx, "b", entry, []string{"chats"}, time.Minute))
		require.NoError(t, s.Set(ctx, "c", entry, []string{"receipts"}, time.Minute))

		require.NoError(t, s.ExpireTag(ctx, "chats"))

		for _, k := range []string{"a", "b"} {
			_, err := s.Get(ctx, k)
			require.ErrorIs(t, err, cache.ErrMiss, k)
		}
		_, err := s.Get(ctx, "c")
		require.NoError(t, err)

		require.NoError(t, s.ExpireTag(ctx, "unknown"))
	})

	t.Run("mark stale", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "listed", entry, []string{"receipts"}, time.Hour))
		require.NoError(t, s.Set(ctx, "other", entry, []string{"donations"}, time.Hour))

		require.NoError(t, s.MarkStale(ctx, "receipts", StaleWait))

		_, err := s.Get(ctx, "listed")
		require.NoError(t, err, "stale entries stay readable until max stale elapses")

		time.Sleep(StaleWait + 500*time.Millisecond)

		_, err = s.Get(ctx, "listed")
		require.ErrorIs(t, err, cache.ErrMiss)
		_, err = s.Get(ctx, "other")
		require.NoError(t, err)
	})

	t.Run("purge", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Set(ctx, "short", entry, []string{"t"}, StaleWait))
		require.NoError(t, s.Set(ctx, "long", entry, []string{"t"}, time.Hour))

		time.Sleep(StaleWait + 500*time.Millisecond)

		_, err := s.Purge(ctx)
		require.NoError(t, err)

		_, err = s.Get(ctx, "short")
		require.ErrorIs(t, err, cache.ErrMiss)
		_, err = s.Get(ctx, "long")
		require.NoError(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, newStore(t).Ping(context.Background()))
	})
}
