// Package sqlite is a cache.Store persisted in a SQLite file, so cached
// responses survive restarts of a single gateway replica.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string

	// Now is replaceable in tests.
	Now func() time.Time
}

var _ cache.Store = (*Store)(nil)

// NewStore opens dsn. Call ApplyMigrations before use.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One connection keeps the pragmas below in effect and avoids
	// SQLITE_BUSY between writers in the same process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA journal_mode = WAL;`,
	} {
		if _, err := db.ExecContext(context.Background(), pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{db: db, dsn: dsn, Now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Get(ctx context.Context, key string) (cache.Entry, error) {
	var (
		e        cache.Entry
		storedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT status, content_type, body, stored_at
		FROM cache_entries
		WHERE key = ? AND expires_at > ?`,
		key, millis(s.Now()),
	).Scan(&e.StatusCode, &e.ContentType, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, cache.ErrMiss
	}
	if err != nil {
		return cache.Entry{}, err
	}

	e.StoredAt = time.UnixMilli(storedAt).UTC()
	return e, nil
}

func (s *Store) Set(ctx context.Context, key string, e cache.Entry, tags []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if e.Body == nil {
		e.Body = []byte{}
	}
	expiresAt := millis(s.Now().Add(ttl))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE key = ?`, key); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO cache_entries (key, status, content_type, body, stored_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (key) DO UPDATE SET
				status = excluded.status,
				content_type = excluded.content_type,
				body = excluded.body,
				stored_at = excluded.stored_at,
				expires_at = excluded.expires_at`,
			key, e.StatusCode, e.ContentType, e.Body, millis(e.StoredAt), expiresAt,
		)
		if err != nil {
			return err
		}

		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)`, tag, key,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ExpireTag(ctx context.Context, tag string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries
			WHERE key IN (SELECT key FROM cache_tags WHERE tag = ?)`, tag,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE tag = ?`, tag)
		return err
	})
}

func (s *Store) MarkStale(ctx context.Context, tag string, maxStale time.Duration) error {
	deadline := millis(s.Now().Add(maxStale))
	_, err := s.db.ExecContext(ctx, `
		UPDATE cache_entries
		SET expires_at = ?
		WHERE expires_at > ?
		  AND key IN (SELECT key FROM cache_tags WHERE tag = ?)`,
		deadline, deadline, tag,
	)
	return err
}

func (s *Store) Purge(ctx context.Context) (int, error) {
	now := millis(s.Now())
	var n int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cache_tags
			WHERE key IN (SELECT key FROM cache_entries WHERE expires_at <= ?)`, now,
		); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func millis(t time.Time) int64 { return t.UnixMilli() }
