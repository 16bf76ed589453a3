// Package cache holds the gateway's tagged response cache and the dispatcher
// that invalidates its partitions after successful mutations.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/gateway/pkg/slogx"
)

const DefaultMaxStale = 5 * time.Second

// Bus fans invalidations out to other gateway replicas.
type Bus interface {
	Publish(ctx context.Context, t Target) error
}

// Dispatcher applies revalidation targets to a Store.
type Dispatcher struct {
	Store    Store
	Bus      Bus
	MaxStale time.Duration
}

func NewDispatcher(store Store, bus Bus, maxStale time.Duration) *Dispatcher {
	if maxStale <= 0 {
		maxStale = DefaultMaxStale
	}
	return &Dispatcher{Store: store, Bus: bus, MaxStale: maxStale}
}

// Invalidate resolves tags against payload and applies every target with a
// non-blank tag. Callers invoke it only after a successful backend response.
func (d *Dispatcher) Invalidate(ctx context.Context, payload any, tags Tags) error {
	if tags == nil {
		return nil
	}

	var errs []error
	for _, t := range tags.Resolve(payload) {
		t.Tag = strings.TrimSpace(t.Tag)
		if t.Tag == "" {
			continue
		}
		t.Strategy = t.Strategy.Normalize()

		if err := d.Apply(ctx, t); err != nil {
			errs = append(errs, err)
			continue
		}
		if d.Bus != nil {
			if err := d.Bus.Publish(ctx, t); err != nil {
				errs = append(errs, fmt.Errorf("publish %q: %w", t.Tag, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Apply invalidates one target in the local store only.
func (d *Dispatcher) Apply(ctx context.Context, t Target) error {
	if d.Store == nil {
		return nil
	}

	slogx.FromContext(ctx).Debug("cache invalidate", "tag", t.Tag, "strategy", t.Strategy)

	if t.Strategy.Normalize().Immediate() {
		if err := d.Store.ExpireTag(ctx, t.Tag); err != nil {
			return fmt.Errorf("expire %q: %w", t.Tag, err)
		}
		return nil
	}

	maxStale := d.MaxStale
	if maxStale <= 0 {
		maxStale = DefaultMaxStale
	}
	if err := d.Store.MarkStale(ctx, t.Tag, maxStale); err != nil {
		return fmt.Errorf("mark stale %q: %w", t.Tag, err)
	}
	return nil
}
