// Package natsbus fans cache invalidations out to other gateway replicas
// over NATS, so a mutation through one replica evicts the same tags on all
// of them.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/gateway/internal/gateway/cache"
	"github.com/nats-io/nats.go"
)

const DefaultSubject = "gateway.cache.invalidate"

// Message is the wire form of one invalidation.
type Message struct {
	Tag      string         `json:"tag"`
	Strategy cache.Strategy `json:"strategy"`
	Origin   string         `json:"origin"`
}

// Applier applies a peer's invalidation to the local store only.
type Applier interface {
	Apply(ctx context.Context, t cache.Target) error
}

// Conn is the part of *nats.Conn the bus uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Bus struct {
	conn    Conn
	subject string
	origin  string
	logger  *slog.Logger
	sub     *nats.Subscription
}

var _ cache.Bus = (*Bus)(nil)

// New returns a bus that tags its messages with origin and drops incoming
// messages carrying the same origin.
func New(conn Conn, subject, origin string, logger *slog.Logger) *Bus {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Bus{conn: conn, subject: subject, origin: origin, logger: logger}
}

func (b *Bus) Publish(_ context.Context, t cache.Target) error {
	data, err := json.Marshal(Message{Tag: t.Tag, Strategy: t.Strategy, Origin: b.origin})
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe starts applying peers' invalidations through a.
func (b *Bus) Subscribe(a Applier) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		if err := b.Handle(context.Background(), a, msg.Data); err != nil {
			b.logger.Warn("cache invalidation from peer failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	b.logger.Info("cache invalidation bus subscribed", "subject", b.subject, "origin", b.origin)
	return nil
}

// Handle decodes and applies one message.
func (b *Bus) Handle(ctx context.Context, a Applier, data []byte) error {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode invalidation: %w", err)
	}
	if m.Origin == b.origin {
		return nil
	}
	tag := strings.TrimSpace(m.Tag)
	if tag == "" {
		return nil
	}
	return a.Apply(ctx, cache.Target{Tag: tag, Strategy: m.Strategy.Normalize()})
}

func (b *Bus) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}
