// Package push consumes the provider's live push feed from NATS and hands
// each payload to the reconciler.
package push

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/reconcile"
)

// QueueGroup spreads messages across replicas.
const QueueGroup = "scoreline"

// Applier applies one parsed push payload.
type Applier interface {
	ApplyPush(ctx context.Context, lm provider.LiveMatch) (reconcile.MatchOutcome, error)
}

// Stats counts processed messages.
type Stats struct {
	Received  int64 `json:"received"`
	Applied   int64 `json:"applied"`
	Malformed int64 `json:"malformed"`
	Failed    int64 `json:"failed"`
}

// Consumer subscribes to the push subject. Serve satisfies suture.Service.
type Consumer struct {
	url     string
	subject string
	applier Applier
	log     zerolog.Logger

	received  atomic.Int64
	applied   atomic.Int64
	malformed atomic.Int64
	failed    atomic.Int64

	Now func() time.Time
}

// NewConsumer creates a consumer for subject on the NATS server at url.
func NewConsumer(url, subject string, applier Applier) *Consumer {
	return &Consumer{
		url:     url,
		subject: subject,
		applier: applier,
		log:     logging.Component("push"),
		Now:     time.Now,
	}
}

// Serve connects, subscribes and processes messages until ctx is cancelled.
func (c *Consumer) Serve(ctx context.Context) error {
	nc, err := nats.Connect(c.url,
		nats.Name("scoreline-push"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 256)
	sub, err := nc.ChanQueueSubscribe(c.subject, QueueGroup, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}

	c.log.Info().Str("subject", c.subject).Str("queue", QueueGroup).Msg("push consumer subscribed")

	for {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
			if err := nc.Drain(); err != nil {
				c.log.Warn().Err(err).Msg("nats drain")
			}
			return ctx.Err()
		case msg := <-msgs:
			if err := c.Handle(ctx, msg.Data); err != nil {
				c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("push message rejected")
			}
		}
	}
}

// Handle parses one payload and applies it. Malformed payloads are counted
// and returned as errors wrapping provider.ErrMalformed.
func (c *Consumer) Handle(ctx context.Context, data []byte) error {
	c.received.Add(1)

	lm, err := provider.ParseMatch(data, c.Now())
	if err != nil {
		c.malformed.Add(1)
		return err
	}

	out, err := c.applier.ApplyPush(ctx, lm)
	if err != nil {
		c.failed.Add(1)
		return fmt.Errorf("apply push for %s: %w", lm.ID, err)
	}

	c.applied.Add(1)
	c.log.Debug().Str("match_id", lm.ID).Str("outcome", string(out.Status)).Strs("events", out.Events).Msg("push applied")
	return nil
}

// Stats returns message counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Applied:   c.applied.Load(),
		Malformed: c.malformed.Load(),
		Failed:    c.failed.Load(),
	}
}
