package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortuna/scoreline/internal/events"
)

// DefaultStream receives every broadcast event envelope.
const DefaultStream = "matches.events"

// DefaultMaxLen caps the stream length (approximate trimming).
const DefaultMaxLen = 10000

// RedisStreamPublisher mirrors broadcast events onto a Redis stream for other
// services.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64

	Now func() time.Time
}

// NewRedisStreamPublisher creates a publisher on an existing client. An
// empty stream name selects DefaultStream.
func NewRedisStreamPublisher(client *redis.Client, stream string) *RedisStreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamPublisher{
		client: client,
		stream: stream,
		maxLen: DefaultMaxLen,
		Now:    time.Now,
	}
}

// Stream returns the target stream name.
func (p *RedisStreamPublisher) Stream() string {
	return p.stream
}

// FanOut appends the event envelope to the stream.
func (p *RedisStreamPublisher) FanOut(ctx context.Context, ev events.Event) error {
	now := p.Now()
	data, err := events.Encode(ev, now)
	if err != nil {
		return err
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":      string(ev.Type()),
			"match_id":  ev.MatchID(),
			"data":      string(data),
			"timestamp": now.Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
