package publisher

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/fortuna/scoreline/internal/events"
)

func TestNewRedisStreamPublisherDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	assert.Equal(t, DefaultStream, NewRedisStreamPublisher(client, "").Stream())
	assert.Equal(t, "custom", NewRedisStreamPublisher(client, "custom").Stream())
}

func TestFanOutRejectsUnknownEvent(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	err := NewRedisStreamPublisher(client, "").FanOut(context.Background(), nil)
	assert.ErrorIs(t, err, events.ErrUnknownEvent)
}
