package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/booker/internal/validation"
)

// Publisher delivers announcement events to Redis: each event is pushed to
// the head of a list (durable hand-off to notification workers) and published
// on a channel (best-effort live fan-out).
type Publisher struct {
	client   *redis.Client
	queueKey string
	channel  string
}

// NewPublisher creates a publisher writing to queueKey and channel.
func NewPublisher(client *redis.Client, queueKey, channel string) *Publisher {
	validation.AssertNotNil(client, "redis client")
	if queueKey == "" || channel == "" {
		panic("broker: queue key and channel are required")
	}
	return &Publisher{client: client, queueKey: queueKey, channel: channel}
}

// Publish sends the events in one MULTI/EXEC block, so a batch is queued
// entirely or not at all.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	payloads := make([][]byte, len(events))
	for i, e := range events {
		b, err := e.Encode()
		if err != nil {
			return err
		}
		payloads[i] = b
	}

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, b := range payloads {
			pipe.LPush(ctx, p.queueKey, b)
			pipe.Publish(ctx, p.channel, b)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d events: %w", len(events), err)
	}
	return nil
}

// QueueDepth returns the number of events waiting in the queue.
func (p *Publisher) QueueDepth(ctx context.Context) (int64, error) {
	n, err := p.client.LLen(ctx, p.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return n, nil
}
