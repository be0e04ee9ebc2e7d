package config

import "time"

// RelayConfig configures the announcement outbox relay worker.
type RelayConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"false"`

	// Interval between two polls of the outbox when the previous poll was empty.
	Interval time.Duration `envconfig:"INTERVAL" default:"2s" validate:"gt=0"`

	// BatchSize is the maximum number of announcements claimed per poll.
	BatchSize int `envconfig:"BATCH_SIZE" default:"100" validate:"min=1,max=10000"`

	// QueueKey is the Redis list announcements are pushed to.
	QueueKey string `envconfig:"QUEUE_KEY" default:"booker:announcements" validate:"required"`

	// Channel is the Redis pub/sub channel announcements are published on.
	Channel string `envconfig:"CHANNEL" default:"booker:announcements:live" validate:"required"`

	// DedupeTTL is how long a published announcement id is remembered, so a
	// batch whose dispatch mark failed is not published twice.
	DedupeTTL      time.Duration `envconfig:"DEDUPE_TTL" default:"10m" validate:"gt=0"`
	DedupeCapacity int           `envconfig:"DEDUPE_CAPACITY" default:"10000" validate:"min=1"`
}
