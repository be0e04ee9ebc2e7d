// Package relay implements the background worker that moves announcements
// from the PostgreSQL outbox to the Redis broker.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rafaeljc/booker/internal/broker"
	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/observability"
	"github.com/rafaeljc/booker/internal/store"
)

// Publisher is the broker side of the relay.
type Publisher interface {
	Publish(ctx context.Context, events ...broker.Event) error
	QueueDepth(ctx context.Context) (int64, error)
}

// Service drains the outbox. Announcements are claimed with row locks,
// published, and marked dispatched in the same transaction, so several relays
// can run side by side.
type Service struct {
	logger *slog.Logger
	config config.RelayConfig
	store  store.Store
	pub    Publisher
	seen   *seenSet
}

// New creates a relay. It panics on missing dependencies.
func New(logger *slog.Logger, cfg config.RelayConfig, st store.Store, pub Publisher) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		panic("relay: store cannot be nil")
	}
	if pub == nil {
		panic("relay: publisher cannot be nil")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.DedupeCapacity < 1 {
		cfg.DedupeCapacity = 10000
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}

	seen, err := newSeenSet(cfg.DedupeCapacity, cfg.DedupeTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to build dedupe cache: %w", err)
	}

	return &Service{
		logger: logger,
		config: cfg,
		store:  st,
		pub:    pub,
		seen:   seen,
	}, nil
}

// Run polls the outbox until ctx is cancelled. A full batch is followed
// immediately by the next one; an empty or partial batch waits one interval.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting relay service",
		slog.String("interval", s.config.Interval.String()),
		slog.Int("batch_size", s.config.BatchSize),
	)
	defer s.seen.Close()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.drain(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("relay service stopping...")
			return nil
		case <-ticker.C:
		}
	}
}

// drain dispatches batches until one comes back short.
func (s *Service) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := s.DispatchBatch(ctx)
		s.observeBacklog(ctx)
		if err != nil {
			// Retried on next tick.
			s.logger.Error("relay cycle failed", slog.String("error", err.Error()))
			return
		}
		if n < s.config.BatchSize {
			return
		}
	}
}

// DispatchBatch claims one batch and returns how many announcements it
// handled, including ones skipped as already published.
func (s *Service) DispatchBatch(ctx context.Context) (int, error) {
	start := time.Now()
	var handled, published, duplicates int

	err := s.store.InTx(ctx, func(q store.Queries) error {
		claimed, err := q.ClaimAnnouncements(ctx, uint64(s.config.BatchSize))
		if err != nil {
			return err
		}
		handled = len(claimed)
		if handled == 0 {
			return nil
		}

		ids := make([]int64, 0, len(claimed))
		events := make([]broker.Event, 0, len(claimed))
		for _, a := range claimed {
			ids = append(ids, a.ID)
			if s.seen.Seen(a.ID) {
				duplicates++
				continue
			}
			events = append(events, broker.NewEvent(a))
		}

		if err := s.pub.Publish(ctx, events...); err != nil {
			observability.RelayJobsTotal.WithLabelValues("fail").Add(float64(len(events)))
			return err
		}

		now := time.Now()
		for _, e := range events {
			s.seen.Add(e.AnnouncementID)
			observability.RelayJobDuration.Observe(now.Sub(e.CreatedAt).Seconds())
		}
		published = len(events)

		return q.MarkAnnouncementsDispatched(ctx, ids)
	})

	observability.RelayJobsTotal.WithLabelValues("success").Add(float64(published))
	observability.RelayJobsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	observability.RelayDedupeEntries.Set(float64(s.seen.Len()))

	if err != nil {
		return 0, err
	}
	if handled > 0 {
		s.logger.Info("relay batch dispatched",
			slog.Int("published", published),
			slog.Int("duplicates", duplicates),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return handled, nil
}

func (s *Service) observeBacklog(ctx context.Context) {
	if n, err := s.store.CountPendingAnnouncements(ctx); err == nil {
		observability.RelayBacklog.Set(float64(n))
	} else {
		s.logger.Warn("failed to count pending announcements", slog.String("error", err.Error()))
	}
	if n, err := s.pub.QueueDepth(ctx); err == nil {
		observability.RedisQueueDepth.Set(float64(n))
	} else {
		s.logger.Warn("failed to read queue depth", slog.String("error", err.Error()))
	}
}
