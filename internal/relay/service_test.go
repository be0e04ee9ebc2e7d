package relay_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/booker/internal/broker"
	"github.com/rafaeljc/booker/internal/config"
	"github.com/rafaeljc/booker/internal/relay"
	"github.com/rafaeljc/booker/internal/store"
	"github.com/rafaeljc/booker/internal/store/storetest"
	"github.com/rafaeljc/booker/internal/testsupport"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []broker.Event
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, events ...broker.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, events...)
	return nil
}

func (p *fakePublisher) QueueDepth(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.published)), nil
}

func (p *fakePublisher) events() []broker.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broker.Event(nil), p.published...)
}

func (p *fakePublisher) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func newRelay(t *testing.T, st store.Store, pub relay.Publisher, batch int) *relay.Service {
	t.Helper()
	cfg := config.RelayConfig{
		Interval:       10 * time.Millisecond,
		BatchSize:      batch,
		DedupeTTL:      time.Minute,
		DedupeCapacity: 100,
	}
	svc, err := relay.New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, st, pub)
	require.NoError(t, err)
	return svc
}

func announce(t *testing.T, st *storetest.Memory, title string, target null.Int) store.Announcement {
	t.Helper()
	a := store.Announcement{
		Title:        title,
		Message:      "Room changed",
		CourseName:   "Databases",
		SenderName:   "Registrar",
		TargetUserID: target,
	}
	require.NoError(t, st.CreateAnnouncement(context.Background(), &a))
	return a
}

func pending(st *storetest.Memory) int {
	n := 0
	for _, a := range st.Announcements() {
		if !a.DispatchedAt.Valid {
			n++
		}
	}
	return n
}

func TestNew_PanicsOnMissingDependencies(t *testing.T) {
	assert.Panics(t, func() { _, _ = relay.New(nil, config.RelayConfig{}, nil, &fakePublisher{}) })
	assert.Panics(t, func() { _, _ = relay.New(nil, config.RelayConfig{}, storetest.NewMemory(), nil) })
}

func TestDispatchBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes in outbox order and marks dispatched", func(t *testing.T) {
		st := storetest.NewMemory()
		pub := &fakePublisher{}
		first := announce(t, st, "Class cancelled", null.IntFrom(7))
		second := announce(t, st, "Class rescheduled", null.Int{})

		n, err := newRelay(t, st, pub, 10).DispatchBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		events := pub.events()
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[0].AnnouncementID)
		assert.Equal(t, second.ID, events[1].AnnouncementID)
		assert.Equal(t, null.IntFrom(7), events[0].TargetUserID)
		assert.False(t, events[1].TargetUserID.Valid)
		assert.Equal(t, 0, pending(st))
	})

	t.Run("respects batch size", func(t *testing.T) {
		st := storetest.NewMemory()
		pub := &fakePublisher{}
		for range 3 {
			announce(t, st, "Class cancelled", null.Int{})
		}

		n, err := newRelay(t, st, pub, 2).DispatchBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, pending(st))
	})

	t.Run("empty outbox is a no-op", func(t *testing.T) {
		pub := &fakePublisher{}
		n, err := newRelay(t, storetest.NewMemory(), pub, 10).DispatchBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, pub.events())
	})

	t.Run("publish failure leaves the batch pending", func(t *testing.T) {
		st := storetest.NewMemory()
		pub := &fakePublisher{}
		pub.failWith(errors.New("connection refused"))
		announce(t, st, "Class cancelled", null.Int{})

		testsupport.AssertMetricDelta(t, "booker_relay_jobs_total", map[string]string{"status": "fail"}, 1, func() {
			_, err := newRelay(t, st, pub, 10).DispatchBatch(ctx)
			require.Error(t, err)
		})
		assert.Equal(t, 1, pending(st))
	})

	t.Run("failed mark does not publish twice", func(t *testing.T) {
		st := storetest.NewMemory()
		pub := &fakePublisher{}
		a := announce(t, st, "Class cancelled", null.Int{})
		svc := newRelay(t, st, pub, 10)

		st.FailOn("MarkAnnouncementsDispatched", errors.New("deadlock detected"))
		_, err := svc.DispatchBatch(ctx)
		require.Error(t, err)
		require.Len(t, pub.events(), 1)
		assert.Equal(t, 1, pending(st))

		st.FailOn("MarkAnnouncementsDispatched", nil)
		testsupport.AssertMetricDelta(t, "booker_relay_jobs_total", map[string]string{"status": "duplicate"}, 1, func() {
			n, err := svc.DispatchBatch(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})

		assert.Len(t, pub.events(), 1)
		assert.Equal(t, a.ID, pub.events()[0].AnnouncementID)
		assert.Equal(t, 0, pending(st))
	})

	t.Run("claim failure surfaces", func(t *testing.T) {
		st := storetest.NewMemory()
		st.FailOn("ClaimAnnouncements", errors.New("connection reset"))
		_, err := newRelay(t, st, &fakePublisher{}, 10).DispatchBatch(ctx)
		require.Error(t, err)
	})
}

func TestRun_DrainsUntilCancelled(t *testing.T) {
	st := storetest.NewMemory()
	pub := &fakePublisher{}
	for range 5 {
		announce(t, st, "Class cancelled", null.Int{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newRelay(t, st, pub, 2)
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.events()) == 5 }, 2*time.Second, 10*time.Millisecond)

	// Announcements created while running are picked up on a later tick.
	announce(t, st, "Class rescheduled", null.Int{})
	require.Eventually(t, func() bool { return len(pub.events()) == 6 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}

	assert.Equal(t, 0, pending(st))
	assert.InDelta(t, 0, testsupport.GetMetricValue(t, "booker_relay_backlog", nil), 0)
}
