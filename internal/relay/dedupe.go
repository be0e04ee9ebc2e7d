package relay

import (
	"time"

	"github.com/maypok86/otter"
)

// seenSet remembers announcement ids that reached Redis. It is bounded by
// capacity (S3-FIFO eviction) and every entry expires after ttl.
type seenSet struct {
	ids otter.Cache[int64, struct{}]
}

func newSeenSet(capacity int, ttl time.Duration) (*seenSet, error) {
	c, err := otter.MustBuilder[int64, struct{}](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &seenSet{ids: c}, nil
}

func (s *seenSet) Seen(id int64) bool {
	return s.ids.Has(id)
}

func (s *seenSet) Add(id int64) {
	s.ids.Set(id, struct{}{})
}

func (s *seenSet) Len() int {
	return s.ids.Size()
}

func (s *seenSet) Close() {
	s.ids.Close()
}
