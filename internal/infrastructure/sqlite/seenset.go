package sqlite

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/johnperry/ISN/internal/domain"
)

const seenBucket = "seensets"

// seenCacheSize bounds the in-memory front of the seen-set. Entries
// past the cap fall back to the durable store.
const seenCacheSize = 4096

// SeenSet implements [domain.SeenSet]: a durable record of processed
// submission-set IDs with an expiring in-memory front cache.
//
// AcceptAlways disables the filter for reprocessing runs: Seen reports
// false for every ID while Record keeps writing through, so the set is
// intact when the flag is turned off again.
type SeenSet struct {
	Store        *Store
	AcceptAlways bool

	cache *lru.LRU[string, struct{}]
}

// NewSeenSet builds a seen-set over the store. Front-cache entries
// expire after ttl; zero means no expiry.
func NewSeenSet(store *Store, acceptAlways bool, ttl time.Duration) *SeenSet {
	return &SeenSet{
		Store:        store,
		AcceptAlways: acceptAlways,
		cache:        lru.NewLRU[string, struct{}](seenCacheSize, nil, ttl),
	}
}

func (s *SeenSet) Seen(ctx context.Context, id string) (bool, error) {
	if s.AcceptAlways {
		return false, nil
	}
	if _, ok := s.cache.Get(id); ok {
		return true, nil
	}
	_, err := s.Store.Get(ctx, seenBucket, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.cache.Add(id, struct{}{})
	return true, nil
}

// Record stores the first-seen timestamp for id.
func (s *SeenSet) Record(ctx context.Context, id string) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	if err := s.Store.Put(ctx, seenBucket, id, []byte(ts)); err != nil {
		return err
	}
	s.cache.Add(id, struct{}{})
	return nil
}

func (s *SeenSet) Close() error {
	return s.Store.Close()
}
