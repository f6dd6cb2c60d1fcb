package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

const (
	DefaultShards = 32
	btreeDegree   = 32
)

// indexKey orders events by start time, ties broken by id
type indexKey struct {
	start int64
	id    string
}

func lessIndexKey(a, b indexKey) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	return a.id < b.id
}

type shard struct {
	mu     sync.RWMutex
	events map[string]*models.Event // Stored snapshots are never mutated in place
}

// MemoryStore is an in-process event store.
// Events live in shards keyed by id hash; a B-tree over (start_time, id)
// serves range scans. Lock order is shard then index.
type MemoryStore struct {
	shards []*shard

	indexMu sync.RWMutex
	index   *btree.BTreeG[indexKey]

	now       func() time.Time
	evictions atomic.Int64
}

var _ contracts.EventStore = (*MemoryStore)(nil)

// Option configures a store
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the number of id shards of the memory store
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{shards: DefaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)

	shards := make([]*shard, o.shards)
	for i := range shards {
		shards[i] = &shard{events: make(map[string]*models.Event)}
	}

	return &MemoryStore{
		shards: shards,
		index:  btree.NewG[indexKey](btreeDegree, lessIndexKey),
		now:    o.now,
	}
}

func (s *MemoryStore) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Upsert inserts a new event or merges it into the stored one
func (s *MemoryStore) Upsert(_ context.Context, event *models.Event) (models.UpsertOutcome, error) {
	sh := s.shardFor(event.EventID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	existing, ok := sh.events[event.EventID]
	if !ok {
		sh.events[event.EventID] = event.Clone()

		s.indexMu.Lock()
		s.index.ReplaceOrInsert(indexKey{start: event.Metadata.StartTime, id: event.EventID})
		s.indexMu.Unlock()

		return models.OutcomeCreated, nil
	}

	merged, err := models.Merge(existing, event)
	if err != nil {
		return "", err
	}

	if merged.Equal(existing) {
		return models.OutcomeUnchanged, nil
	}

	// Swap the snapshot; readers holding the old pointer still see a whole record
	sh.events[event.EventID] = merged
	return models.OutcomeUpdated, nil
}

// Query returns events in the filter range, ascending by start time then id
func (s *MemoryStore) Query(ctx context.Context, filter contracts.Filter) ([]models.Event, error) {
	from, to := filter.Range(s.now())
	fromTS, toTS := from.Unix(), to.Unix()

	var keys []indexKey
	s.indexMu.RLock()
	s.index.AscendGreaterOrEqual(indexKey{start: fromTS}, func(k indexKey) bool {
		if k.start > toTS {
			return false
		}
		keys = append(keys, k)
		return true
	})
	s.indexMu.RUnlock()

	m := newMatcher(filter)
	results := make([]models.Event, 0, len(keys))

	for i, k := range keys {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		sh := s.shardFor(k.id)
		sh.mu.RLock()
		event := sh.events[k.id]
		sh.mu.RUnlock()

		// Evicted (or evicted and re-created) between the index scan and the lookup
		if event == nil || event.Metadata.StartTime != k.start {
			continue
		}

		if m.match(event) {
			results = append(results, *event.Clone())
		}
	}

	return results, nil
}

// EvictExpired removes events whose start time is older than now-retention
func (s *MemoryStore) EvictExpired(_ context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention).Unix()

	var expired []indexKey
	s.indexMu.RLock()
	s.index.AscendLessThan(indexKey{start: cutoff}, func(k indexKey) bool {
		expired = append(expired, k)
		return true
	})
	s.indexMu.RUnlock()

	removed := 0
	for _, k := range expired {
		sh := s.shardFor(k.id)

		sh.mu.Lock()
		if event, ok := sh.events[k.id]; ok && event.Metadata.StartTime < cutoff {
			delete(sh.events, k.id)
			removed++
		}
		s.indexMu.Lock()
		s.index.Delete(k)
		s.indexMu.Unlock()
		sh.mu.Unlock()
	}

	s.evictions.Add(int64(removed))
	return removed, nil
}

// Get returns a copy of one stored event
func (s *MemoryStore) Get(id string) (*models.Event, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	event, ok := sh.events[id]
	if !ok {
		return nil, false
	}
	return event.Clone(), true
}

// Len returns the number of stored events
func (s *MemoryStore) Len() int {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.index.Len()
}

// Stats returns a diagnostic snapshot of the store
func (s *MemoryStore) Stats(_ context.Context) (contracts.StoreStats, error) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	stats := contracts.StoreStats{
		Backend:   "memory",
		Events:    s.index.Len(),
		Evictions: s.evictions.Load(),
	}

	if k, ok := s.index.Min(); ok {
		t := time.Unix(k.start, 0).UTC()
		stats.Oldest = &t
	}
	if k, ok := s.index.Max(); ok {
		t := time.Unix(k.start, 0).UTC()
		stats.Newest = &t
	}

	return stats, nil
}
