package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// Key layout
const (
	eventKeyPrefix   = "results:event:"
	timeIndexKey     = "results:index:start_time" // ZSET score=start_time member=event_id
	sportIndexPrefix = "results:index:sport:"     // SET of event ids

	maxTxRetries = 50
	mgetChunk    = 500
)

// RedisStore keeps events in Redis so they survive restarts and can be shared
// with other readers. Equal scores in the time index are ordered by member,
// which gives the event id tie-break for free.
type RedisStore struct {
	client    *redis.Client
	now       func() time.Time
	evictions atomic.Int64
}

var _ contracts.EventStore = (*RedisStore)(nil)

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := applyOptions(opts)
	return &RedisStore{
		client: client,
		now:    o.now,
	}
}

func eventKey(id string) string {
	return eventKeyPrefix + id
}

func sportKey(sport string) string {
	return sportIndexPrefix + fold(sport)
}

// Upsert merges the event under an optimistic WATCH/MULTI transaction
func (s *RedisStore) Upsert(ctx context.Context, event *models.Event) (models.UpsertOutcome, error) {
	key := eventKey(event.EventID)

	var outcome models.UpsertOutcome
	txf := func(tx *redis.Tx) error {
		stored := event.Clone()
		outcome = models.OutcomeCreated

		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("reading event: %w", err)
		default:
			var existing models.Event
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("unmarshaling stored event: %w", err)
			}

			merged, err := models.Merge(&existing, event)
			if err != nil {
				return err
			}
			if merged.Equal(&existing) {
				outcome = models.OutcomeUnchanged
				return nil
			}
			stored = merged
			outcome = models.OutcomeUpdated
		}

		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling event: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if outcome == models.OutcomeCreated {
				pipe.ZAdd(ctx, timeIndexKey, redis.Z{
					Score:  float64(stored.Metadata.StartTime),
					Member: stored.EventID,
				})
				pipe.SAdd(ctx, sportKey(stored.Sport), stored.EventID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // Key changed under us, re-read and merge again
		}
		if errors.Is(err, models.ErrMetadataConflict) {
			return "", err
		}
		return "", fmt.Errorf("upserting event %s: %w", event.EventID, err)
	}

	return "", fmt.Errorf("upserting event %s: gave up after %d contended attempts", event.EventID, maxTxRetries)
}

// Query reads the time index range then fetches and filters the records
func (s *RedisStore) Query(ctx context.Context, filter contracts.Filter) ([]models.Event, error) {
	from, to := filter.Range(s.now())
	fromTS, toTS := from.Unix(), to.Unix()

	ids, err := s.client.ZRangeByScore(ctx, timeIndexKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(fromTS, 10),
		Max: strconv.FormatInt(toTS, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading time index: %w", err)
	}

	// Narrow by the sport set before fetching payloads
	if filter.Sport != "" && len(ids) > 0 {
		members, err := s.client.SMembers(ctx, sportKey(filter.Sport)).Result()
		if err != nil {
			return nil, fmt.Errorf("reading sport index: %w", err)
		}
		inSport := make(map[string]struct{}, len(members))
		for _, m := range members {
			inSport[m] = struct{}{}
		}
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := inSport[id]; ok {
				kept = append(kept, id)
			}
		}
		ids = kept
	}

	m := newMatcher(filter)
	results := make([]models.Event, 0, len(ids))

	for start := 0; start < len(ids); start += mgetChunk {
		end := start + mgetChunk
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, eventKey(id))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("reading events: %w", err)
		}

		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue // Evicted between index read and fetch
			}
			var event models.Event
			if err := json.Unmarshal([]byte(str), &event); err != nil {
				return nil, fmt.Errorf("unmarshaling event: %w", err)
			}
			// Re-created with another start time after the index read
			if event.Metadata.StartTime < fromTS || event.Metadata.StartTime > toTS {
				continue
			}
			if m.match(&event) {
				results = append(results, event)
			}
		}
	}

	return results, nil
}

// EvictExpired removes expired events from the payload keys and both indexes
func (s *RedisStore) EvictExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention).Unix()

	ids, err := s.client.ZRangeByScore(ctx, timeIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("reading expired ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	removed := 0
	for _, id := range ids {
		n, err := s.evictOne(ctx, id, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	s.evictions.Add(int64(removed))
	return removed, nil
}

// evictOne drops one expired event and its index entries. An upsert of the
// same id between the read and the MULTI aborts the transaction and it is retried.
func (s *RedisStore) evictOne(ctx context.Context, id string, cutoff int64) (int, error) {
	key := eventKey(id)

	removed := 0
	txf := func(tx *redis.Tx) error {
		removed = 0

		sport := ""
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("reading event %s: %w", id, err)
		default:
			var event models.Event
			if err := json.Unmarshal(data, &event); err == nil {
				// Re-created with a newer start time since the index scan
				if event.Metadata.StartTime >= cutoff {
					return nil
				}
				sport = event.Sport
			}
		}

		var zrem *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			zrem = pipe.ZRem(ctx, timeIndexKey, id)
			if sport != "" {
				pipe.SRem(ctx, sportKey(sport), id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		removed = int(zrem.Val())
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return removed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return 0, fmt.Errorf("evicting event %s: %w", id, err)
	}

	return 0, fmt.Errorf("evicting event %s: gave up after %d contended attempts", id, maxTxRetries)
}

// Stats returns a diagnostic snapshot of the store
func (s *RedisStore) Stats(ctx context.Context) (contracts.StoreStats, error) {
	stats := contracts.StoreStats{
		Backend:   "redis",
		Evictions: s.evictions.Load(),
	}

	count, err := s.client.ZCard(ctx, timeIndexKey).Result()
	if err != nil {
		return stats, fmt.Errorf("counting events: %w", err)
	}
	stats.Events = int(count)
	if count == 0 {
		return stats, nil
	}

	oldest, err := s.client.ZRangeWithScores(ctx, timeIndexKey, 0, 0).Result()
	if err != nil {
		return stats, fmt.Errorf("reading oldest event: %w", err)
	}
	newest, err := s.client.ZRangeWithScores(ctx, timeIndexKey, -1, -1).Result()
	if err != nil {
		return stats, fmt.Errorf("reading newest event: %w", err)
	}

	if len(oldest) > 0 {
		t := time.Unix(int64(oldest[0].Score), 0).UTC()
		stats.Oldest = &t
	}
	if len(newest) > 0 {
		t := time.Unix(int64(newest[0].Score), 0).UTC()
		stats.Newest = &t
	}

	return stats, nil
}
