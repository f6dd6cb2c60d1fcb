package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/store"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

var testNow = time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func mockEvent(id, sport, home, away string, startsAgo time.Duration, scores ...string) *models.Event {
	e := &models.Event{
		EventID: id,
		Sport:   sport,
		Metadata: models.Metadata{
			CompetitionID:   "100",
			CompetitionName: "Italy. Serie A",
			HomeTeam:        home,
			AwayTeam:        away,
			StartTime:       testNow.Add(-startsAgo).Unix(),
		},
		State: models.State{Scores: []models.Score{}},
	}
	for _, s := range scores {
		e.State.Scores = append(e.State.Scores, models.Score{Value: s})
	}
	return e
}

func ids(events []models.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventID)
	}
	return out
}

type storeFactory func(t *testing.T) contracts.EventStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) contracts.EventStore {
			return store.NewMemoryStore(store.WithClock(fixedClock), store.WithShards(4))
		},
		"redis": func(t *testing.T) contracts.EventStore {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return store.NewRedisStore(client, store.WithClock(fixedClock))
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s contracts.EventStore)) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		e := mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, "2-1")

		outcome, err := s.Upsert(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCreated, outcome)

		outcome, err = s.Upsert(ctx, e.Clone())
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeUnchanged, outcome)

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Equal(e))
	})
}

func TestUpsert_MergesState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		e1 := mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, "1-0")
		e2 := mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, "2-0")

		_, err := s.Upsert(ctx, e1)
		require.NoError(t, err)

		outcome, err := s.Upsert(ctx, e2)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeUpdated, outcome)

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []models.Score{{Value: "2-0"}}, got[0].State.Scores)
		assert.Equal(t, e1.Metadata, got[0].Metadata)
	})
}

func TestUpsert_MetadataConflictLeavesRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		original := mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, "1-0")
		collided := mockEvent("e1", "Football", "Juventus", "Inter", 2*time.Hour, "3-3")

		_, err := s.Upsert(ctx, original)
		require.NoError(t, err)

		_, err = s.Upsert(ctx, collided)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrMetadataConflict)

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Equal(original))
	})
}

func TestQuery_TimeWindowAndOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		events := []*models.Event{
			mockEvent("recent", "Football", "A", "B", time.Hour),
			mockEvent("older", "Football", "C", "D", 5*time.Hour),
			mockEvent("tie-b", "Football", "E", "F", 3*time.Hour),
			mockEvent("tie-a", "Football", "G", "H", 3*time.Hour),
			mockEvent("stale", "Football", "I", "J", 30*time.Hour),
			mockEvent("edge", "Football", "K", "L", 24*time.Hour),
		}
		for _, e := range events {
			_, err := s.Upsert(ctx, e)
			require.NoError(t, err)
		}

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
		require.NoError(t, err)
		assert.Equal(t, []string{"edge", "older", "tie-a", "tie-b", "recent"}, ids(got))

		got, err = s.Query(ctx, contracts.Filter{Window: 2 * time.Hour})
		require.NoError(t, err)
		assert.Equal(t, []string{"recent"}, ids(got))
	})
}

func TestQuery_ExplicitRange(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		for _, e := range []*models.Event{
			mockEvent("a", "Tennis", "Nadal", "Federer", 10*time.Hour),
			mockEvent("b", "Tennis", "Alcaraz", "Sinner", 50*time.Hour),
			mockEvent("c", "Tennis", "Djokovic", "Murray", 100*time.Hour),
		} {
			_, err := s.Upsert(ctx, e)
			require.NoError(t, err)
		}

		got, err := s.Query(ctx, contracts.Filter{
			From: testNow.Add(-60 * time.Hour),
			To:   testNow.Add(-20 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(got))
	})
}

func TestQuery_SportAndKeyword(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		juve := mockEvent("juve", "Football", "Juventus", "Inter", time.Hour, "2-1")
		milan := mockEvent("milan", "Football", "Milan", "Roma", 2*time.Hour, "0-0")
		tennis := mockEvent("tennis", "Tennis", "Sinner", "Alcaraz", 3*time.Hour)
		tennis.Metadata.CompetitionName = "ATP. Wimbledon"

		for _, e := range []*models.Event{juve, milan, tennis} {
			_, err := s.Upsert(ctx, e)
			require.NoError(t, err)
		}

		tests := []struct {
			name     string
			filter   contracts.Filter
			expected []string
		}{
			{"keyword matches home team case-insensitively", contracts.Filter{Window: 24 * time.Hour, Keyword: "juventus"}, []string{"juve"}},
			{"keyword matches away team", contracts.Filter{Window: 24 * time.Hour, Keyword: "ROMA"}, []string{"milan"}},
			{"keyword matches competition", contracts.Filter{Window: 24 * time.Hour, Keyword: "wimbledon"}, []string{"tennis"}},
			{"keyword is literal", contracts.Filter{Window: 24 * time.Hour, Keyword: "Ju.*"}, []string{}},
			{"sport is case-insensitive", contracts.Filter{Window: 24 * time.Hour, Sport: "football"}, []string{"milan", "juve"}},
			{"sport must match exactly", contracts.Filter{Window: 24 * time.Hour, Sport: "Foot"}, []string{}},
			{"sport and keyword combine", contracts.Filter{Window: 24 * time.Hour, Sport: "Tennis", Keyword: "juventus"}, []string{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.Query(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, ids(got))
			})
		}
	})
}

func TestQuery_Scenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		_, err := s.Upsert(ctx, mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, "2-1"))
		require.NoError(t, err)

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour, Sport: "Football", Keyword: "juventus"})
		require.NoError(t, err)
		assert.Equal(t, []string{"e1"}, ids(got))

		got, err = s.Query(ctx, contracts.Filter{Window: 24 * time.Hour, Sport: "Tennis"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestEvictExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		for _, e := range []*models.Event{
			mockEvent("fresh", "Football", "A", "B", time.Hour),
			mockEvent("boundary", "Football", "C", "D", 48*time.Hour),
			mockEvent("old", "Football", "E", "F", 49*time.Hour),
			mockEvent("ancient", "Tennis", "G", "H", 400*time.Hour),
		} {
			_, err := s.Upsert(ctx, e)
			require.NoError(t, err)
		}

		removed, err := s.EvictExpired(ctx, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		got, err := s.Query(ctx, contracts.Filter{From: time.Unix(0, 0), To: testNow})
		require.NoError(t, err)
		assert.Equal(t, []string{"boundary", "fresh"}, ids(got))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Events)
		assert.EqualValues(t, 2, stats.Evictions)
		require.NotNil(t, stats.Oldest)
		assert.Equal(t, testNow.Add(-48*time.Hour), *stats.Oldest)

		// Second pass is a no-op
		removed, err = s.EvictExpired(ctx, 48*time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestEvictExpired_ThenReinsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		e := mockEvent("old", "Football", "A", "B", 72*time.Hour, "1-1")

		_, err := s.Upsert(ctx, e)
		require.NoError(t, err)
		_, err = s.EvictExpired(ctx, 48*time.Hour)
		require.NoError(t, err)

		outcome, err := s.Upsert(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeCreated, outcome)

		got, err := s.Query(ctx, contracts.Filter{Window: 96 * time.Hour})
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, ids(got))
	})
}

func TestQuery_ReturnsCopies(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		_, err := s.Upsert(ctx, mockEvent("e1", "Football", "A", "B", time.Hour, "1-0"))
		require.NoError(t, err)

		got, err := s.Query(ctx, contracts.Filter{Window: time.Hour * 2})
		require.NoError(t, err)
		require.Len(t, got, 1)
		got[0].State.Scores[0].Value = "9-9"

		again, err := s.Query(ctx, contracts.Filter{Window: time.Hour * 2})
		require.NoError(t, err)
		assert.Equal(t, "1-0", again[0].State.Scores[0].Value)
	})
}

func TestUpsert_ConcurrentSameID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()

		const (
			writers  = 4
			versions = 25
		)

		version := func(w, v int) *models.Event {
			e := mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, fmt.Sprintf("%d-%d", w, v))
			e.Extra = map[string]string{"results": fmt.Sprintf("%d-%d", w, v)}
			return e
		}

		_, err := s.Upsert(ctx, version(0, 0))
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			stop    = make(chan struct{})
			readErr = make(chan error, 1)
		)

		// Readers must only ever see a whole record: score and extras from the same write
		var readers sync.WaitGroup
		for r := 0; r < 2; r++ {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
					if err != nil {
						select {
						case readErr <- err:
						default:
						}
						return
					}
					for _, e := range got {
						if len(e.State.Scores) != 1 || e.State.Scores[0].Value != e.Extra["results"] {
							select {
							case readErr <- fmt.Errorf("torn record: %+v", e):
							default:
							}
							return
						}
					}
				}
			}()
		}

		for w := 1; w <= writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for v := 1; v <= versions; v++ {
					_, err := s.Upsert(ctx, version(w, v))
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		// Every writer's last version is a valid final state
		last := version(writers, versions)
		_, err = s.Upsert(ctx, last)
		require.NoError(t, err)

		close(stop)
		readers.Wait()

		select {
		case err := <-readErr:
			t.Fatal(err)
		default:
		}

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Equal(last))
	})
}

func TestUpsert_ConcurrentConflictsKeepRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()
		original := mockEvent("e1", "Football", "Juventus", "Inter", time.Hour, "2-1")

		_, err := s.Upsert(ctx, original)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			conflicts atomic.Int64
		)
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for v := 0; v < 10; v++ {
					e := mockEvent("e1", "Football", fmt.Sprintf("Team %d", w), "Inter", time.Hour, "9-9")
					_, err := s.Upsert(ctx, e)
					if errors.Is(err, models.ErrMetadataConflict) {
						conflicts.Add(1)
					}
				}
			}(w)
		}
		wg.Wait()

		assert.EqualValues(t, 80, conflicts.Load())

		got, err := s.Query(ctx, contracts.Filter{Window: 24 * time.Hour})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Equal(original))
	})
}

func TestEvictExpired_ConcurrentWithUpserts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s contracts.EventStore) {
		ctx := context.Background()

		for i := 0; i < 20; i++ {
			_, err := s.Upsert(ctx, mockEvent(fmt.Sprintf("old-%02d", i), "Football", "A", "B", 72*time.Hour))
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := s.Upsert(ctx, mockEvent(fmt.Sprintf("new-%02d", i), "Football", "A", "B", time.Hour))
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := s.EvictExpired(ctx, 48*time.Hour)
			assert.NoError(t, err)
		}()
		wg.Wait()

		_, err := s.EvictExpired(ctx, 48*time.Hour)
		require.NoError(t, err)

		got, err := s.Query(ctx, contracts.Filter{Window: 7 * 24 * time.Hour})
		require.NoError(t, err)
		assert.Len(t, got, 20)
		for _, e := range got {
			assert.Contains(t, e.EventID, "new-")
		}
	})
}
