package contracts

import (
	"context"
	"time"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// EventStore is the time-indexed cache of events shared by the scheduler (writer)
// and the query engine (readers)
type EventStore interface {
	// Upsert inserts or merges an event by id, atomically per id
	Upsert(ctx context.Context, event *models.Event) (models.UpsertOutcome, error)

	// Query returns events in the filter's time range, ordered by start time then id
	Query(ctx context.Context, filter Filter) ([]models.Event, error)

	// EvictExpired removes events that started before now-retention
	EvictExpired(ctx context.Context, retention time.Duration) (int, error)

	// Stats returns a diagnostic snapshot
	Stats(ctx context.Context) (StoreStats, error)
}

// Filter selects events from the store.
// Window is used when From/To are zero; From/To are inclusive.
type Filter struct {
	Window  time.Duration
	From    time.Time
	To      time.Time
	Sport   string // Exact, case-insensitive
	Keyword string // Literal substring of teams or competition, case-insensitive
}

// StoreStats is a diagnostic view of the store
type StoreStats struct {
	Backend   string     `json:"backend"`
	Events    int        `json:"events"`
	Oldest    *time.Time `json:"oldest,omitempty"`
	Newest    *time.Time `json:"newest,omitempty"`
	Evictions int64      `json:"evictions"`
}

// Range resolves the filter to an inclusive [from, to] range relative to now
func (f Filter) Range(now time.Time) (time.Time, time.Time) {
	if !f.From.IsZero() || !f.To.IsZero() {
		to := f.To
		if to.IsZero() {
			to = now
		}
		return f.From, to
	}
	return now.Add(-f.Window), now
}
