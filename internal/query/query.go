package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// DateLayout is the accepted format of from_date / to_date
const DateLayout = "2006-01-02"

// maxWindowHours is the largest hours value representable as a time.Duration
const maxWindowHours = math.MaxInt64 / int64(time.Hour)

// ErrInvalidFilter is matched by every InvalidFilterError
var ErrInvalidFilter = errors.New("invalid filter")

// InvalidFilterError rejects a request before it reaches the store
type InvalidFilterError struct {
	Field  string
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is implements errors.Is support
func (e *InvalidFilterError) Is(target error) bool {
	return target == ErrInvalidFilter
}

// Request is a results query. Hours takes precedence over From/To.
type Request struct {
	Hours   *int
	From    time.Time // Inclusive
	To      time.Time // Inclusive
	Sport   string
	Keyword string
}

// EventView is the response shape of one event
type EventView struct {
	EventID  string       `json:"event_id"`
	Sport    string       `json:"sport"`
	Metadata MetadataView `json:"metadata"`
	State    StateView    `json:"state"`
}

type MetadataView struct {
	CompetitionName string `json:"competition_name"`
	HomeTeam        string `json:"home_team"`
	AwayTeam        string `json:"away_team"`
	StartTime       int64  `json:"start_time"`
}

type StateView struct {
	Scores []models.Score `json:"scores"`
}

// Engine validates requests and runs them against the store
type Engine struct {
	store         contracts.EventStore
	defaultWindow time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewEngine creates a query engine. defaultWindow applies when a request names no range.
func NewEngine(store contracts.EventStore, defaultWindow time.Duration, m *metrics.Metrics) *Engine {
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}
	return &Engine{
		store:         store,
		defaultWindow: defaultWindow,
		metrics:       m,
		now:           time.Now,
	}
}

// WithClock overrides the time source (tests)
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Filter turns a request into a store filter
func (e *Engine) Filter(req Request) (contracts.Filter, error) {
	filter := contracts.Filter{
		Sport:   strings.TrimSpace(req.Sport),
		Keyword: strings.TrimSpace(req.Keyword),
	}

	if req.Hours != nil {
		if *req.Hours <= 0 {
			return filter, &InvalidFilterError{Field: "hours", Reason: "must be a positive integer"}
		}
		if int64(*req.Hours) > maxWindowHours {
			// Longer than a time.Duration can hold; everything since the epoch
			filter.From, filter.To = time.Unix(0, 0).UTC(), e.now()
			return filter, nil
		}
		filter.Window = time.Duration(*req.Hours) * time.Hour
		return filter, nil
	}

	if req.From.IsZero() && req.To.IsZero() {
		filter.Window = e.defaultWindow
		return filter, nil
	}

	from, to := req.From, req.To
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = e.now()
	}
	if from.After(to) {
		return filter, &InvalidFilterError{Field: "from_date", Reason: "must not be after to_date"}
	}
	filter.From, filter.To = from, to

	return filter, nil
}

// Execute runs the request. Results keep the store order.
func (e *Engine) Execute(ctx context.Context, req Request) ([]EventView, error) {
	start := time.Now()

	filter, err := e.Filter(req)
	if err != nil {
		e.metrics.Query("invalid", time.Since(start))
		return nil, err
	}

	events, err := e.store.Query(ctx, filter)
	if err != nil {
		e.metrics.Query("error", time.Since(start))
		return nil, fmt.Errorf("querying store: %w", err)
	}

	views := make([]EventView, 0, len(events))
	for i := range events {
		views = append(views, NewEventView(&events[i]))
	}

	e.metrics.Query("ok", time.Since(start))
	return views, nil
}

// NewEventView maps an event to its response shape
func NewEventView(e *models.Event) EventView {
	scores := e.State.Scores
	if scores == nil {
		scores = []models.Score{}
	}
	return EventView{
		EventID: e.EventID,
		Sport:   e.Sport,
		Metadata: MetadataView{
			CompetitionName: e.Metadata.CompetitionName,
			HomeTeam:        e.Metadata.HomeTeam,
			AwayTeam:        e.Metadata.AwayTeam,
			StartTime:       e.Metadata.StartTime,
		},
		State: StateView{Scores: scores},
	}
}

// ParseDate parses a YYYY-MM-DD day in UTC. endOfDay moves it to the last second of that day.
func ParseDate(field, value string, endOfDay bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	day, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, &InvalidFilterError{Field: field, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", value)}
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Second)
	}
	return day, nil
}
