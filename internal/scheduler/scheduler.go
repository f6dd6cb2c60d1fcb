package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/retry"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// State of the scrape loop
type State string

const (
	StateStopped     State = "STOPPED"
	StateIdle        State = "IDLE"
	StateFetching    State = "FETCHING"
	StateReconciling State = "RECONCILING"
	StateBackoff     State = "BACKOFF"
)

// ErrCycleInProgress is returned by RunOnce while another cycle is running
var ErrCycleInProgress = errors.New("scrape cycle already in progress")

// errStopped marks a fetch interrupted by Stop; it is not a failure
var errStopped = errors.New("scheduler stopped")

// Config holds the loop timings
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	Backoff   retry.Backoff
}

// CycleStats summarises one scrape cycle
type CycleStats struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
	Fetched     int           `json:"fetched"`
	Parsed      int           `json:"parsed"`
	ParseErrors int           `json:"parse_errors"`
	Invalid     int           `json:"invalid"`
	LiveSkipped int           `json:"live_skipped"`
	Created     int           `json:"created"`
	Updated     int           `json:"updated"`
	Unchanged   int           `json:"unchanged"`
	Conflicts   int           `json:"conflicts"`
	StoreErrors int           `json:"store_errors"`
	SinkErrors  int           `json:"sink_errors"`
	Evicted     int           `json:"evicted"`
}

// Status is a snapshot of the scheduler
type Status struct {
	State               State       `json:"state"`
	Running             bool        `json:"running"`
	LastSuccessTime     *time.Time  `json:"last_success_time"`
	LastError           string      `json:"last_error,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	BackoffUntil        *time.Time  `json:"backoff_until,omitempty"`
	Cycles              int64       `json:"cycles"`
	SkippedTicks        int64       `json:"skipped_ticks"`
	Interval            string      `json:"interval"`
	Retention           string      `json:"retention"`
	LastCycle           *CycleStats `json:"last_cycle,omitempty"`
}

// Scheduler drives fetch, parse, reconcile and evict cycles against a store
type Scheduler struct {
	source  contracts.Source
	store   contracts.EventStore
	sinks   []contracts.Sink
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	// lifeMu serializes Start and Stop, including the wait for the loop
	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// inFlight guarantees at most one cycle at a time
	inFlight atomic.Bool

	mu           sync.Mutex
	active       bool // mirrors running for readers of mu
	state        State
	lastSuccess  time.Time
	lastError    string
	failures     int
	backoffUntil time.Time
	cycles       int64
	skippedTicks int64
	lastCycle    *CycleStats
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSinks registers sinks notified of created and updated events
func WithSinks(sinks ...contracts.Sink) Option {
	return func(s *Scheduler) { s.sinks = append(s.sinks, sinks...) }
}

// WithMetrics records cycle metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source used for status timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped scheduler
func New(source contracts.Source, store contracts.EventStore, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
		state:  StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "scheduler").Str("source", source.Name()).Logger()
	return s
}

// Start launches the loop. Calling it while running is a no-op.
func (s *Scheduler) Start() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.running {
		select {
		case <-s.done:
			// The loop died on a panic; clear it and start over
			s.cancel()
		default:
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.mu.Lock()
	s.active = true
	s.state = StateIdle
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Starting scheduler")
	go s.loop(ctx, s.done)
}

// Stop cancels an in-flight fetch, lets a running reconciliation finish and
// waits for the loop to exit. Safe to call in any state.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	<-s.done

	s.running = false
	s.cancel = nil
	s.done = nil

	s.mu.Lock()
	s.active = false
	s.state = StateStopped
	s.backoffUntil = time.Time{}
	s.mu.Unlock()

	s.logger.Info().Msg("Scheduler stopped")
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.running {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// RunOnce runs a single cycle now. The fetch honours ctx; reconciliation of
// a fetched batch always completes.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleStats, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer s.inFlight.Store(false)

	stats, err := s.cycle(ctx)
	if errors.Is(err, errStopped) {
		return stats, ctx.Err()
	}
	return stats, err
}

// Status returns a snapshot of the scheduler state
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:               s.state,
		Running:             s.active,
		LastError:           s.lastError,
		ConsecutiveFailures: s.failures,
		Cycles:              s.cycles,
		SkippedTicks:        s.skippedTicks,
		Interval:            s.cfg.Interval.String(),
		Retention:           s.cfg.Retention.String(),
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		st.LastSuccessTime = &t
	}
	if !s.backoffUntil.IsZero() {
		t := s.backoffUntil
		st.BackoffUntil = &t
	}
	if s.lastCycle != nil {
		c := *s.lastCycle
		st.LastCycle = &c
	}
	return st
}

// loop runs a cycle immediately, then one per tick. After a failed fetch it
// backs off and retries without waiting for the next tick.
func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Scheduler loop panicked")

			s.mu.Lock()
			s.active = false
			s.state = StateStopped
			s.backoffUntil = time.Time{}
			s.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		failed := s.tick(ctx)
		if ctx.Err() != nil {
			return
		}

		if failed {
			if !s.backoff(ctx) {
				return
			}
			s.dropTicks(ticker)
			continue
		}

		s.dropTicks(ticker)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick runs one cycle unless RunOnce already holds the slot. Reports whether the fetch failed.
func (s *Scheduler) tick(ctx context.Context) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.addSkipped(1)
		return false
	}
	defer s.inFlight.Store(false)

	_, err := s.cycle(ctx)
	return err != nil && !errors.Is(err, errStopped)
}

// backoff sleeps for the current delay; false means the loop was stopped
func (s *Scheduler) backoff(ctx context.Context) bool {
	s.mu.Lock()
	failures := s.failures
	s.mu.Unlock()

	delay := s.cfg.Backoff.Delay(failures)

	s.mu.Lock()
	s.state = StateBackoff
	s.backoffUntil = s.now().Add(delay)
	s.mu.Unlock()

	s.logger.Warn().
		Int("consecutive_failures", failures).
		Dur("delay", delay).
		Msg("Backing off after failed fetch")

	ok := retry.Sleep(ctx, delay)

	s.mu.Lock()
	s.backoffUntil = time.Time{}
	if ok {
		s.state = StateIdle
	}
	s.mu.Unlock()

	return ok
}

// dropTicks discards ticks that fired while a cycle or backoff was running
func (s *Scheduler) dropTicks(ticker *time.Ticker) {
	select {
	case <-ticker.C:
		s.addSkipped(1)
	default:
	}
}

func (s *Scheduler) addSkipped(n int) {
	s.mu.Lock()
	s.skippedTicks += int64(n)
	s.mu.Unlock()
	s.metrics.SkippedTicks(n)
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// cycle is fetch, parse, upsert, evict. Callers hold inFlight.
func (s *Scheduler) cycle(ctx context.Context) (*CycleStats, error) {
	stats := &CycleStats{
		ID:        uuid.NewString(),
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With().Str("cycle_id", stats.ID).Logger()
	started := time.Now()

	s.setState(StateFetching)
	defer func() {
		s.mu.Lock()
		if s.active {
			s.state = StateIdle
		} else {
			s.state = StateStopped
		}
		s.mu.Unlock()
	}()

	log.Debug().Msg("Fetching batch")
	raws, err := s.source.FetchBatch(ctx)
	s.metrics.ObserveFetch(time.Since(started))

	if err != nil {
		stats.Duration = time.Since(started)
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			log.Info().Msg("Fetch cancelled")
			return stats, errStopped
		}
		stats.Error = err.Error()
		s.recordFailure(stats, err)
		log.Error().Err(err).Msg("Fetch failed")
		return stats, err
	}

	stats.Fetched = len(raws)
	s.setState(StateReconciling)

	// Stop must not tear a batch in half
	s.reconcile(context.WithoutCancel(ctx), raws, stats, log)

	stats.Duration = time.Since(started)
	s.recordSuccess(stats)

	log.Info().
		Int("fetched", stats.Fetched).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("unchanged", stats.Unchanged).
		Int("parse_errors", stats.ParseErrors).
		Int("invalid", stats.Invalid).
		Int("live_skipped", stats.LiveSkipped).
		Int("conflicts", stats.Conflicts).
		Int("evicted", stats.Evicted).
		Dur("duration", stats.Duration).
		Msg("Scrape cycle complete")

	return stats, nil
}

// reconcile parses and upserts every record, then applies retention
func (s *Scheduler) reconcile(ctx context.Context, raws []models.RawEvent, stats *CycleStats, log zerolog.Logger) {
	for _, raw := range raws {
		event, err := s.source.Parse(raw)
		switch {
		case errors.Is(err, contracts.ErrSkipped):
			stats.LiveSkipped++
			continue
		case errors.Is(err, models.ErrValidation):
			stats.Invalid++
			log.Debug().Err(err).Msg("Dropping invalid record")
			continue
		case err != nil:
			stats.ParseErrors++
			log.Debug().Err(err).Msg("Dropping unparseable record")
			continue
		}
		stats.Parsed++

		outcome, err := s.store.Upsert(ctx, event)
		switch {
		case errors.Is(err, models.ErrMetadataConflict):
			stats.Conflicts++
			log.Warn().Err(err).Str("event_id", event.EventID).Msg("Metadata conflict, keeping stored event")
			continue
		case err != nil:
			stats.StoreErrors++
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Error storing event")
			continue
		}

		switch outcome {
		case models.OutcomeCreated:
			stats.Created++
		case models.OutcomeUpdated:
			stats.Updated++
		default:
			stats.Unchanged++
			continue
		}

		s.notify(ctx, event, outcome, stats, log)
	}

	evicted, err := s.store.EvictExpired(ctx, s.cfg.Retention)
	if err != nil {
		stats.StoreErrors++
		log.Error().Err(err).Msg("Error evicting expired events")
	}
	stats.Evicted = evicted

	if st, err := s.store.Stats(ctx); err == nil {
		s.metrics.SetStoreEvents(st.Events)
	}
}

// notify fans an event out to the sinks; failures are logged and counted only
func (s *Scheduler) notify(ctx context.Context, event *models.Event, outcome models.UpsertOutcome, stats *CycleStats, log zerolog.Logger) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event, outcome); err != nil {
			stats.SinkErrors++
			s.metrics.SinkError(sink.Name())
			log.Warn().Err(err).Str("sink", sink.Name()).Str("event_id", event.EventID).Msg("Sink delivery failed")
		}
	}
}

func (s *Scheduler) recordFailure(stats *CycleStats, err error) {
	s.mu.Lock()
	s.failures++
	s.lastError = err.Error()
	s.cycles++
	s.lastCycle = stats
	failures := s.failures
	s.mu.Unlock()

	s.metrics.CycleFinished("fetch_error")
	s.metrics.SetFailures(failures)
}

func (s *Scheduler) recordSuccess(stats *CycleStats) {
	now := s.now()

	s.mu.Lock()
	s.failures = 0
	s.lastError = ""
	s.lastSuccess = now
	s.cycles++
	s.lastCycle = stats
	s.mu.Unlock()

	s.metrics.CycleFinished("success")
	s.metrics.SetFailures(0)
	s.metrics.SetLastSuccess(now)
	s.metrics.Records("created", stats.Created)
	s.metrics.Records("updated", stats.Updated)
	s.metrics.Records("unchanged", stats.Unchanged)
	s.metrics.Records("parse_error", stats.ParseErrors)
	s.metrics.Records("invalid", stats.Invalid)
	s.metrics.Records("live_skipped", stats.LiveSkipped)
	s.metrics.Records("conflict", stats.Conflicts)
	s.metrics.Records("store_error", stats.StoreErrors)
	s.metrics.Evicted(stats.Evicted)
}
