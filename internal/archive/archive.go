package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// DefaultTable holds one row per event, overwritten on every change
const DefaultTable = "event_results"

// Archive keeps a durable copy of every created or updated event in Postgres.
// Unlike the store it is never evicted.
type Archive struct {
	db    *sql.DB
	table string
}

var _ contracts.Sink = (*Archive)(nil)

// Open connects to Postgres and verifies the connection
func Open(ctx context.Context, dsn string) (*Archive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, DefaultTable), nil
}

// New wraps an existing connection pool
func New(db *sql.DB, table string) *Archive {
	if table == "" {
		table = DefaultTable
	}
	return &Archive{db: db, table: table}
}

// EnsureSchema creates the archive table if it does not exist
func (a *Archive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_id         TEXT PRIMARY KEY,
			sport            TEXT NOT NULL,
			competition_id   TEXT NOT NULL DEFAULT '',
			competition_name TEXT NOT NULL DEFAULT '',
			home_team        TEXT NOT NULL DEFAULT '',
			away_team        TEXT NOT NULL DEFAULT '',
			start_time       TIMESTAMPTZ NOT NULL,
			is_live          BOOLEAN NOT NULL DEFAULT FALSE,
			scores           JSONB NOT NULL DEFAULT '[]',
			extra            JSONB NOT NULL DEFAULT '{}',
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, pq.QuoteIdentifier(a.table))

	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

// Name identifies the archive as a sink
func (a *Archive) Name() string {
	return "archive"
}

// Publish upserts the event row
func (a *Archive) Publish(ctx context.Context, event *models.Event, _ models.UpsertOutcome) error {
	scores, err := json.Marshal(event.State.Scores)
	if err != nil {
		return fmt.Errorf("marshaling scores: %w", err)
	}
	extra := []byte("{}")
	if len(event.Extra) > 0 {
		if extra, err = json.Marshal(event.Extra); err != nil {
			return fmt.Errorf("marshaling extra: %w", err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (
			event_id, sport, competition_id, competition_name,
			home_team, away_team, start_time, is_live, scores, extra, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (event_id) DO UPDATE SET
			is_live    = EXCLUDED.is_live,
			scores     = EXCLUDED.scores,
			extra      = EXCLUDED.extra,
			updated_at = NOW()
	`, pq.QuoteIdentifier(a.table))

	_, err = a.db.ExecContext(ctx, query,
		event.EventID,
		event.Sport,
		event.Metadata.CompetitionID,
		event.Metadata.CompetitionName,
		event.Metadata.HomeTeam,
		event.Metadata.AwayTeam,
		event.StartAt(),
		event.State.IsLive,
		string(scores),
		string(extra),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return fmt.Errorf("archive table %s is missing: %w", a.table, err)
		}
		return fmt.Errorf("failed to archive event %s: %w", event.EventID, err)
	}

	return nil
}

// Get reads one archived event
func (a *Archive) Get(ctx context.Context, eventID string) (*models.Event, error) {
	query := fmt.Sprintf(`
		SELECT event_id, sport, competition_id, competition_name,
		       home_team, away_team, start_time, is_live, scores, extra
		FROM %s
		WHERE event_id = $1
	`, pq.QuoteIdentifier(a.table))

	var (
		event  models.Event
		start  time.Time
		scores []byte
		extra  []byte
	)
	err := a.db.QueryRowContext(ctx, query, eventID).Scan(
		&event.EventID,
		&event.Sport,
		&event.Metadata.CompetitionID,
		&event.Metadata.CompetitionName,
		&event.Metadata.HomeTeam,
		&event.Metadata.AwayTeam,
		&start,
		&event.State.IsLive,
		&scores,
		&extra,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s not archived", eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archived event: %w", err)
	}

	event.Metadata.StartTime = start.Unix()
	if err := json.Unmarshal(scores, &event.State.Scores); err != nil {
		return nil, fmt.Errorf("unmarshaling scores: %w", err)
	}
	if err := json.Unmarshal(extra, &event.Extra); err != nil {
		return nil, fmt.Errorf("unmarshaling extra: %w", err)
	}

	return &event, nil
}

// Ping checks the connection
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the connection pool
func (a *Archive) Close() error {
	return a.db.Close()
}
