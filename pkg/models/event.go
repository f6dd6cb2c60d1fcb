package models

import (
	"math"
	"strings"
	"time"
)

// Event is the canonical record of one fixture's latest known state
type Event struct {
	EventID  string            `json:"event_id"`
	Sport    string            `json:"sport"` // "Football", "Tennis"
	Metadata Metadata          `json:"metadata"`
	State    State             `json:"state"`
	Extra    map[string]string `json:"extra,omitempty"` // Opaque provider extras
}

// Metadata holds the facts that never change once an event is stored
type Metadata struct {
	CompetitionID   string `json:"competition_id,omitempty"`
	CompetitionName string `json:"competition_name"`
	HomeTeam        string `json:"home_team"`
	AwayTeam        string `json:"away_team"`
	StartTime       int64  `json:"start_time"` // Epoch seconds, UTC
}

// State is the mutable part of an event, replaced on every re-scrape
type State struct {
	IsLive bool    `json:"is_live"`
	Scores []Score `json:"scores"`
}

// Score is one entry of a score line ("2-1", "HT 1-0", "Set 1 6-4")
type Score struct {
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

// Draft carries parsed but unchecked event attributes coming out of a source adapter
type Draft struct {
	EventID         string
	Sport           string
	CompetitionID   string
	CompetitionName string
	HomeTeam        string
	AwayTeam        string
	StartTime       *float64 // Epoch seconds; nil when the provider omitted it
	IsLive          bool
	Scores          []Score
	Extra           map[string]string
}

// StartAt returns the start time as a UTC time.Time
func (e *Event) StartAt() time.Time {
	return time.Unix(e.Metadata.StartTime, 0).UTC()
}

// Key returns the store key of the event
func (e *Event) Key() string {
	return e.EventID
}

// Validate turns a draft into an Event or rejects it with a ValidationError
func Validate(d Draft) (*Event, error) {
	id := strings.TrimSpace(d.EventID)
	if id == "" {
		return nil, NewValidationError("event_id", d.EventID, "missing event id")
	}

	if d.StartTime == nil {
		return nil, NewValidationError("start_time", nil, "missing start time")
	}
	ts := *d.StartTime
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return nil, NewValidationError("start_time", ts, "start time is not finite")
	}
	if ts < 0 {
		return nil, NewValidationError("start_time", ts, "start time is before the epoch")
	}

	event := &Event{
		EventID: id,
		Sport:   strings.TrimSpace(d.Sport),
		Metadata: Metadata{
			CompetitionID:   d.CompetitionID,
			CompetitionName: strings.TrimSpace(d.CompetitionName),
			HomeTeam:        strings.TrimSpace(d.HomeTeam),
			AwayTeam:        strings.TrimSpace(d.AwayTeam),
			StartTime:       int64(ts),
		},
		State: State{
			IsLive: d.IsLive,
			Scores: cloneScores(d.Scores),
		},
		Extra: cloneExtra(d.Extra),
	}

	return event, nil
}

// Merge combines incoming's state and extras with existing's immutable metadata.
// A metadata (or sport) mismatch for the same id is reported as a MetadataConflictError
// and existing is left as is.
func Merge(existing, incoming *Event) (*Event, error) {
	if existing.EventID != incoming.EventID {
		return nil, NewValidationError("event_id", incoming.EventID, "merge across different event ids")
	}

	if existing.Metadata != incoming.Metadata || existing.Sport != incoming.Sport {
		return nil, &MetadataConflictError{
			EventID:  existing.EventID,
			Stored:   existing.Metadata,
			Incoming: incoming.Metadata,
		}
	}

	merged := existing.Clone()
	merged.State = State{
		IsLive: incoming.State.IsLive,
		Scores: cloneScores(incoming.State.Scores),
	}
	merged.Extra = cloneExtra(incoming.Extra)

	return merged, nil
}

// Clone returns a deep copy of the event
func (e *Event) Clone() *Event {
	c := *e
	c.State.Scores = cloneScores(e.State.Scores)
	c.Extra = cloneExtra(e.Extra)
	return &c
}

// Equal reports whether two events carry the same data.
// Nil and empty collections compare equal.
func (e *Event) Equal(other *Event) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.EventID != other.EventID || e.Sport != other.Sport || e.Metadata != other.Metadata {
		return false
	}
	if e.State.IsLive != other.State.IsLive || len(e.State.Scores) != len(other.State.Scores) {
		return false
	}
	for i := range e.State.Scores {
		if e.State.Scores[i] != other.State.Scores[i] {
			return false
		}
	}
	if len(e.Extra) != len(other.Extra) {
		return false
	}
	for k, v := range e.Extra {
		if ov, ok := other.Extra[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func cloneScores(scores []Score) []Score {
	if len(scores) == 0 {
		return []Score{}
	}
	out := make([]Score, len(scores))
	copy(out, scores)
	return out
}

func cloneExtra(extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
