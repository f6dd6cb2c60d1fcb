package marathon

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// Keys of a flattened RawEvent. The event node is kept as is; the sport and
// competition it sits under are inherited from its ancestors.
const (
	rawSport           = "sport"
	rawCompetitionID   = "competition_id"
	rawCompetitionName = "competition_name"
	rawEvent           = "event"
)

// Timestamps above this are milliseconds (1e11 seconds is year 5138)
const millisThreshold = 1e11

var markupReplacer = strings.NewReplacer("<b>", "", "</b>", "", "<B>", "", "</B>", "")

// Flatten walks root.childs[sport].childs[competition].childs[event] and
// returns one RawEvent per event node. Malformed branches are skipped.
func Flatten(sports []interface{}) []models.RawEvent {
	var out []models.RawEvent

	for _, s := range sports {
		sport, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		sportName := extractString(sport, "name")

		for _, c := range extractArray(sport, "childs") {
			competition, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			competitionID := extractID(competition, "treeId")
			competitionName := extractString(competition, "name")

			for _, e := range extractArray(competition, "childs") {
				event, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				out = append(out, models.RawEvent{
					rawSport:           sportName,
					rawCompetitionID:   competitionID,
					rawCompetitionName: competitionName,
					rawEvent:           event,
				})
			}
		}
	}

	return out
}

// parse converts one flattened record into a validated Event
func parse(raw models.RawEvent, skipLive bool) (*models.Event, error) {
	event, ok := raw[rawEvent].(map[string]interface{})
	if !ok {
		return nil, &ParseError{Field: rawEvent, Err: errors.New("missing event node")}
	}

	id := extractID(event, "treeId")
	isLive, _ := event["live"].(bool)
	if isLive && skipLive {
		return nil, fmt.Errorf("event %s is live: %w", id, contracts.ErrSkipped)
	}

	start, err := parseTimestamp(event["date"])
	if err != nil {
		return nil, &ParseError{EventID: id, Field: "date", Err: err}
	}

	scores, err := parseScores(event["scores"])
	if err != nil {
		return nil, &ParseError{EventID: id, Field: "scores", Err: err}
	}

	home, away := extractTeams(extractString(event, "name"))

	extra := map[string]string{}
	if id != "" {
		extra["key"] = id
	}
	if results := stringify(event["results"]); results != "" {
		extra["results"] = results
	}

	sport, _ := raw[rawSport].(string)
	competitionID, _ := raw[rawCompetitionID].(string)
	competitionName, _ := raw[rawCompetitionName].(string)

	return models.Validate(models.Draft{
		EventID:         id,
		Sport:           sport,
		CompetitionID:   competitionID,
		CompetitionName: competitionName,
		HomeTeam:        home,
		AwayTeam:        away,
		StartTime:       start,
		IsLive:          isLive,
		Scores:          scores,
		Extra:           extra,
	})
}

// extractTeams splits "Home vs Away", dropping bold markup.
// Names without the separator yield empty teams.
func extractTeams(raw string) (string, string) {
	text := strings.TrimSpace(markupReplacer.Replace(raw))

	home, away, found := strings.Cut(text, " vs ")
	if !found {
		return "", ""
	}
	return strings.TrimSpace(home), strings.TrimSpace(away)
}

// parseTimestamp accepts epoch seconds or milliseconds as a number or numeric
// string, or an RFC 3339 string. nil means the field was absent.
func parseTimestamp(v interface{}) (*float64, error) {
	var ts float64

	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		ts = t
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		ts = f
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			ts = f
			break
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("unrecognised timestamp %q", s)
		}
		ts = float64(parsed.Unix())
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}

	if !math.IsNaN(ts) && !math.IsInf(ts, 0) && ts > millisThreshold {
		ts /= 1000
	}
	return &ts, nil
}

// parseScores accepts a single score string, a list of strings, or a list of
// {value|score, label|name|period} objects
func parseScores(v interface{}) ([]models.Score, error) {
	switch t := v.(type) {
	case nil:
		return []models.Score{}, nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []models.Score{{Value: s}}, nil
		}
		return []models.Score{}, nil
	case []interface{}:
		scores := make([]models.Score, 0, len(t))
		for i, item := range t {
			score, err := parseScore(item)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			scores = append(scores, score)
		}
		return scores, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", v)
	}
}

func parseScore(v interface{}) (models.Score, error) {
	switch t := v.(type) {
	case string:
		return models.Score{Value: strings.TrimSpace(t)}, nil
	case float64:
		return models.Score{Value: strconv.FormatFloat(t, 'f', -1, 64)}, nil
	case map[string]interface{}:
		value := stringify(t["value"])
		if value == "" {
			value = stringify(t["score"])
		}
		if value == "" {
			return models.Score{}, errors.New("score object has no value")
		}
		label := extractString(t, "label")
		if label == "" {
			label = extractString(t, "name")
		}
		if label == "" {
			label = stringify(t["period"])
		}
		return models.Score{Label: label, Value: value}, nil
	default:
		return models.Score{}, fmt.Errorf("unexpected type %T", v)
	}
}

// extractID reads an identifier that may arrive as a number or a string
func extractID(m map[string]interface{}, key string) string {
	return stringify(m[key])
}

// stringify renders scalars as text and anything else as compact JSON
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// extractString safely extracts a string from a map
func extractString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if str, ok := v.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// extractArray safely extracts an array from a map
func extractArray(m map[string]interface{}, key string) []interface{} {
	if v, ok := m[key]; ok {
		if arrVal, ok := v.([]interface{}); ok {
			return arrVal
		}
	}
	return []interface{}{}
}
