package query_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/query"
	"github.com/XavierBriggs/fortuna/services/results-service/internal/store"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

var testNow = time.Date(2025, 7, 4, 12, 0, 0, 0, time.UTC)

func hours(h int) *int { return &h }

func seed(t *testing.T) *query.Engine {
	st := store.NewMemoryStore(store.WithClock(func() time.Time { return testNow }))

	for _, e := range []*models.Event{
		{
			EventID: "e1",
			Sport:   "Football",
			Metadata: models.Metadata{
				CompetitionName: "Italy. Serie A",
				HomeTeam:        "Juventus",
				AwayTeam:        "Inter",
				StartTime:       testNow.Add(-time.Hour).Unix(),
			},
			State: models.State{Scores: []models.Score{{Value: "2-1"}}},
		},
		{
			EventID: "e2",
			Sport:   "Tennis",
			Metadata: models.Metadata{
				CompetitionName: "ATP. Wimbledon",
				HomeTeam:        "Sinner",
				AwayTeam:        "Alcaraz",
				StartTime:       time.Date(2025, 7, 1, 15, 0, 0, 0, time.UTC).Unix(),
			},
			State: models.State{Scores: []models.Score{{Label: "Set 1", Value: "6-4"}}},
		},
	} {
		_, err := st.Upsert(context.Background(), e)
		require.NoError(t, err)
	}

	return query.NewEngine(st, 24*time.Hour, nil).WithClock(func() time.Time { return testNow })
}

func eventIDs(views []query.EventView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.EventID)
	}
	return out
}

func TestExecute_Scenario(t *testing.T) {
	engine := seed(t)

	got, err := engine.Execute(context.Background(), query.Request{Hours: hours(24), Sport: "Football", Keyword: "juventus"})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, eventIDs(got))

	got, err = engine.Execute(context.Background(), query.Request{Hours: hours(24), Sport: "Tennis"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestExecute_DefaultWindow(t *testing.T) {
	engine := seed(t)

	got, err := engine.Execute(context.Background(), query.Request{})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, eventIDs(got))
}

func TestExecute_InvalidHours(t *testing.T) {
	engine := seed(t)

	for _, h := range []int{0, -3} {
		_, err := engine.Execute(context.Background(), query.Request{Hours: hours(h)})
		require.Error(t, err)
		assert.ErrorIs(t, err, query.ErrInvalidFilter)

		var ife *query.InvalidFilterError
		require.ErrorAs(t, err, &ife)
		assert.Equal(t, "hours", ife.Field)
	}
}

func TestExecute_HugeHoursCoversEverything(t *testing.T) {
	engine := seed(t)

	for _, h := range []int{2562047, 3000000, math.MaxInt32} {
		got, err := engine.Execute(context.Background(), query.Request{Hours: hours(h)})
		require.NoError(t, err, "hours=%d", h)
		assert.Equal(t, []string{"e2", "e1"}, eventIDs(got), "hours=%d", h)
	}
}

func TestExecute_DateRange(t *testing.T) {
	engine := seed(t)

	from, err := query.ParseDate("from_date", "2025-07-01", false)
	require.NoError(t, err)
	to, err := query.ParseDate("to_date", "2025-07-01", true)
	require.NoError(t, err)

	// to_date covers the whole day
	got, err := engine.Execute(context.Background(), query.Request{From: from, To: to})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, eventIDs(got))

	// Open-ended from_date runs to now
	got, err = engine.Execute(context.Background(), query.Request{From: from})
	require.NoError(t, err)
	assert.Equal(t, []string{"e2", "e1"}, eventIDs(got))

	// Hours wins over dates
	got, err = engine.Execute(context.Background(), query.Request{Hours: hours(2), From: from, To: to})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, eventIDs(got))
}

func TestExecute_FromAfterTo(t *testing.T) {
	engine := seed(t)

	_, err := engine.Execute(context.Background(), query.Request{
		From: testNow,
		To:   testNow.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, query.ErrInvalidFilter)
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := query.ParseDate("from_date", "07/01/2025", false)
	assert.ErrorIs(t, err, query.ErrInvalidFilter)

	d, err := query.ParseDate("from_date", "", false)
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}

func TestEventView_JSON(t *testing.T) {
	engine := seed(t)

	got, err := engine.Execute(context.Background(), query.Request{Hours: hours(24 * 7), Sport: "tennis"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	data, err := json.Marshal(got[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event_id": "e2",
		"sport": "Tennis",
		"metadata": {
			"competition_name": "ATP. Wimbledon",
			"home_team": "Sinner",
			"away_team": "Alcaraz",
			"start_time": 1751382000
		},
		"state": {"scores": [{"label": "Set 1", "value": "6-4"}]}
	}`, string(data))
}
