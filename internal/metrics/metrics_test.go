package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/metrics"
)

func TestMetrics_Exposition(t *testing.T) {
	m := metrics.New()
	m.CycleFinished("success")
	m.Records("created", 3)
	m.Evicted(2)
	m.Query("ok", 5*time.Millisecond)
	m.SinkError("stream")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `results_scrape_cycles_total{outcome="success"} 1`)
	assert.Contains(t, text, `results_records_total{result="created"} 3`)
	assert.Contains(t, text, `results_evicted_total 2`)
	assert.Contains(t, text, `results_queries_total{status="ok"} 1`)
	assert.Contains(t, text, `results_sink_errors_total{sink="stream"} 1`)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.CycleFinished("success")
		m.Records("created", 1)
		m.ObserveFetch(time.Second)
		m.SetWSClients(2)
	})
}
