package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XavierBriggs/fortuna/services/results-service/internal/logging"
)

func restoreLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}

func TestNew_JSONOutput(t *testing.T) {
	restoreLevel(t)

	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Format: "json", Output: &buf})

	log.Debug().Msg("hidden")
	log.Info().Str("sport", "Football").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "Football", entry["sport"])
	assert.Equal(t, "results-service", entry["service"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, logging.ParseLevel(tt.in), tt.in)
	}
}

func TestToggleDebug(t *testing.T) {
	restoreLevel(t)

	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "info", Output: &buf})

	assert.Equal(t, zerolog.DebugLevel, logging.ToggleDebug())
	log.Debug().Msg("now visible")
	assert.Contains(t, buf.String(), "now visible")

	assert.Equal(t, zerolog.InfoLevel, logging.ToggleDebug())
	buf.Reset()
	log.Debug().Msg("hidden again")
	assert.Empty(t, buf.String())
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	ctx := logging.WithLogger(context.Background(), log)
	ctxLog := logging.FromContext(ctx)
	ctxLog.Error().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// Missing logger is a no-op, not a panic
	nopLog := logging.FromContext(context.Background())
	nopLog.Error().Msg("dropped")
}
