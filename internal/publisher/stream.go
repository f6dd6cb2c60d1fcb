package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// StreamPrefix is followed by the lower-cased sport, e.g. results.updates.football
const StreamPrefix = "results.updates."

// Streams are trimmed to roughly this many entries
const defaultMaxLen = 10000

// StreamPublisher publishes result updates to Redis streams
type StreamPublisher struct {
	client *redis.Client
	maxLen int64
}

var _ contracts.Sink = (*StreamPublisher)(nil)

// NewStreamPublisher creates a new stream publisher
func NewStreamPublisher(client *redis.Client) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		maxLen: defaultMaxLen,
	}
}

// StreamKey returns the stream an event is published to
func StreamKey(sport string) string {
	key := strings.ToLower(strings.TrimSpace(sport))
	key = strings.ReplaceAll(key, " ", "_")
	if key == "" {
		key = "unknown"
	}
	return StreamPrefix + key
}

// Name identifies the publisher as a sink
func (p *StreamPublisher) Name() string {
	return "stream"
}

// Publish adds the event to its sport stream
func (p *StreamPublisher) Publish(ctx context.Context, event *models.Event, outcome models.UpsertOutcome) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling result update: %w", err)
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(event.Sport),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data":     string(data),
			"event_id": event.EventID,
			"outcome":  string(outcome),
		},
	}).Err()
}
