package marathon

import (
	"context"
	"time"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/contracts"
	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// Name is the provider name used in logs and metrics
const Name = "marathonbet"

// Source adapts the result tree to the contracts.Source interface
type Source struct {
	client   *Client
	skipLive bool
}

var _ contracts.Source = (*Source)(nil)

// Options configures the source
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	SkipLive bool
}

// NewSource creates a new source
func NewSource(opts Options) *Source {
	return &Source{
		client:   NewClient(opts.BaseURL, opts.Timeout),
		skipLive: opts.SkipLive,
	}
}

// Name returns the provider name
func (s *Source) Name() string {
	return Name
}

// FetchBatch fetches the whole result tree and flattens it to one record per event
func (s *Source) FetchBatch(ctx context.Context) ([]models.RawEvent, error) {
	sports, err := s.client.FetchTree(ctx)
	if err != nil {
		return nil, err
	}
	return Flatten(sports), nil
}

// Parse converts one flattened record. Live events yield contracts.ErrSkipped
// when the source is configured to skip them.
func (s *Source) Parse(raw models.RawEvent) (*models.Event, error) {
	return parse(raw, s.skipLive)
}
