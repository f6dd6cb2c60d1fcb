package contracts

import (
	"context"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// Sink receives events that were created or changed by a reconciliation.
// Sinks are best effort: an error is logged and never fails a scrape cycle.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event *models.Event, outcome models.UpsertOutcome) error
}
