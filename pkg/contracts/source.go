package contracts

import (
	"context"
	"errors"

	"github.com/XavierBriggs/fortuna/services/results-service/pkg/models"
)

// ErrSkipped is returned by Parse for records the source deliberately drops
// (e.g. fixtures still in play). It is not a parse failure.
var ErrSkipped = errors.New("record skipped")

// Source is the pluggable interface for results providers.
// A source performs network I/O only and never touches the event store.
type Source interface {
	// Name identifies the provider in logs and metrics ("marathonbet")
	Name() string

	// FetchBatch performs one fetch against the provider.
	// Must respect the context deadline and return a transient error on timeout.
	FetchBatch(ctx context.Context) ([]models.RawEvent, error)

	// Parse converts one provider record into a canonical event.
	// A failure affects only that record; errors.Is(err, ErrSkipped) marks a deliberate drop.
	Parse(raw models.RawEvent) (*models.Event, error)
}
