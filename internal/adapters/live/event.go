// Package live pushes score group updates to connected viewers.
package live

import (
	"context"
	"errors"

	"github.com/TinchoF/gym-score-be/internal/domain/aggregate"
)

// EventScoreUpdated is the only event type emitted on the live channel.
const EventScoreUpdated = "scoreUpdated"

// Event is the current truth for one score group. Consumers replace their
// local view with it; it is never a delta. Deleted is set when the
// triggering write was a retraction.
type Event struct {
	Type          string         `json:"type"`
	InstitutionID string         `json:"-"`
	Deleted       bool           `json:"deleted"`
	View          aggregate.View `json:"view"`
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Fanout publishes every event to each of its publishers. A failing sink
// does not stop delivery to the others.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
