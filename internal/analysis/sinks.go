package analysis

import (
	"context"
	"errors"

	"github.com/nexus-trading/routeintel/internal/route"
)

// Sinks fans one route out to several history sinks. Every sink is called;
// errors are joined.
type Sinks []HistorySink

// WriteRoute implements HistorySink.
func (s Sinks) WriteRoute(ctx context.Context, r *route.EnrichedRoute, alerts []route.Alert) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.WriteRoute(ctx, r, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
