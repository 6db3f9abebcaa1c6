package analysis

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/route"
)

// DeriveEvents builds the domain events of a freshly analyzed route:
// route.analyzed always, route.exit_detected for exits, route.mixer_suspected
// when flagged and one route.alert per alert.
func DeriveEvents(r *route.EnrichedRoute, alerts []route.Alert) []route.DerivedEvent {
	newEvent := func(typ string, payload map[string]any) route.DerivedEvent {
		return route.DerivedEvent{
			EventID: uuid.New().String(),
			Type:    typ,
			RouteID: r.RouteID,
			Wallet:  r.Wallet,
			Payload: payload,
		}
	}

	events := []route.DerivedEvent{newEvent(route.EventRouteAnalyzed, map[string]any{
		"route_type":    string(r.RouteType),
		"segment_count": r.SegmentCount,
		"total_usd":     r.TotalUSD,
	})}

	if r.RouteType == route.RouteExit {
		events = append(events, newEvent(route.EventExitDetected, map[string]any{
			"exchange":         r.Labels.ExchangeName,
			"ends_at_exchange": r.Labels.EndsAtExchange,
			"exit_probability": r.ExitProbability,
		}))
	}
	if r.Labels.MixerSuspected {
		events = append(events, newEvent(route.EventMixerSuspected, map[string]any{
			"path_entropy": r.PathEntropy,
		}))
	}
	for _, a := range alerts {
		events = append(events, newEvent(route.EventRouteAlert, map[string]any{
			"alert_type": string(a.Type),
			"severity":   string(a.Severity),
			"score":      a.Score,
		}))
	}
	return events
}

// eventTopic maps a derived event type to its bus topic.
func eventTopic(eventType string) string {
	switch eventType {
	case route.EventExitDetected:
		return bus.Topics.RouteExits()
	case route.EventMixerSuspected:
		return bus.Topics.RouteMixers()
	case route.EventRouteAlert:
		return bus.Topics.RouteAlerts()
	default:
		return bus.Topics.RouteAnalyzed()
	}
}

// publish sends derived events keyed by route id. Best effort: failures are
// logged and counted, never returned.
func (a *Analyzer) publish(ctx context.Context, r *route.EnrichedRoute, events []route.DerivedEvent) {
	if a.deps.Producer == nil {
		return
	}
	ioCtx, cancel := context.WithTimeout(ctx, a.ioTimeout())
	defer cancel()

	for _, ev := range events {
		base := bus.NewBaseEvent(a.config.Producer, bus.SchemaVersion)
		base.EventID = ev.EventID
		base.CorrelationID = r.RouteID

		msg := bus.RouteEvent{
			BaseEvent:      base,
			Type:           ev.Type,
			RouteID:        r.RouteID,
			Wallet:         r.Wallet,
			RouteType:      string(r.RouteType),
			ExitProb:       r.ExitProbability,
			DumpRiskScore:  r.DumpRiskScore,
			Confidence:     r.Confidence,
			AlertGenerated: r.AlertGenerated,
			Payload:        ev.Payload,
		}
		topic := eventTopic(ev.Type)
		if err := bus.PublishEvent(ioCtx, a.deps.Producer, topic, r.RouteID, ev.EventID, msg); err != nil {
			log.Warn().Err(err).Str("topic", topic).Str("route_id", r.RouteID).Msg("analysis: publish failed")
			if a.deps.Metrics != nil {
				a.deps.Metrics.IncPublishError(topic)
			}
		}
	}
}
