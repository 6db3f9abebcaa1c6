package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/route"
)

// HandleRequestMessage is the worker-mode bus handler: it decodes an
// AnalyzeRequest and analyzes it. Undecodable requests go to the dead
// letter topic when a producer is configured.
func (a *Analyzer) HandleRequestMessage(ctx context.Context, msg bus.Message) error {
	var req bus.AnalyzeRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		a.deadLetter(ctx, msg, err)
		return fmt.Errorf("analysis: decode request: %w", err)
	}

	res, err := a.Analyze(ctx, req.Wallet, Options{
		Window:       route.Window{Start: req.WindowStart, End: req.WindowEnd},
		ForceRebuild: req.ForceRebuild,
		SkipAlerts:   req.SkipAlerts,
	})
	if err != nil {
		return fmt.Errorf("analysis: request %s: %w", req.EventID, err)
	}

	ev := log.Debug().Str("request_id", req.EventID).Str("wallet", req.Wallet)
	if res == nil {
		ev.Msg("analysis: request had no data")
		return nil
	}
	ev.Str("route_id", res.RouteID).Bool("is_new", res.IsNew).Msg("analysis: request handled")
	return nil
}

func (a *Analyzer) deadLetter(ctx context.Context, msg bus.Message, cause error) {
	if a.deps.Producer == nil {
		return
	}
	dlq := bus.Message{
		Topic: bus.Topics.DeadLetter(msg.Topic),
		Key:   msg.Key,
		Value: msg.Value,
		Headers: map[string]string{
			"error":        cause.Error(),
			"source_topic": msg.Topic,
		},
	}
	if err := a.deps.Producer.Publish(ctx, dlq); err != nil {
		log.Warn().Err(err).Str("topic", dlq.Topic).Msg("analysis: dead letter publish failed")
	}
}
