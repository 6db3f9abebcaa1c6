package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/bus"
	"github.com/nexus-trading/routeintel/internal/route"
)

const (
	// Topic is the Kafka/RedPanda topic for audit entries.
	Topic = "audit.route_decisions"

	// Entry event types.
	EventRouteBuilt    = "route_built"
	EventAlertDecision = "alert_decision"

	// Alert decisions.
	DecisionRaised      = "raised"
	DecisionGated       = "gated"        // confidence below the gate
	DecisionNotEligible = "not_eligible" // confident but risk too low
	DecisionSkipped     = "skipped"      // evaluation disabled for the build
)

// Entry is one recorded decision. Entries of one route share its route id
// as TraceID.
type Entry struct {
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"` // route_built|alert_decision
	Timestamp time.Time `json:"ts"`
	Wallet    string    `json:"wallet"`
	Decision  string    `json:"decision,omitempty"`
	Payload   string    `json:"payload"` // JSON detail
}

// Trail records the decision chain of every freshly built route. It keeps
// a capped in-memory buffer for querying and publishes every entry when a
// producer is set.
type Trail struct {
	mu            sync.Mutex
	producer      bus.Producer
	entries       []Entry
	maxBuf        int
	minConfidence float64
	now           func() time.Time
}

// NewTrail creates a trail. maxBuf caps the in-memory buffer (oldest
// entries are discarded first); 0 disables buffering. minConfidence is the
// scoring gate used to label suppressed alerts.
func NewTrail(producer bus.Producer, maxBuf int, minConfidence float64) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{
		producer:      producer,
		entries:       make([]Entry, 0, maxBuf),
		maxBuf:        maxBuf,
		minConfidence: minConfidence,
		now:           time.Now,
	}
}

// WriteRoute records the built route and the alert decision. It never
// fails; publish errors are logged.
func (t *Trail) WriteRoute(ctx context.Context, r *route.EnrichedRoute, alerts []route.Alert) error {
	if r == nil {
		return nil
	}
	ts := t.now().UTC()

	t.record(ctx, Entry{
		TraceID:   r.RouteID,
		EventType: EventRouteBuilt,
		Timestamp: ts,
		Wallet:    r.Wallet,
		Decision:  string(r.RouteType),
		Payload: mustMarshal(map[string]any{
			"segments":         r.SegmentCount,
			"merged":           r.Resolution.MergedCount,
			"duplicates":       r.Resolution.RemovedDuplicates,
			"loops_detected":   r.Resolution.LoopsDetected,
			"swaps_inserted":   r.SwapsInserted,
			"exit_probability": r.ExitProbability,
			"path_entropy":     r.PathEntropy,
			"dump_risk":        r.DumpRiskScore,
			"confidence":       r.Confidence,
		}),
	})

	t.record(ctx, Entry{
		TraceID:   r.RouteID,
		EventType: EventAlertDecision,
		Timestamp: ts,
		Wallet:    r.Wallet,
		Decision:  t.decide(r, alerts),
		Payload:   mustMarshal(alerts),
	})
	return nil
}

func (t *Trail) decide(r *route.EnrichedRoute, alerts []route.Alert) string {
	switch {
	case r.AlertsSkipped:
		return DecisionSkipped
	case len(alerts) > 0:
		return DecisionRaised
	case r.Confidence < t.minConfidence:
		return DecisionGated
	default:
		return DecisionNotEligible
	}
}

// Query returns all buffered entries of one route.
func (t *Trail) Query(routeID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []Entry
	for _, e := range t.entries {
		if e.TraceID == routeID {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of all entries in the in-memory buffer.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Entry, len(t.entries))
	copy(result, t.entries)
	return result
}

// Len returns the number of entries in the in-memory buffer.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// record adds an entry to the buffer and publishes it outside the lock.
func (t *Trail) record(ctx context.Context, entry Entry) {
	t.mu.Lock()
	if t.maxBuf > 0 {
		if len(t.entries) >= t.maxBuf {
			copy(t.entries, t.entries[1:])
			t.entries[len(t.entries)-1] = entry
		} else {
			t.entries = append(t.entries, entry)
		}
	}
	t.mu.Unlock()

	if t.producer != nil {
		if err := t.producer.PublishJSON(ctx, Topic, entry.TraceID, entry); err != nil {
			log.Error().Err(err).
				Str("event_type", entry.EventType).
				Str("route_id", entry.TraceID).
				Msg("audit: publish failed")
		}
	}
}

// mustMarshal marshals v to JSON, returning "{}" on error.
func mustMarshal(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("audit: marshal payload")
		return "{}"
	}
	return string(data)
}
