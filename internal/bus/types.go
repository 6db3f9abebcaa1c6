package bus

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every route event.
const SchemaVersion = "1.0.0"

// BaseEvent contains fields common to all events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	TraceID       string    `json:"trace_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
		TraceID:       uuid.New().String()[:16],
	}
}

// --- Route Events ---

// RouteEvent carries one derived analysis event.
type RouteEvent struct {
	BaseEvent
	Type           string         `json:"type"` // route.analyzed|route.exit_detected|route.mixer_suspected|route.alert
	RouteID        string         `json:"route_id"`
	Wallet         string         `json:"wallet"`
	RouteType      string         `json:"route_type"`
	ExitProb       float64        `json:"exit_probability"`
	DumpRiskScore  float64        `json:"dump_risk_score"`
	Confidence     float64        `json:"confidence"`
	AlertGenerated bool           `json:"alert_generated"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// AnalyzeRequest asks a worker to analyze one wallet over a window.
type AnalyzeRequest struct {
	BaseEvent
	Wallet       string `json:"wallet"`
	WindowStart  int64  `json:"window_start"`
	WindowEnd    int64  `json:"window_end"`
	ForceRebuild bool   `json:"force_rebuild,omitempty"`
	SkipAlerts   bool   `json:"skip_alerts,omitempty"`
}

// --- Heartbeat ---

type Heartbeat struct {
	BaseEvent
	Component string             `json:"component"`
	Status    string             `json:"status"` // healthy|degraded|unhealthy
	Uptime    time.Duration      `json:"uptime_seconds"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}
