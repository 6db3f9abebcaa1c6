package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/routeintel/internal/bus"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck is a function that checks component health.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
	Details     map[string]any  `json:"details,omitempty"`
}

// SystemHealth is the aggregate health of the service.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// StatusChange is emitted when a component changes status.
type StatusChange struct {
	Level     string          `json:"level"` // info|warn|critical
	Component string          `json:"component"`
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"ts"`
}

// PingFunc is the probe shape shared by stores, sources and sinks.
type PingFunc func(ctx context.Context) error

// PingCheck adapts a ping probe into a HealthCheck. A failing probe is
// unhealthy unless the component is optional, in which case it is degraded.
// A probe slower than slow (when > 0) is degraded.
func PingCheck(ping PingFunc, optional bool, slow time.Duration) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		took := time.Since(start)

		switch {
		case err != nil && optional:
			return ComponentHealth{Status: StatusDegraded, Message: err.Error()}
		case err != nil:
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		case slow > 0 && took > slow:
			return ComponentHealth{Status: StatusDegraded, Message: "slow probe: " + took.String()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// HealthMonitor checks all registered components periodically.
type HealthMonitor struct {
	mu           sync.RWMutex
	checks       map[string]HealthCheck
	results      map[string]ComponentHealth
	startTime    time.Time
	interval     time.Duration
	checkTimeout time.Duration
	metrics      *Metrics
	changes      chan StatusChange
	stopCh       chan struct{}
	stopped      sync.Once
}

// NewHealthMonitor creates a monitor that checks components at interval.
// Each check gets at most checkTimeout.
func NewHealthMonitor(interval, checkTimeout time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if checkTimeout <= 0 {
		checkTimeout = 3 * time.Second
	}
	return &HealthMonitor{
		checks:       make(map[string]HealthCheck),
		results:      make(map[string]ComponentHealth),
		startTime:    time.Now(),
		interval:     interval,
		checkTimeout: checkTimeout,
		changes:      make(chan StatusChange, 256),
		stopCh:       make(chan struct{}),
	}
}

// WithMetrics exports every check result as a component gauge.
func (m *HealthMonitor) WithMetrics(metrics *Metrics) *HealthMonitor {
	m.metrics = metrics
	return m
}

// Register adds a named health check. Must be called before Start.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Start begins the periodic health check loop. It blocks until the context
// is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.runChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// Stop signals the monitor to cease periodic checks.
func (m *HealthMonitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
	})
}

// Check runs all registered checks synchronously and returns the aggregate.
// Used by the /healthz handler.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.Snapshot()
}

// Changes returns status transitions. Sends never block; transitions are
// dropped when nobody reads.
func (m *HealthMonitor) Changes() <-chan StatusChange {
	return m.changes
}

// ComponentStatus returns the most recent result for a named component.
func (m *HealthMonitor) ComponentStatus(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

// Snapshot builds a SystemHealth from the latest results without probing.
func (m *HealthMonitor) Snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if statusSeverity(h.Status) > statusSeverity(worst) {
			worst = h.Status
		}
	}

	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

// -----------------------------------------------------------------------
// Heartbeat
// -----------------------------------------------------------------------

// RunHeartbeat publishes the aggregate status to the heartbeat topic every
// interval until ctx is cancelled.
func (m *HealthMonitor) RunHeartbeat(ctx context.Context, producer bus.Producer, component string, interval time.Duration) {
	if producer == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := m.Heartbeat(component)
			if err := bus.PublishEvent(ctx, producer, bus.Topics.Heartbeat(), component, hb.EventID, hb); err != nil {
				log.Warn().Err(err).Msg("observability: heartbeat publish failed")
			}
		}
	}
}

// Heartbeat builds a heartbeat event from the latest snapshot.
func (m *HealthMonitor) Heartbeat(component string) bus.Heartbeat {
	snap := m.Snapshot()
	metrics := make(map[string]float64, len(snap.Components))
	for name, h := range snap.Components {
		metrics[name+"_latency_ms"] = float64(h.Latency.Milliseconds())
	}
	return bus.Heartbeat{
		BaseEvent: bus.NewBaseEvent(component, bus.SchemaVersion),
		Component: component,
		Status:    string(snap.Status),
		Uptime:    snap.Uptime,
		Metrics:   metrics,
	}
}

// -----------------------------------------------------------------------
// Internal
// -----------------------------------------------------------------------

// runChecks executes every check concurrently with its own timeout.
func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	var (
		wg         sync.WaitGroup
		resMu      sync.Mutex
		newResults = make(map[string]ComponentHealth, len(checks))
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
			defer cancel()

			start := time.Now()
			result := fn(checkCtx)
			result.Name = name
			result.LastChecked = time.Now()
			result.Latency = time.Since(start)

			resMu.Lock()
			newResults[name] = result
			resMu.Unlock()
		}()
	}
	wg.Wait()

	m.mu.Lock()
	oldResults := m.results
	m.results = newResults
	m.mu.Unlock()

	for name, cur := range newResults {
		if m.metrics != nil {
			m.metrics.SetComponentStatus(name, cur.Status)
		}
		prev, existed := oldResults[name]
		if !existed || prev.Status != cur.Status {
			m.emitChange(name, cur)
		}
	}
}

func (m *HealthMonitor) emitChange(name string, h ComponentHealth) {
	var level string
	switch h.Status {
	case StatusUnhealthy:
		level = "critical"
	case StatusDegraded:
		level = "warn"
	default:
		level = "info"
	}

	msg := h.Message
	if msg == "" {
		msg = "status changed to " + string(h.Status)
	}

	log.Info().Str("component", name).Str("status", string(h.Status)).Str("message", msg).Msg("observability: component status changed")

	select {
	case m.changes <- StatusChange{
		Level:     level,
		Component: name,
		Status:    h.Status,
		Message:   msg,
		Timestamp: time.Now(),
	}:
	default:
	}
}

func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}
