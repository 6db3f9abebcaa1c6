package analysis

import (
	"github.com/nexus-trading/routeintel/internal/route"
	"github.com/nexus-trading/routeintel/internal/scoring"
)

// Severity cut-offs on the dump risk score.
const (
	SeverityCriticalAt = 80.0
	SeverityHighAt     = scoring.DumpAlertThreshold
)

// DumpSeverity maps a dump risk score to an alert severity.
func DumpSeverity(dump float64) route.Severity {
	switch {
	case dump >= SeverityCriticalAt:
		return route.SeverityCritical
	case dump >= SeverityHighAt:
		return route.SeverityHigh
	default:
		return route.SeverityMedium
	}
}

// EvaluateAlerts decides which alerts a route raises. Confidence gates first;
// below the gate nothing fires whatever the risk. It has no side effects.
func EvaluateAlerts(engine *scoring.Engine, r *route.EnrichedRoute) []route.Alert {
	scores := scoring.Scores{
		PathEntropy:     r.PathEntropy,
		ExitProbability: r.ExitProbability,
		DumpRisk:        r.DumpRiskScore,
		Confidence:      r.Confidence,
	}
	if !engine.ShouldAlert(scores, r.Labels.CEXTouched) {
		return nil
	}

	alerts := []route.Alert{{
		Type:     route.AlertDumpRisk,
		Severity: DumpSeverity(r.DumpRiskScore),
		RouteID:  r.RouteID,
		Wallet:   r.Wallet,
		Score:    r.DumpRiskScore,
	}}
	if r.Labels.CEXTouched && scoring.IsExitImminent(r.ExitProbability) {
		alerts = append(alerts, route.Alert{
			Type:     route.AlertExitImminent,
			Severity: route.SeverityHigh,
			RouteID:  r.RouteID,
			Wallet:   r.Wallet,
			Score:    r.ExitProbability,
		})
	}
	return alerts
}
