// Package classify maps a scored route to its route type.
package classify

import (
	"github.com/nexus-trading/routeintel/internal/route"
)

// ExitThreshold is the exit probability at which a CEX-touching route is an
// exit.
const ExitThreshold = 0.5

// ChainCount counts distinct chains across origin and destination chains.
func ChainCount(segments []route.Segment) int {
	return len(route.DistinctChains(segments))
}

// Classify evaluates route types in precedence order; the first match wins.
// EXIT is checked before MIGRATION so cross-chain routes into an exchange
// classify as exits.
func Classify(segments []route.Segment, labels route.Labels, exit float64) route.RouteType {
	chains := ChainCount(segments)

	switch {
	case labels.CEXTouched && exit >= ExitThreshold:
		return route.RouteExit
	case terminalDeposit(segments):
		return route.RouteExit
	case labels.MixerSuspected:
		return route.RouteMixing
	case chains > 1 && !labels.CEXTouched:
		return route.RouteMigration
	case chains == 1:
		return route.RouteInternal
	default:
		return route.RouteUnknown
	}
}

func terminalDeposit(segments []route.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	return segments[len(segments)-1].Type == route.SegmentCEXDeposit
}
