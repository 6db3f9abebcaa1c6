package analysis

import (
	"sort"
	"strings"

	"github.com/nexus-trading/routeintel/internal/enrich"
	"github.com/nexus-trading/routeintel/internal/route"
)

// BuildLabels derives the exchange and bridge labels of a resolved route.
// MixerSuspected is left to the scoring engine.
func BuildLabels(resolved []route.Segment) route.Labels {
	labels := route.Labels{
		BridgeProtocols:  []string{},
		TouchedExchanges: []string{},
	}

	protocols := make(map[string]bool)
	exchanges := make(map[string]bool)
	for _, s := range resolved {
		if s.TouchesExchange() {
			labels.CEXTouched = true
			if s.ExchangeName != "" {
				exchanges[s.ExchangeName] = true
			}
		}
		if s.Type == route.SegmentBridge {
			labels.BridgeTouched = true
			if p := strings.ToLower(strings.TrimSpace(s.Protocol)); p != "" {
				protocols[p] = true
			}
		}
	}

	for p := range protocols {
		labels.BridgeProtocols = append(labels.BridgeProtocols, p)
	}
	sort.Strings(labels.BridgeProtocols)
	for e := range exchanges {
		labels.TouchedExchanges = append(labels.TouchedExchanges, e)
	}
	sort.Strings(labels.TouchedExchanges)

	if name, ok := enrich.TerminalExchange(resolved); ok {
		labels.EndsAtExchange = true
		labels.ExchangeName = name
	}
	return labels
}
