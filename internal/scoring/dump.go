package scoring

import (
	"math"

	"github.com/nexus-trading/routeintel/internal/route"
)

// ---------------------------------------------------------------------------
// Dump Risk Score: composite in [0, 100]
// ---------------------------------------------------------------------------

// DumpAlertThreshold is the dump risk score at which a route is alertable.
const DumpAlertThreshold = 60.0

const (
	dumpWeightExit     = 40.0
	dumpWeightEntropy  = 15.0
	dumpWeightCEX      = 20.0
	dumpWeightNotional = 25.0

	// log10 of the notional at which the notional term saturates ($1M).
	notionalSaturationLog = 6.0
)

// DumpRisk combines exit probability, path entropy, CEX touch and USD
// notional. Reads the exit probability and path entropy priors.
type DumpRisk struct{}

func (DumpRisk) Name() string { return NameDumpRisk }

func (DumpRisk) Score(in Input) Result {
	exit := clamp01(in.prior(NameExitProbability))
	entropy := clamp01(in.prior(NamePathEntropy))
	notional := notionalFactor(route.TotalUSD(in.Segments))

	fExit := dumpWeightExit * exit
	fEnt := dumpWeightEntropy * entropy
	fCEX := dumpWeightCEX * boolf(in.Labels.CEXTouched)
	fNot := dumpWeightNotional * notional

	return Result{
		Name:  NameDumpRisk,
		Value: clamp(fExit+fEnt+fCEX+fNot, 0, 100),
		Factors: map[string]float64{
			"exit":     fExit,
			"entropy":  fEnt,
			"cex":      fCEX,
			"notional": fNot,
		},
	}
}

func notionalFactor(usd float64) float64 {
	usd = route.SanitizeUSD(usd)
	return clamp01(math.Log10(1+usd) / notionalSaturationLog)
}

// AlertEligible reports whether a route's risk warrants an alert: a high
// dump score, or a CEX touch with an imminent exit.
func AlertEligible(dump float64, cexTouched bool, exit float64) bool {
	return dump >= DumpAlertThreshold || (cexTouched && IsExitImminent(exit))
}
