package scoring

import (
	"github.com/nexus-trading/routeintel/internal/route"
)

// Config configures alert gating.
type Config struct {
	MinConfidence float64 `yaml:"min_confidence"` // default 0.5
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MinConfidence: DefaultMinConfidence}
}

// Scores is the combined output of one engine run.
type Scores struct {
	PathEntropy     float64                       `json:"path_entropy"`
	ExitProbability float64                       `json:"exit_probability"`
	DumpRisk        float64                       `json:"dump_risk"`
	Confidence      float64                       `json:"confidence"`
	Factors         map[string]map[string]float64 `json:"factors"`
}

// Engine runs the scorers in dependency order.
type Engine struct {
	config  Config
	scorers []Scorer
}

// NewEngine creates an engine with the standard scorer chain.
func NewEngine(config Config) *Engine {
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	return &Engine{
		config: config,
		scorers: []Scorer{
			PathEntropy{},
			ExitProbability{},
			DumpRisk{},
			Confidence{},
		},
	}
}

// Score runs every scorer and returns the scores plus a copy of labels with
// MixerSuspected derived.
func (e *Engine) Score(segments []route.Segment, labels route.Labels) (Scores, route.Labels) {
	prior := make(map[string]float64, len(e.scorers))
	factors := make(map[string]map[string]float64, len(e.scorers))

	for _, s := range e.scorers {
		res := s.Score(Input{Segments: segments, Labels: labels, Prior: prior})
		prior[s.Name()] = res.Value
		factors[s.Name()] = res.Factors
	}

	out := labels.Clone()
	out.MixerSuspected = MixerSuspected(segments, prior[NamePathEntropy])

	return Scores{
		PathEntropy:     prior[NamePathEntropy],
		ExitProbability: prior[NameExitProbability],
		DumpRisk:        prior[NameDumpRisk],
		Confidence:      prior[NameConfidence],
		Factors:         factors,
	}, out
}

// ShouldAlert applies the confidence gate, then risk eligibility.
func (e *Engine) ShouldAlert(s Scores, cexTouched bool) bool {
	if s.Confidence < e.config.MinConfidence {
		return false
	}
	return AlertEligible(s.DumpRisk, cexTouched, s.ExitProbability)
}

// MinConfidence returns the configured confidence gate.
func (e *Engine) MinConfidence() float64 { return e.config.MinConfidence }
