// Package scoring implements the pure route scorers: path entropy, exit
// probability, dump risk and route confidence.
package scoring

import (
	"math"

	"github.com/nexus-trading/routeintel/internal/route"
)

// Scorer names, also used as keys in Input.Prior.
const (
	NamePathEntropy     = "path_entropy"
	NameExitProbability = "exit_probability"
	NameDumpRisk        = "dump_risk"
	NameConfidence      = "confidence"
)

// Input is what every scorer sees. Scorers must not mutate it.
type Input struct {
	Segments []route.Segment
	Labels   route.Labels
	Prior    map[string]float64 // results of scorers that already ran
}

// prior returns an earlier score or zero.
func (in Input) prior(name string) float64 {
	if in.Prior == nil {
		return 0
	}
	return in.Prior[name]
}

// Result is one scorer's output.
type Result struct {
	Name    string             `json:"name"`
	Value   float64            `json:"value"`
	Factors map[string]float64 `json:"factors,omitempty"`
}

// Scorer computes one bounded score from resolved segments and labels.
type Scorer interface {
	Name() string
	Score(in Input) Result
}

// clamp bounds v to [lo, hi] and maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// shannon returns the Shannon entropy in bits of a frequency table.
func shannon(counts map[string]int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}
