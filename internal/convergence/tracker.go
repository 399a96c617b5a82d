// Package convergence decides when a Delphi panel should stop. It
// accumulates round syntheses and per-expert response histories and derives
// four statistical signals: position stability, confidence spread,
// consensus clarity, and citation overlap.
package convergence

import (
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"

	"delphi/internal/delphi"
)

// Threshold constants. The early-exit checks (HasConverged,
// HasStableDivergence) and the termination_reason label derivation use
// different values for nominally the same conditions. That asymmetry is
// deliberate: the two are independently tunable and may disagree.
const (
	stabilityTokenMinLen = 3 // tokens must be strictly longer than this
	stableOverlapRatio   = 0.70

	labelConsensusClarity  = 0.8
	labelConsensusStable   = 0.8
	labelConsensusSpread   = 1.5
	labelDivergenceStable  = 0.9
	labelDivergenceClarity = 0.5

	exitConsensusStability = 0.8
	exitConsensusClarity   = 0.75
	exitConsensusSpread    = 2.0
	exitDivergenceStable   = 0.9
	exitDivergenceClarity  = 0.4
)

// Tracker accumulates a run's round history. It is owned by a single run
// and never shared across runs.
type Tracker struct {
	rounds    []delphi.RoundSynthesis
	histories map[string][]delphi.ExpertResponse
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{histories: make(map[string][]delphi.ExpertResponse)}
}

// AddRound appends a synthesis to the round history and each response to
// its expert's own history, keyed by agent id. Histories may be sparse when
// an expert failed in some round.
func (t *Tracker) AddRound(s delphi.RoundSynthesis, responses []delphi.ExpertResponse) {
	t.rounds = append(t.rounds, s)
	for _, r := range responses {
		t.histories[r.AgentID] = append(t.histories[r.AgentID], r)
	}
}

// RoundsCompleted reports how many rounds have been recorded.
func (t *Tracker) RoundsCompleted() int { return len(t.rounds) }

// History returns a copy of the recorded round syntheses in order.
func (t *Tracker) History() []delphi.RoundSynthesis {
	out := make([]delphi.RoundSynthesis, len(t.rounds))
	copy(out, t.rounds)
	return out
}

// Metrics recomputes all four signals from the full accumulated history.
// It fails if no rounds have been recorded.
func (t *Tracker) Metrics() (*delphi.ConvergenceMetrics, error) {
	if len(t.rounds) == 0 {
		return nil, fmt.Errorf("convergence metrics requested with zero rounds recorded")
	}

	m := &delphi.ConvergenceMetrics{
		PositionStability: t.positionStability(),
		ConfidenceSpread:  t.confidenceSpread(),
		ConsensusClarity:  t.consensusClarity(),
		CitationOverlap:   t.citationOverlap(),
		RoundsCompleted:   len(t.rounds),
	}
	m.TerminationReason = deriveTerminationReason(m)
	return m, nil
}

// deriveTerminationReason labels the metric state. The default label is
// max_rounds, meaning no special condition fired and only the external
// round cap stops the loop.
func deriveTerminationReason(m *delphi.ConvergenceMetrics) delphi.TerminationReason {
	if m.ConsensusClarity > labelConsensusClarity &&
		m.PositionStability > labelConsensusStable &&
		m.ConfidenceSpread < labelConsensusSpread {
		return delphi.TerminationConsensusReached
	}
	if m.PositionStability > labelDivergenceStable &&
		m.ConsensusClarity < labelDivergenceClarity {
		return delphi.TerminationDivergenceStable
	}
	return delphi.TerminationMaxRounds
}

// HasConverged is the early-exit consensus check. Always false before two
// rounds have been recorded, regardless of metric values.
func (t *Tracker) HasConverged() bool {
	if len(t.rounds) < 2 {
		return false
	}
	m, err := t.Metrics()
	if err != nil {
		return false
	}
	return m.PositionStability > exitConsensusStability &&
		m.ConsensusClarity > exitConsensusClarity &&
		m.ConfidenceSpread < exitConsensusSpread
}

// HasStableDivergence is the early-exit check for a panel whose positions
// stopped moving without agreement emerging.
func (t *Tracker) HasStableDivergence() bool {
	if len(t.rounds) < 2 {
		return false
	}
	m, err := t.Metrics()
	if err != nil {
		return false
	}
	return m.PositionStability > exitDivergenceStable &&
		m.ConsensusClarity < exitDivergenceClarity
}

// positionStability compares each expert's two most recent positions via a
// bag-of-words overlap ratio and reports the fraction of experts whose
// ratio exceeds the stability threshold. Vacuously 1.0 before round 2 or
// when no expert has two recorded responses.
func (t *Tracker) positionStability() float64 {
	if len(t.rounds) < 2 {
		return 1.0
	}

	eligible := 0
	stable := 0
	for _, history := range t.histories {
		if len(history) < 2 {
			continue
		}
		eligible++
		last := tokenize(history[len(history)-1].Position)
		prev := tokenize(history[len(history)-2].Position)
		if overlapRatio(last, prev) > stableOverlapRatio {
			stable++
		}
	}
	if eligible == 0 {
		return 1.0
	}
	return float64(stable) / float64(eligible)
}

// tokenize lowercases and splits a position into the set of words strictly
// longer than stabilityTokenMinLen characters.
func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) > stabilityTokenMinLen {
			out[w] = true
		}
	}
	return out
}

// overlapRatio is |intersection| / max(|a|, |b|). Two empty sets overlap
// vacuously.
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	common := 0
	for w := range a {
		if b[w] {
			common++
		}
	}
	return float64(common) / float64(larger)
}

// confidenceSpread is the population standard deviation of the per-cluster
// average confidence (midpoint of each cluster's range) within the latest
// round only. Zero when the latest round has no clusters.
func (t *Tracker) confidenceSpread() float64 {
	latest := t.rounds[len(t.rounds)-1]
	if len(latest.Clusters) == 0 {
		return 0
	}
	mids := make([]float64, len(latest.Clusters))
	for i, c := range latest.Clusters {
		mids[i] = (c.ConfidenceRange[0] + c.ConfidenceRange[1]) / 2
	}
	sd, err := stats.StdDevP(mids)
	if err != nil {
		return 0
	}
	return sd
}

// consensusClarity is a weighted sum over the latest round:
// 0.4 * consensus-area share + 0.3 * largest-cluster participation share +
// 0.3 * normalized average confidence.
func (t *Tracker) consensusClarity() float64 {
	latest := t.rounds[len(t.rounds)-1]

	areaTotal := len(latest.ConsensusAreas) + len(latest.DivergenceAreas)
	if areaTotal < 1 {
		areaTotal = 1
	}
	areaShare := float64(len(latest.ConsensusAreas)) / float64(areaTotal)

	largest := 0
	for _, c := range latest.Clusters {
		if len(c.ExpertIDs) > largest {
			largest = len(c.ExpertIDs)
		}
	}
	participation := latest.ParticipationCount
	if participation < 1 {
		participation = 1
	}
	clusterShare := float64(largest) / float64(participation)

	return 0.4*areaShare + 0.3*clusterShare + 0.3*(latest.AverageConfidence/10)
}

// citationOverlap looks at each expert's most recent sources and reports
// the fraction of expert pairs whose URL sets intersect at all. The check
// per pair is binary, not weighted by overlap size. Vacuously 1.0 with
// fewer than two experts on record.
func (t *Tracker) citationOverlap() float64 {
	var urlSets []map[string]bool
	for _, history := range t.histories {
		if len(history) == 0 {
			continue
		}
		recent := history[len(history)-1]
		set := make(map[string]bool, len(recent.Sources))
		for _, c := range recent.Sources {
			set[c.URL] = true
		}
		urlSets = append(urlSets, set)
	}
	if len(urlSets) < 2 {
		return 1.0
	}

	pairs := 0
	overlapping := 0
	for i := 0; i < len(urlSets); i++ {
		for j := i + 1; j < len(urlSets); j++ {
			pairs++
			if setsIntersect(urlSets[i], urlSets[j]) {
				overlapping++
			}
		}
	}
	return float64(overlapping) / float64(pairs)
}

func setsIntersect(a, b map[string]bool) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for u := range a {
		if b[u] {
			return true
		}
	}
	return false
}
