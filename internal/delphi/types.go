// Package delphi defines the core domain types for a Delphi consensus run:
// the prompt, generated personas, per-round expert and contrarian responses,
// round syntheses, convergence metrics, and the final report.
package delphi

// Prompt is the immutable input to a run.
type Prompt struct {
	Question    string   `json:"question"`
	Context     string   `json:"context,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// PersonaSpec describes one generated expert identity. Produced once per run,
// one per expert slot, never mutated after generation.
type PersonaSpec struct {
	Name             string `json:"name"`
	Role             string `json:"role"`
	DomainExpertise  string `json:"domain_expertise"`
	Perspective      string `json:"perspective"`
	WorkBackground   string `json:"work_background"`
	EducationHistory string `json:"education_history"`
	Justification    string `json:"justification"`
	Description      string `json:"description"`
}

// Citation is a single source reference. Deduplication by URL happens when
// citations are aggregated into clusters, not here.
type Citation struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Date      string `json:"date,omitempty"`
	Relevance string `json:"relevance,omitempty"`
}

// SearchResult is one structured result entry from the search service.
type SearchResult struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Summary        string  `json:"summary"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ExpertResponse is one expert's validated output for one round.
// AgentID is stable across rounds for the same expert; it is the identity
// key for per-expert history tracking.
type ExpertResponse struct {
	Position      string     `json:"position"`
	Reasoning     string     `json:"reasoning"`
	Confidence    float64    `json:"confidence"`
	Sources       []Citation `json:"sources"`
	ExpertiseArea string     `json:"expertise_area"`
	AgentID       string     `json:"agent_id"`
}

// CounterEvidence is one piece of evidence a contrarian found against the
// prevailing positions.
type CounterEvidence struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// ContrarianResponse is one contrarian's validated critique of a round.
type ContrarianResponse struct {
	Critique             string            `json:"critique"`
	AlternativeFramework string            `json:"alternative_framework"`
	BlindSpots           []string          `json:"blind_spots"`
	CounterEvidence      []CounterEvidence `json:"counter_evidence,omitempty"`
	AgentID              string            `json:"agent_id"`
}

// ExpertCluster is a thematic grouping of expert positions within one round.
// ExpertIDs is always a subset of the expert ids actually present that
// round; ConfidenceRange is [min, max] across the matched experts.
type ExpertCluster struct {
	Theme             string     `json:"theme"`
	Positions         []string   `json:"positions"`
	ExpertIDs         []string   `json:"expert_ids"`
	ConfidenceRange   [2]float64 `json:"confidence_range"`
	SupportingSources []Citation `json:"supporting_sources"`
}

// RoundSynthesis is the orchestrator's digest of one round. Appended to the
// run's round history and never removed or mutated afterwards.
type RoundSynthesis struct {
	RoundNumber        int             `json:"round_number"`
	Clusters           []ExpertCluster `json:"clusters"`
	ConsensusAreas     []string        `json:"consensus_areas"`
	DivergenceAreas    []string        `json:"divergence_areas"`
	AverageConfidence  float64         `json:"average_confidence"`
	ParticipationCount int             `json:"participation_count"`
	KeyInsights        []string        `json:"key_insights"`
}

// TerminationReason labels why a run stopped.
type TerminationReason string

const (
	TerminationConsensusReached TerminationReason = "consensus_reached"
	TerminationMaxRounds        TerminationReason = "max_rounds"
	TerminationDivergenceStable TerminationReason = "divergence_stable"
)

// ConvergenceMetrics is the statistical snapshot the tracker computes from
// the full accumulated history.
type ConvergenceMetrics struct {
	PositionStability float64           `json:"position_stability"`
	ConfidenceSpread  float64           `json:"confidence_spread"`
	ConsensusClarity  float64           `json:"consensus_clarity"`
	CitationOverlap   float64           `json:"citation_overlap"`
	RoundsCompleted   int               `json:"rounds_completed"`
	TerminationReason TerminationReason `json:"termination_reason"`
}

// FailedExpert records a per-expert failure that did not abort the round.
type FailedExpert struct {
	Role  string `json:"role"`
	Round int    `json:"round"`
	Error string `json:"error"`
}

// Report is the final aggregate produced at process end. Written to durable
// storage once and never mutated thereafter.
type Report struct {
	Prompt                 Prompt               `json:"prompt"`
	ConsensusSummary       string               `json:"consensus_summary"`
	ExpertPositions        []ExpertResponse     `json:"expert_positions"`
	ContrarianObservations []ContrarianResponse `json:"contrarian_observations"`
	DissentingViews        []ExpertResponse     `json:"dissenting_views"`
	ConvergenceAnalysis    ConvergenceMetrics   `json:"convergence_analysis"`
	RoundHistory           []RoundSynthesis     `json:"round_history"`
	GeneratedAt            string               `json:"generated_at"`
	FailedExperts          []FailedExpert       `json:"failed_experts,omitempty"`
}
