package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"delphi/internal/articulation"
	"delphi/internal/delphi"
	"delphi/internal/logging"
	"delphi/internal/perception"
)

// maxSupportingSources caps each cluster's deduplicated source list.
const maxSupportingSources = 10

// dominantClusterCount is how many cluster themes are handed to the
// contrarians for targeting.
const dominantClusterCount = 3

// Orchestrator synthesizes one round of expert responses into thematic
// clusters, consensus and divergence areas, and key insights. A failure
// here aborts the run.
type Orchestrator struct {
	model  string
	client *perception.GenerationClient
	logger *zap.Logger
	audit  *logging.InteractionLog
}

// NewOrchestrator creates an orchestrator agent.
func NewOrchestrator(model string, client *perception.GenerationClient, logger *zap.Logger, audit *logging.InteractionLog) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{model: model, client: client, logger: logger, audit: audit}
}

type rawCluster struct {
	Theme     string   `json:"theme"`
	ExpertIDs []string `json:"expert_ids"`
}

type rawSynthesis struct {
	Clusters        []rawCluster `json:"clusters"`
	ConsensusAreas  []string     `json:"consensus_areas"`
	DivergenceAreas []string     `json:"divergence_areas"`
	KeyInsights     []string     `json:"key_insights"`
}

// SynthesizeRound builds the round synthesis from the round's validated
// expert responses plus the contrarian critiques of the previous round.
func (o *Orchestrator) SynthesizeRound(ctx context.Context, roundNumber int, question string, experts []delphi.ExpertResponse, contrarians []delphi.ContrarianResponse) (*delphi.RoundSynthesis, error) {
	// Average confidence over zero experts is defined as zero, not a
	// divide-by-zero fault: a round where every expert failed still gets a
	// synthesis record.
	avg := 0.0
	if len(experts) > 0 {
		var sum float64
		for _, e := range experts {
			sum += e.Confidence
		}
		avg = sum / float64(len(experts))
	}

	temp := 0.3
	req := perception.ChatRequest{
		Model: o.model,
		Messages: []perception.Message{
			{Role: "system", Content: renderOrchestratorSystem()},
			{Role: "user", Content: renderOrchestratorUser(roundNumber, question, experts, contrarians)},
		},
		Temperature: &temp,
		MaxTokens:   4096,
	}

	resp, err := o.client.Complete(ctx, req)
	o.record(roundNumber, req, resp, err)
	if err != nil {
		return nil, fmt.Errorf("round %d synthesis failed: %w", roundNumber, err)
	}

	payload, err := articulation.FirstObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("round %d synthesis: %w", roundNumber, err)
	}
	var raw rawSynthesis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("round %d synthesis unparsable: %w", roundNumber, err)
	}

	synthesis := &delphi.RoundSynthesis{
		RoundNumber:        roundNumber,
		Clusters:           buildClusters(raw.Clusters, experts),
		ConsensusAreas:     raw.ConsensusAreas,
		DivergenceAreas:    raw.DivergenceAreas,
		AverageConfidence:  avg,
		ParticipationCount: len(experts),
		KeyInsights:        raw.KeyInsights,
	}

	o.logger.Info("round synthesized",
		zap.Int("round", roundNumber),
		zap.Int("clusters", len(synthesis.Clusters)),
		zap.Float64("average_confidence", avg))
	return synthesis, nil
}

// buildClusters validates raw clustering output against the experts
// actually present this round. A cluster with no theme, no expert ids, or
// whose expert ids match none of the round's responses is dropped entirely,
// never partially included.
func buildClusters(raw []rawCluster, experts []delphi.ExpertResponse) []delphi.ExpertCluster {
	byID := make(map[string]*delphi.ExpertResponse, len(experts))
	for i := range experts {
		byID[experts[i].AgentID] = &experts[i]
	}

	var clusters []delphi.ExpertCluster
	for _, rc := range raw {
		if rc.Theme == "" || len(rc.ExpertIDs) == 0 {
			continue
		}

		var matched []*delphi.ExpertResponse
		var matchedIDs []string
		for _, id := range rc.ExpertIDs {
			if e, ok := byID[id]; ok {
				matched = append(matched, e)
				matchedIDs = append(matchedIDs, id)
			}
		}
		if len(matched) == 0 {
			continue
		}

		minC, maxC := matched[0].Confidence, matched[0].Confidence
		var positions []string
		seen := make(map[string]bool)
		var sources []delphi.Citation
		for _, e := range matched {
			if e.Confidence < minC {
				minC = e.Confidence
			}
			if e.Confidence > maxC {
				maxC = e.Confidence
			}
			positions = append(positions, e.Position)
			for _, c := range e.Sources {
				if seen[c.URL] || len(sources) >= maxSupportingSources {
					continue
				}
				seen[c.URL] = true
				sources = append(sources, c)
			}
		}

		clusters = append(clusters, delphi.ExpertCluster{
			Theme:             rc.Theme,
			Positions:         positions,
			ExpertIDs:         matchedIDs,
			ConfidenceRange:   [2]float64{minC, maxC},
			SupportingSources: sources,
		})
	}
	return clusters
}

// IdentifyDominantClusters returns up to three cluster themes ordered by
// expert count descending, then by the average of the confidence range
// descending. This is the targeting list handed to the contrarians.
func IdentifyDominantClusters(s *delphi.RoundSynthesis) []string {
	ordered := make([]delphi.ExpertCluster, len(s.Clusters))
	copy(ordered, s.Clusters)
	sort.SliceStable(ordered, func(i, j int) bool {
		if len(ordered[i].ExpertIDs) != len(ordered[j].ExpertIDs) {
			return len(ordered[i].ExpertIDs) > len(ordered[j].ExpertIDs)
		}
		return clusterAvgConfidence(ordered[i]) > clusterAvgConfidence(ordered[j])
	})

	var themes []string
	for i := 0; i < len(ordered) && i < dominantClusterCount; i++ {
		themes = append(themes, ordered[i].Theme)
	}
	return themes
}

func clusterAvgConfidence(c delphi.ExpertCluster) float64 {
	return (c.ConfidenceRange[0] + c.ConfidenceRange[1]) / 2
}

// FormatSynthesisForReview renders the digest through which round N+1
// experts learn what happened in round N. It is the only channel between
// rounds.
func FormatSynthesisForReview(s *delphi.RoundSynthesis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d synthesis\n", s.RoundNumber)
	fmt.Fprintf(&b, "Participants: %d experts, average confidence %.1f/10\n", s.ParticipationCount, s.AverageConfidence)

	if len(s.ConsensusAreas) > 0 {
		b.WriteString("\nAreas of consensus:\n")
		for _, a := range s.ConsensusAreas {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(s.DivergenceAreas) > 0 {
		b.WriteString("\nAreas of divergence:\n")
		for _, a := range s.DivergenceAreas {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if len(s.Clusters) > 0 {
		b.WriteString("\nPosition clusters:\n")
		for _, c := range s.Clusters {
			fmt.Fprintf(&b, "- %s (%d experts, confidence %.1f-%.1f)\n",
				c.Theme, len(c.ExpertIDs), c.ConfidenceRange[0], c.ConfidenceRange[1])
		}
	}
	if len(s.KeyInsights) > 0 {
		b.WriteString("\nKey insights:\n")
		for _, k := range s.KeyInsights {
			fmt.Fprintf(&b, "- %s\n", k)
		}
	}
	return b.String()
}

func (o *Orchestrator) record(round int, req perception.ChatRequest, resp *perception.ChatResponse, err error) {
	entry := logging.Interaction{
		AgentType: "orchestrator",
		Role:      "synthesis",
		Round:     round,
		Request:   req,
		Response:  resp,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	o.audit.Record(entry)
}
