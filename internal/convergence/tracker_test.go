package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/delphi"
)

func expertResp(id, position string, confidence float64, urls ...string) delphi.ExpertResponse {
	r := delphi.ExpertResponse{
		Position:      position,
		Reasoning:     "reasoning",
		Confidence:    confidence,
		ExpertiseArea: "area",
		AgentID:       id,
	}
	for _, u := range urls {
		r.Sources = append(r.Sources, delphi.Citation{Title: u, URL: u})
	}
	return r
}

func synthesis(round int, clusters []delphi.ExpertCluster, consensus, divergence []string, avgConf float64, participants int) delphi.RoundSynthesis {
	return delphi.RoundSynthesis{
		RoundNumber:        round,
		Clusters:           clusters,
		ConsensusAreas:     consensus,
		DivergenceAreas:    divergence,
		AverageConfidence:  avgConf,
		ParticipationCount: participants,
	}
}

func TestMetricsRequiresAtLeastOneRound(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Metrics()
	require.Error(t, err)
}

func TestPositionStabilitySingleRoundIsVacuouslyStable(t *testing.T) {
	tr := NewTracker()
	tr.AddRound(synthesis(1, nil, nil, nil, 5, 2), []delphi.ExpertResponse{
		expertResp("e1", "nuclear power should expand significantly", 6, "https://a.example/1"),
		expertResp("e2", "renewables alone cannot cover baseload demand", 7, "https://a.example/2"),
	})

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.PositionStability)
	assert.Equal(t, 1, m.RoundsCompleted)
}

func TestPositionStabilityIdenticalPositions(t *testing.T) {
	tr := NewTracker()
	pos := "nuclear power should expand significantly over coming decades"
	for round := 1; round <= 2; round++ {
		tr.AddRound(synthesis(round, nil, nil, nil, 6, 2), []delphi.ExpertResponse{
			expertResp("e1", pos, 6, "https://a.example/1"),
			expertResp("e2", pos, 7, "https://a.example/2"),
		})
	}

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.PositionStability)
}

func TestPositionStabilityCompletelyChangedPositions(t *testing.T) {
	tr := NewTracker()
	tr.AddRound(synthesis(1, nil, nil, nil, 6, 2), []delphi.ExpertResponse{
		expertResp("e1", "expand nuclear capacity aggressively nationwide", 6, "https://a.example/1"),
		expertResp("e2", "prioritize offshore wind infrastructure projects", 7, "https://a.example/2"),
	})
	tr.AddRound(synthesis(2, nil, nil, nil, 6, 2), []delphi.ExpertResponse{
		expertResp("e1", "geothermal deserves primary consideration instead", 6, "https://a.example/1"),
		expertResp("e2", "carbon pricing matters more than generation choices", 7, "https://a.example/2"),
	})

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.PositionStability)
}

func TestPositionStabilityIgnoresShortWordsAndCase(t *testing.T) {
	// The two positions differ only in words of three characters or fewer
	// and in casing, so the token sets are identical.
	tr := NewTracker()
	tr.AddRound(synthesis(1, nil, nil, nil, 6, 1), []delphi.ExpertResponse{
		expertResp("e1", "THE Answer DEPENDS on REGIONAL conditions", 6, "https://a.example/1"),
	})
	tr.AddRound(synthesis(2, nil, nil, nil, 6, 1), []delphi.ExpertResponse{
		expertResp("e1", "answer depends now and on regional conditions", 6, "https://a.example/1"),
	})

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.PositionStability)
}

func TestConfidenceSpreadUsesClusterMidpointsOfLatestRound(t *testing.T) {
	tr := NewTracker()
	// Midpoints 5 and 9; population stddev of {5, 9} is 2.
	clusters := []delphi.ExpertCluster{
		{Theme: "a", ExpertIDs: []string{"e1"}, ConfidenceRange: [2]float64{4, 6}},
		{Theme: "b", ExpertIDs: []string{"e2"}, ConfidenceRange: [2]float64{8, 10}},
	}
	tr.AddRound(synthesis(1, clusters, nil, nil, 7, 2), nil)

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, m.ConfidenceSpread, 1e-9)
}

func TestConfidenceSpreadZeroWithoutClusters(t *testing.T) {
	tr := NewTracker()
	tr.AddRound(synthesis(1, nil, nil, nil, 5, 3), nil)

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.ConfidenceSpread)
}

func TestConsensusClarityWeightedSum(t *testing.T) {
	// One cluster holding all five experts, only consensus areas, average
	// confidence 8: 0.4*1 + 0.3*1 + 0.3*0.8 = 0.94.
	tr := NewTracker()
	cluster := delphi.ExpertCluster{
		Theme:           "expand",
		ExpertIDs:       []string{"e1", "e2", "e3", "e4", "e5"},
		ConfidenceRange: [2]float64{7, 9},
	}
	tr.AddRound(synthesis(1, []delphi.ExpertCluster{cluster}, []string{"expansion is warranted"}, nil, 8, 5), nil)

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.InDelta(t, 0.94, m.ConsensusClarity, 1e-9)
}

func TestConsensusClarityLowWhenPanelSplit(t *testing.T) {
	// No consensus areas, two singleton clusters out of two participants,
	// low confidence: 0.4*0 + 0.3*0.5 + 0.3*0.2 = 0.21.
	tr := NewTracker()
	clusters := []delphi.ExpertCluster{
		{Theme: "a", ExpertIDs: []string{"e1"}, ConfidenceRange: [2]float64{2, 2}},
		{Theme: "b", ExpertIDs: []string{"e2"}, ConfidenceRange: [2]float64{2, 2}},
	}
	tr.AddRound(synthesis(1, clusters, nil, []string{"everything"}, 2, 2), nil)

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.InDelta(t, 0.21, m.ConsensusClarity, 1e-9)
}

func TestCitationOverlapBinaryPerPair(t *testing.T) {
	t.Run("disjoint_sets", func(t *testing.T) {
		tr := NewTracker()
		tr.AddRound(synthesis(1, nil, nil, nil, 5, 2), []delphi.ExpertResponse{
			expertResp("e1", "position one stated here", 5, "https://x.example/1", "https://x.example/2"),
			expertResp("e2", "position two stated here", 5, "https://x.example/3"),
		})
		m, err := tr.Metrics()
		require.NoError(t, err)
		assert.Equal(t, 0.0, m.CitationOverlap)
	})

	t.Run("single_shared_url_counts_as_full_pair_overlap", func(t *testing.T) {
		tr := NewTracker()
		tr.AddRound(synthesis(1, nil, nil, nil, 5, 2), []delphi.ExpertResponse{
			expertResp("e1", "position one stated here", 5, "https://x.example/1", "https://x.example/2"),
			expertResp("e2", "position two stated here", 5, "https://x.example/1", "https://x.example/4"),
		})
		m, err := tr.Metrics()
		require.NoError(t, err)
		assert.Equal(t, 1.0, m.CitationOverlap)
	})

	t.Run("one_overlapping_pair_of_three", func(t *testing.T) {
		tr := NewTracker()
		tr.AddRound(synthesis(1, nil, nil, nil, 5, 3), []delphi.ExpertResponse{
			expertResp("e1", "position one stated here", 5, "https://x.example/1"),
			expertResp("e2", "position two stated here", 5, "https://x.example/1"),
			expertResp("e3", "position three stated here", 5, "https://x.example/2"),
		})
		m, err := tr.Metrics()
		require.NoError(t, err)
		assert.InDelta(t, 1.0/3.0, m.CitationOverlap, 1e-9)
	})

	t.Run("vacuous_with_single_expert", func(t *testing.T) {
		tr := NewTracker()
		tr.AddRound(synthesis(1, nil, nil, nil, 5, 1), []delphi.ExpertResponse{
			expertResp("e1", "position one stated here", 5, "https://x.example/1"),
		})
		m, err := tr.Metrics()
		require.NoError(t, err)
		assert.Equal(t, 1.0, m.CitationOverlap)
	})
}

func TestDeriveTerminationReason(t *testing.T) {
	tests := []struct {
		name string
		m    delphi.ConvergenceMetrics
		want delphi.TerminationReason
	}{
		{
			name: "consensus",
			m:    delphi.ConvergenceMetrics{ConsensusClarity: 0.85, PositionStability: 0.85, ConfidenceSpread: 1.0},
			want: delphi.TerminationConsensusReached,
		},
		{
			name: "divergence",
			m:    delphi.ConvergenceMetrics{ConsensusClarity: 0.3, PositionStability: 0.95, ConfidenceSpread: 3.0},
			want: delphi.TerminationDivergenceStable,
		},
		{
			name: "spread_blocks_consensus",
			m:    delphi.ConvergenceMetrics{ConsensusClarity: 0.85, PositionStability: 0.85, ConfidenceSpread: 1.5},
			want: delphi.TerminationMaxRounds,
		},
		{
			name: "thresholds_are_strict",
			m:    delphi.ConvergenceMetrics{ConsensusClarity: 0.8, PositionStability: 0.8, ConfidenceSpread: 1.0},
			want: delphi.TerminationMaxRounds,
		},
		{
			name: "stable_but_middling_clarity",
			m:    delphi.ConvergenceMetrics{ConsensusClarity: 0.6, PositionStability: 0.95, ConfidenceSpread: 1.0},
			want: delphi.TerminationMaxRounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveTerminationReason(&tt.m))
		})
	}
}

func TestHasConvergedNeverFiresBeforeTwoRounds(t *testing.T) {
	tr := NewTracker()
	// A first round that would satisfy every threshold on its own.
	cluster := delphi.ExpertCluster{
		Theme:           "agree",
		ExpertIDs:       []string{"e1", "e2", "e3"},
		ConfidenceRange: [2]float64{8, 9},
	}
	tr.AddRound(synthesis(1, []delphi.ExpertCluster{cluster}, []string{"all agree"}, nil, 8.5, 3), []delphi.ExpertResponse{
		expertResp("e1", "shared position everyone holds", 8, "https://s.example/1"),
		expertResp("e2", "shared position everyone holds", 9, "https://s.example/1"),
		expertResp("e3", "shared position everyone holds", 8.5, "https://s.example/1"),
	})

	assert.False(t, tr.HasConverged())
	assert.False(t, tr.HasStableDivergence())
}

func TestHasConvergedAfterStableAgreement(t *testing.T) {
	tr := NewTracker()
	cluster := delphi.ExpertCluster{
		Theme:           "agree",
		ExpertIDs:       []string{"e1", "e2"},
		ConfidenceRange: [2]float64{8, 9},
	}
	for round := 1; round <= 2; round++ {
		tr.AddRound(
			synthesis(round, []delphi.ExpertCluster{cluster}, []string{"broad agreement"}, nil, 8.5, 2),
			[]delphi.ExpertResponse{
				expertResp("e1", "shared position everyone holds firmly", 8, "https://s.example/1"),
				expertResp("e2", "shared position everyone holds firmly", 9, "https://s.example/1"),
			})
	}

	assert.True(t, tr.HasConverged())
	assert.False(t, tr.HasStableDivergence())

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, delphi.TerminationConsensusReached, m.TerminationReason)
}

func TestHasStableDivergence(t *testing.T) {
	tr := NewTracker()
	clusters := []delphi.ExpertCluster{
		{Theme: "camp a", ExpertIDs: []string{"e1"}, ConfidenceRange: [2]float64{3, 3}},
		{Theme: "camp b", ExpertIDs: []string{"e2"}, ConfidenceRange: [2]float64{3, 3}},
	}
	for round := 1; round <= 2; round++ {
		tr.AddRound(
			synthesis(round, clusters, nil, []string{"everything remains contested"}, 3, 2),
			[]delphi.ExpertResponse{
				expertResp("e1", "strict regulation before any deployment", 3, "https://d.example/1"),
				expertResp("e2", "deployment first with iterative guardrails", 3, "https://d.example/2"),
			})
	}

	assert.True(t, tr.HasStableDivergence())
	assert.False(t, tr.HasConverged())
}

func TestHistoryReturnsCopy(t *testing.T) {
	tr := NewTracker()
	tr.AddRound(synthesis(1, nil, []string{"original"}, nil, 5, 1), nil)

	h := tr.History()
	require.Len(t, h, 1)
	h[0].ConsensusAreas = []string{"mutated"}

	assert.Equal(t, []string{"original"}, tr.History()[0].ConsensusAreas)
}

func TestSparseHistoriesSkipExpertsWithoutTwoResponses(t *testing.T) {
	tr := NewTracker()
	tr.AddRound(synthesis(1, nil, nil, nil, 5, 2), []delphi.ExpertResponse{
		expertResp("e1", "consistent position about nuclear expansion", 5, "https://a.example/1"),
		expertResp("e2", "temporary position before dropping out", 5, "https://a.example/2"),
	})
	// e2 failed in round 2; only e1 is eligible for stability.
	tr.AddRound(synthesis(2, nil, nil, nil, 5, 1), []delphi.ExpertResponse{
		expertResp("e1", "consistent position about nuclear expansion", 5, "https://a.example/1"),
	})

	m, err := tr.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.PositionStability)
	assert.Equal(t, 2, m.RoundsCompleted)
}
