// Package process wires personas, agents, the orchestrator, and the
// convergence tracker into the bounded Delphi round loop.
package process

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"delphi/internal/agent"
	"delphi/internal/convergence"
	"delphi/internal/delphi"
	"delphi/internal/logging"
	"delphi/internal/perception"
	"delphi/internal/persona"
)

// State labels the run's position in its lifecycle.
type State string

const (
	StateInitializing    State = "initializing"
	StateRoundInProgress State = "round_in_progress"
	StateConverged       State = "converged"
	StateDiverged        State = "diverged"
	StateMaxRounds       State = "max_rounds_reached"
	StateReportGenerated State = "report_generated"
)

// Options bounds a run. Values are assumed to be already clamped by the
// configuration layer (experts to [3,10], rounds to [1,5]).
type Options struct {
	ExpertCount int
	MaxRounds   int
	Model       string
}

// interfaces over the concrete agents so the loop is testable without a
// network.

type expertRunner interface {
	ID() string
	Role() string
	Respond(ctx context.Context, prompt delphi.Prompt, sharedResearch, priorSynthesis string, round int) (*delphi.ExpertResponse, error)
}

type contrarianRunner interface {
	ID() string
	Challenge(ctx context.Context, synthesisDigest string, dominantThemes []string, round int) (*delphi.ContrarianResponse, error)
}

type synthesizer interface {
	SynthesizeRound(ctx context.Context, roundNumber int, question string, experts []delphi.ExpertResponse, contrarians []delphi.ContrarianResponse) (*delphi.RoundSynthesis, error)
}

type personaSource interface {
	Generate(ctx context.Context, question string, count int) ([]delphi.PersonaSpec, error)
}

type backgroundSearcher interface {
	Search(ctx context.Context, query string, mode perception.SearchMode, contextSize string, opts *perception.SearchOptions) (*perception.SearchResponse, error)
}

// Process owns all per-run state. Nothing in here is shared across
// concurrent runs; each run gets its own instance set.
type Process struct {
	prompt delphi.Prompt
	opts   Options
	logger *zap.Logger
	audit  *logging.InteractionLog

	gen      *perception.GenerationClient
	search   backgroundSearcher
	personas personaSource

	newExpert     func(p delphi.PersonaSpec) expertRunner
	newContrarian func() contrarianRunner
	synth         synthesizer

	roundPause time.Duration
	state      State
}

// New builds a process over the real agents.
func New(prompt delphi.Prompt, opts Options, gen *perception.GenerationClient, search *perception.SearchClient, logger *zap.Logger, audit *logging.InteractionLog) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{
		prompt:   prompt,
		opts:     opts,
		logger:   logger,
		audit:    audit,
		gen:      gen,
		search:   search,
		personas: persona.NewGenerator(gen, opts.Model, logger, audit),
		newExpert: func(p delphi.PersonaSpec) expertRunner {
			return agent.NewExpert(p, opts.Model, gen, search, logger, audit)
		},
		newContrarian: func() contrarianRunner {
			return agent.NewContrarian(opts.Model, gen, search, logger, audit)
		},
		synth:      agent.NewOrchestrator(opts.Model, gen, logger, audit),
		roundPause: time.Second,
		state:      StateInitializing,
	}
}

// State reports the run's current lifecycle state.
func (p *Process) State() State { return p.state }

// contrarianCount is min(2, ceil(expertCount/3)).
func contrarianCount(expertCount int) int {
	n := (expertCount + 2) / 3
	if n > 2 {
		n = 2
	}
	return n
}

// Run executes the bounded round loop and assembles the final report. A
// cancelled or failed run returns an error and no report; partial expert
// failures are recorded in the report's failed-expert log instead.
func (p *Process) Run(ctx context.Context) (*delphi.Report, error) {
	personas, err := p.personas.Generate(ctx, p.prompt.Question, p.opts.ExpertCount)
	if err != nil {
		return nil, err
	}
	if len(personas) > p.opts.ExpertCount {
		personas = personas[:p.opts.ExpertCount]
	}

	experts := make([]expertRunner, len(personas))
	for i, ps := range personas {
		experts[i] = p.newExpert(ps)
	}
	contrarians := make([]contrarianRunner, contrarianCount(len(experts)))
	for i := range contrarians {
		contrarians[i] = p.newContrarian()
	}

	p.logger.Info("panel assembled",
		zap.Int("experts", len(experts)),
		zap.Int("contrarians", len(contrarians)),
		zap.Int("max_rounds", p.opts.MaxRounds))

	tracker := convergence.NewTracker()
	var (
		failed         []delphi.FailedExpert
		allContrarian  []delphi.ContrarianResponse
		prevContrarian []delphi.ContrarianResponse
		lastResponses  []delphi.ExpertResponse
		lastSynthesis  *delphi.RoundSynthesis
		priorDigest    string
	)

	terminal := StateMaxRounds
	for round := 1; round <= p.opts.MaxRounds; round++ {
		p.state = StateRoundInProgress
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run cancelled before round %d: %w", round, err)
		}

		shared := p.sharedResearch(ctx, round)

		responses, roundFailed, err := p.runExperts(ctx, experts, shared, priorDigest, round)
		if err != nil {
			return nil, err
		}
		failed = append(failed, roundFailed...)

		synthesis, err := p.synth.SynthesizeRound(ctx, round, p.prompt.Question, responses, prevContrarian)
		if err != nil {
			return nil, err
		}
		tracker.AddRound(*synthesis, responses)
		lastResponses = responses
		lastSynthesis = synthesis
		priorDigest = agent.FormatSynthesisForReview(synthesis)

		if round >= 2 {
			if tracker.HasConverged() {
				p.logger.Info("panel converged, ending early", zap.Int("round", round))
				terminal = StateConverged
				break
			}
			if tracker.HasStableDivergence() {
				p.logger.Info("panel stabilized in disagreement, ending early", zap.Int("round", round))
				terminal = StateDiverged
				break
			}
		}

		prevContrarian, err = p.runContrarians(ctx, contrarians, synthesis, round)
		if err != nil {
			return nil, err
		}
		allContrarian = append(allContrarian, prevContrarian...)

		if round < p.opts.MaxRounds {
			select {
			case <-time.After(p.roundPause):
			case <-ctx.Done():
				return nil, fmt.Errorf("run cancelled between rounds: %w", ctx.Err())
			}
		}
	}
	p.state = terminal

	metrics, err := tracker.Metrics()
	if err != nil {
		return nil, err
	}

	rep := &delphi.Report{
		Prompt:                 p.prompt,
		ConsensusSummary:       p.consensusSummary(ctx, lastSynthesis, metrics),
		ExpertPositions:        lastResponses,
		ContrarianObservations: allContrarian,
		DissentingViews:        dissentingViews(lastResponses, lastSynthesis),
		ConvergenceAnalysis:    *metrics,
		RoundHistory:           tracker.History(),
		GeneratedAt:            time.Now().UTC().Format(time.RFC3339),
		FailedExperts:          failed,
	}
	p.state = StateReportGenerated
	return rep, nil
}

// sharedResearch performs the once-per-round background search whose
// results are injected into every expert's context. Its failure degrades to
// no shared research rather than failing the round.
func (p *Process) sharedResearch(ctx context.Context, round int) string {
	res, err := p.search.Search(ctx, p.prompt.Question, perception.SearchModeWeb, "low", nil)
	if err != nil {
		p.logger.Warn("shared background search failed", zap.Int("round", round), zap.Error(err))
		return ""
	}
	return agent.RenderSearchResults(res)
}

// runExperts fans out all expert calls concurrently and joins them. Result
// ordering mirrors the agent list, not completion order. A per-expert
// failure is captured, not propagated; only context cancellation aborts.
func (p *Process) runExperts(ctx context.Context, experts []expertRunner, shared, prior string, round int) ([]delphi.ExpertResponse, []delphi.FailedExpert, error) {
	results := make([]*delphi.ExpertResponse, len(experts))
	errs := make([]error, len(experts))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range experts {
		g.Go(func() error {
			resp, err := e.Respond(gctx, p.prompt, shared, prior, round)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("round %d cancelled: %w", round, err)
	}

	var responses []delphi.ExpertResponse
	var failed []delphi.FailedExpert
	for i := range experts {
		if errs[i] != nil {
			p.logger.Warn("expert failed this round",
				zap.Int("round", round),
				zap.String("role", experts[i].Role()),
				zap.Error(errs[i]))
			failed = append(failed, delphi.FailedExpert{
				Role:  experts[i].Role(),
				Round: round,
				Error: errs[i].Error(),
			})
			continue
		}
		responses = append(responses, *results[i])
	}
	return responses, failed, nil
}

// runContrarians fans out the contrarian challenges against the round's
// dominant clusters. A contrarian failure is fatal to the run.
func (p *Process) runContrarians(ctx context.Context, contrarians []contrarianRunner, synthesis *delphi.RoundSynthesis, round int) ([]delphi.ContrarianResponse, error) {
	digest := agent.FormatSynthesisForReview(synthesis)
	themes := agent.IdentifyDominantClusters(synthesis)

	results := make([]*delphi.ContrarianResponse, len(contrarians))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range contrarians {
		g.Go(func() error {
			resp, err := c.Challenge(gctx, digest, themes, round)
			if err != nil {
				return err
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("contrarian challenge failed in round %d: %w", round, err)
	}

	out := make([]delphi.ContrarianResponse, len(results))
	for i, r := range results {
		out[i] = *r
	}
	return out, nil
}

// dissentingViews are the final-round responses whose agent is outside the
// largest cluster. With no clusters at all, dissent is vacuously empty.
func dissentingViews(responses []delphi.ExpertResponse, synthesis *delphi.RoundSynthesis) []delphi.ExpertResponse {
	if synthesis == nil || len(synthesis.Clusters) == 0 {
		return nil
	}

	largest := synthesis.Clusters[0]
	for _, c := range synthesis.Clusters[1:] {
		if len(c.ExpertIDs) > len(largest.ExpertIDs) {
			largest = c
		}
	}
	member := make(map[string]bool, len(largest.ExpertIDs))
	for _, id := range largest.ExpertIDs {
		member[id] = true
	}

	var dissent []delphi.ExpertResponse
	for _, r := range responses {
		if !member[r.AgentID] {
			dissent = append(dissent, r)
		}
	}
	return dissent
}

// consensusSummary asks the generation service for a closing summary of the
// final synthesis, falling back to a deterministic rendering when the call
// fails.
func (p *Process) consensusSummary(ctx context.Context, synthesis *delphi.RoundSynthesis, metrics *delphi.ConvergenceMetrics) string {
	fallback := deterministicSummary(synthesis, metrics)
	if p.gen == nil || synthesis == nil {
		return fallback
	}

	temp := 0.4
	req := perception.ChatRequest{
		Model: p.opts.Model,
		Messages: []perception.Message{
			{Role: "system", Content: "You summarize the outcome of a Delphi expert panel in two or three paragraphs of plain prose."},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\n%s\nTermination: %s. Write the consensus summary.",
				p.prompt.Question, agent.FormatSynthesisForReview(synthesis), metrics.TerminationReason)},
		},
		Temperature: &temp,
		MaxTokens:   1024,
	}
	resp, err := p.gen.Complete(ctx, req)
	p.audit.Record(logging.Interaction{
		AgentType: "process",
		Role:      "consensus summary",
		Round:     synthesis.RoundNumber,
		Request:   req,
		Response:  resp,
		Error:     errString(err),
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		p.logger.Warn("consensus summary generation failed, using deterministic fallback", zap.Error(err))
		return fallback
	}
	return strings.TrimSpace(resp.Content)
}

func deterministicSummary(synthesis *delphi.RoundSynthesis, metrics *delphi.ConvergenceMetrics) string {
	if synthesis == nil {
		return "No rounds were completed."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "After %d round(s), the panel finished with %s.", metrics.RoundsCompleted, metrics.TerminationReason)
	if len(synthesis.ConsensusAreas) > 0 {
		fmt.Fprintf(&b, " Areas of agreement: %s.", strings.Join(synthesis.ConsensusAreas, "; "))
	}
	if len(synthesis.DivergenceAreas) > 0 {
		fmt.Fprintf(&b, " Unresolved disagreements: %s.", strings.Join(synthesis.DivergenceAreas, "; "))
	}
	return b.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
