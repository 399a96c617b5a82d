// Package agent implements the three agent roles of a Delphi run: experts,
// contrarians, and the orchestrator that synthesizes each round.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"delphi/internal/articulation"
	"delphi/internal/delphi"
	"delphi/internal/logging"
	"delphi/internal/perception"
)

// Config is the immutable configuration of one expert agent, derived from
// its generated persona.
type Config struct {
	Role             string
	ExpertiseAreas   []string
	Perspective      string
	BiasInstructions string
}

// ExpertError identifies which expert role failed. The round executor
// treats it as a per-expert failure, not a whole-round failure.
type ExpertError struct {
	Role string
	Err  error
}

func (e *ExpertError) Error() string {
	return fmt.Sprintf("expert %q failed: %v", e.Role, e.Err)
}

func (e *ExpertError) Unwrap() error { return e.Err }

// Expert holds one persona's configuration and a stable identifier used as
// the identity key across rounds.
type Expert struct {
	cfg    Config
	id     string
	model  string
	client *perception.GenerationClient
	search *perception.SearchClient
	logger *zap.Logger
	audit  *logging.InteractionLog
}

// NewExpert builds an expert from its persona. The identifier is generated
// once and stays stable for the life of the run.
func NewExpert(p delphi.PersonaSpec, model string, client *perception.GenerationClient, search *perception.SearchClient, logger *zap.Logger, audit *logging.InteractionLog) *Expert {
	if logger == nil {
		logger = zap.NewNop()
	}
	areas := splitExpertise(p.DomainExpertise)
	return &Expert{
		cfg: Config{
			Role:             p.Role,
			ExpertiseAreas:   areas,
			Perspective:      p.Perspective,
			BiasInstructions: p.Description,
		},
		id:     "expert-" + uuid.NewString()[:8],
		model:  model,
		client: client,
		search: search,
		logger: logger,
		audit:  audit,
	}
}

func splitExpertise(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = []string{s}
	}
	return out
}

// ID returns the expert's stable agent identifier.
func (e *Expert) ID() string { return e.id }

// Role returns the expert's persona role.
func (e *Expert) Role() string { return e.cfg.Role }

var searchEvidenceTool = perception.ToolDefinition{
	Name:        "search_evidence",
	Description: "Search the web for evidence supporting or refuting a position.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
			"search_type": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"web", "academic", "recent"},
				"description": "Which retrieval surface to use",
			},
		},
		"required": []string{"query"},
	},
}

// Respond produces this expert's validated response for one round. The
// expert may elect to call the search tool; its results are fed back before
// the final completion is requested. agent_id and expertise_area on the
// parsed object are force-overwritten with agent-owned values: an expert
// cannot lie about its own identity or role even if the generation drifts.
func (e *Expert) Respond(ctx context.Context, prompt delphi.Prompt, sharedResearch, priorSynthesis string, round int) (*delphi.ExpertResponse, error) {
	messages := []perception.Message{
		{Role: "system", Content: renderExpertSystem(e.cfg, e.id)},
		{Role: "user", Content: renderExpertUser(prompt, sharedResearch, priorSynthesis, round)},
	}

	temp := 0.7
	req := perception.ChatRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   4096,
		Tools:       []perception.ToolDefinition{searchEvidenceTool},
		ToolChoice:  "auto",
	}

	resp, err := e.client.Complete(ctx, req)
	e.record(round, req, resp, err)
	if err != nil {
		return nil, &ExpertError{Role: e.cfg.Role, Err: err}
	}

	if len(resp.ToolCalls) > 0 {
		messages = append(messages, perception.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := e.executeSearch(ctx, call)
			messages = append(messages, perception.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}

		req.Messages = messages
		req.ToolChoice = "none"
		resp, err = e.client.Complete(ctx, req)
		e.record(round, req, resp, err)
		if err != nil {
			return nil, &ExpertError{Role: e.cfg.Role, Err: err}
		}
	}

	payload, err := articulation.FirstObject(resp.Content)
	if err != nil {
		return nil, &ExpertError{Role: e.cfg.Role, Err: err}
	}

	var parsed delphi.ExpertResponse
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, &ExpertError{Role: e.cfg.Role, Err: fmt.Errorf("unparsable expert response: %w", err)}
	}

	parsed.AgentID = e.id
	parsed.ExpertiseArea = strings.Join(e.cfg.ExpertiseAreas, ", ")

	if err := articulation.ValidateExpertResponse(&parsed); err != nil {
		return nil, &ExpertError{Role: e.cfg.Role, Err: err}
	}
	return &parsed, nil
}

type searchArgs struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type"`
}

// executeSearch runs one search tool call and renders the result as tool
// output. Search failures are reported to the model as tool errors rather
// than failing the expert; the model can still answer from its own
// knowledge.
func (e *Expert) executeSearch(ctx context.Context, call perception.ToolCall) string {
	var args searchArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("search error: malformed arguments: %v", err)
	}

	mode := perception.SearchModeWeb
	var opts *perception.SearchOptions
	switch args.SearchType {
	case "academic":
		mode = perception.SearchModeAcademic
	case "recent":
		opts = &perception.SearchOptions{AfterDate: time.Now().AddDate(0, -1, 0)}
	}

	res, err := e.search.Search(ctx, args.Query, mode, "medium", opts)
	if err != nil {
		e.logger.Warn("expert search failed", zap.String("agent_id", e.id), zap.Error(err))
		return fmt.Sprintf("search error: %v", err)
	}
	return RenderSearchResults(res)
}

// RenderSearchResults formats a search response as text for tool output or
// shared research context.
func RenderSearchResults(res *perception.SearchResponse) string {
	var b strings.Builder
	b.WriteString(res.Content)
	if len(res.Citations) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, c := range res.Citations {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Title, c.URL)
		}
	}
	return b.String()
}

func (e *Expert) record(round int, req perception.ChatRequest, resp *perception.ChatResponse, err error) {
	entry := logging.Interaction{
		AgentType: "expert",
		AgentID:   e.id,
		Role:      e.cfg.Role,
		Round:     round,
		Request:   req,
		Response:  resp,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	e.audit.Record(entry)
}
