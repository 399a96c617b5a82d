package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"delphi/internal/articulation"
	"delphi/internal/delphi"
	"delphi/internal/logging"
	"delphi/internal/perception"
)

// counterEvidenceFocuses maps each focus tag to the query terms a
// counter-evidence search may be augmented with. One term is chosen
// pseudo-randomly per search.
var counterEvidenceFocuses = map[string][]string{
	"failures":       {"failure cases", "failed attempts", "why it failed"},
	"risks":          {"risks", "dangers", "unintended consequences"},
	"alternatives":   {"alternative approaches", "competing methods"},
	"criticisms":     {"criticism", "critique of", "objections to"},
	"contradictions": {"contradicting evidence", "conflicting studies"},
}

var counterEvidenceTool = perception.ToolDefinition{
	Name:        "find_counter_evidence",
	Description: "Search for documented evidence against a specific claim.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The claim or topic to find counter-evidence for",
			},
			"focus": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"failures", "risks", "alternatives", "criticisms", "contradictions"},
				"description": "What kind of counter-evidence to look for",
			},
		},
		"required": []string{"query", "focus"},
	},
}

// Contrarian is an agent whose mandate is to challenge the round's dominant
// clusters. It generates in two phases: a draft critique with no search
// capability, then an evidence-augmented final pass where it may elect to
// search. Contrarians are never forced to search.
type Contrarian struct {
	id     string
	model  string
	client *perception.GenerationClient
	search *perception.SearchClient
	logger *zap.Logger
	audit  *logging.InteractionLog
	rng    *rand.Rand
}

// NewContrarian creates a contrarian agent.
func NewContrarian(model string, client *perception.GenerationClient, search *perception.SearchClient, logger *zap.Logger, audit *logging.InteractionLog) *Contrarian {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contrarian{
		id:     "contrarian-" + uuid.NewString()[:8],
		model:  model,
		client: client,
		search: search,
		logger: logger,
		audit:  audit,
		rng:    rand.New(rand.NewSource(rand.Int63())),
	}
}

// ID returns the contrarian's stable agent identifier.
func (c *Contrarian) ID() string { return c.id }

// Challenge critiques a round synthesis. synthesisDigest is the rendered
// round digest; dominantThemes is the orchestrator's targeting list.
// A failure here is fatal to the run.
func (c *Contrarian) Challenge(ctx context.Context, synthesisDigest string, dominantThemes []string, round int) (*delphi.ContrarianResponse, error) {
	system := renderContrarianSystem(c.id)

	// Phase 1: draft, no tools exposed. Keeping search away from the draft
	// avoids premature tool use before the critique has any substance.
	temp := 0.9
	draftReq := perception.ChatRequest{
		Model: c.model,
		Messages: []perception.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: renderContrarianDraftUser(synthesisDigest, dominantThemes)},
		},
		Temperature: &temp,
		MaxTokens:   4096,
	}
	draft, err := c.client.Complete(ctx, draftReq)
	c.record(round, draftReq, draft, err)
	if err != nil {
		return nil, fmt.Errorf("contrarian draft failed: %w", err)
	}

	// Phase 2: evidence-augmented final, with the counter-evidence tool.
	messages := []perception.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: renderContrarianFinalUser(draft.Content)},
	}
	finalReq := perception.ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: &temp,
		MaxTokens:   4096,
		Tools:       []perception.ToolDefinition{counterEvidenceTool},
		ToolChoice:  "auto",
	}
	resp, err := c.client.Complete(ctx, finalReq)
	c.record(round, finalReq, resp, err)
	if err != nil {
		return nil, fmt.Errorf("contrarian final pass failed: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		messages = append(messages, perception.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, perception.Message{
				Role:       "tool",
				Content:    c.executeCounterSearch(ctx, call),
				ToolCallID: call.ID,
			})
		}
		finalReq.Messages = messages
		finalReq.ToolChoice = "none"
		resp, err = c.client.Complete(ctx, finalReq)
		c.record(round, finalReq, resp, err)
		if err != nil {
			return nil, fmt.Errorf("contrarian completion after search failed: %w", err)
		}
	}

	return c.parse(resp.Content)
}

type counterSearchArgs struct {
	Query string `json:"query"`
	Focus string `json:"focus"`
}

func (c *Contrarian) executeCounterSearch(ctx context.Context, call perception.ToolCall) string {
	var args counterSearchArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("search error: malformed arguments: %v", err)
	}

	query := args.Query
	if terms, ok := counterEvidenceFocuses[args.Focus]; ok {
		query = terms[c.rng.Intn(len(terms))] + " " + query
	}

	res, err := c.search.Search(ctx, query, perception.SearchModeWeb, "medium", nil)
	if err != nil {
		c.logger.Warn("counter-evidence search failed", zap.String("agent_id", c.id), zap.Error(err))
		return fmt.Sprintf("search error: %v", err)
	}
	return RenderSearchResults(res)
}

// parse decodes and validates the final contrarian JSON. counter_evidence
// entries pass through citation sanitization because the model frequently
// emits bare URLs or partial objects there.
func (c *Contrarian) parse(content string) (*delphi.ContrarianResponse, error) {
	payload, err := articulation.FirstObject(content)
	if err != nil {
		return nil, fmt.Errorf("contrarian response: %w", err)
	}

	var raw struct {
		Critique             string        `json:"critique"`
		AlternativeFramework string        `json:"alternative_framework"`
		BlindSpots           []string      `json:"blind_spots"`
		CounterEvidence      []interface{} `json:"counter_evidence"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("unparsable contrarian response: %w", err)
	}

	out := &delphi.ContrarianResponse{
		Critique:             raw.Critique,
		AlternativeFramework: raw.AlternativeFramework,
		BlindSpots:           raw.BlindSpots,
		AgentID:              c.id,
	}
	for i, entry := range raw.CounterEvidence {
		cit := perception.SanitizeCitation(entry, i)
		ev := delphi.CounterEvidence{Title: cit.Title, URL: cit.URL}
		if m, ok := entry.(map[string]interface{}); ok {
			if s, ok := m["summary"].(string); ok {
				ev.Summary = s
			}
		}
		out.CounterEvidence = append(out.CounterEvidence, ev)
	}

	if err := articulation.ValidateContrarianResponse(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Contrarian) record(round int, req perception.ChatRequest, resp *perception.ChatResponse, err error) {
	entry := logging.Interaction{
		AgentType: "contrarian",
		AgentID:   c.id,
		Role:      "contrarian",
		Round:     round,
		Request:   req,
		Response:  resp,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.audit.Record(entry)
}
