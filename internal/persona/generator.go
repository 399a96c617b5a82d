// Package persona generates the expert identities for a Delphi run.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"delphi/internal/articulation"
	"delphi/internal/delphi"
	"delphi/internal/logging"
	"delphi/internal/perception"
)

// GenerationError means the persona generation call produced nothing the
// run can proceed with. There is no retry at this layer; the failure is
// fatal to the run.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("persona generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("persona generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Generator produces expert persona records from the run question via one
// generation call.
type Generator struct {
	client *perception.GenerationClient
	model  string
	logger *zap.Logger
	audit  *logging.InteractionLog
}

// NewGenerator creates a persona generator.
func NewGenerator(client *perception.GenerationClient, model string, logger *zap.Logger, audit *logging.InteractionLog) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, model: model, logger: logger, audit: audit}
}

const systemPrompt = `You are an expert panel designer. Given a question, you design a diverse panel of domain experts whose combined perspectives cover the question from multiple angles. Respond only with the requested JSON.`

func userPrompt(question string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design %d distinct expert personas to answer the following question through a structured Delphi process.\n\n", count)
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	b.WriteString(`Return a JSON array with exactly one object per persona. Each object must have these string fields:
"name", "role", "domain_expertise", "perspective", "work_background", "education_history", "justification", "description".
Make the perspectives genuinely different from each other. Return only the JSON array.`)
	return b.String()
}

// Generate requests count personas and validates the returned array. The
// response may wrap the JSON array in prose; the first bracketed array
// substring is extracted.
func (g *Generator) Generate(ctx context.Context, question string, count int) ([]delphi.PersonaSpec, error) {
	temp := 0.9
	req := perception.ChatRequest{
		Model: g.model,
		Messages: []perception.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(question, count)},
		},
		Temperature: &temp,
		MaxTokens:   4096,
	}

	g.logger.Info("generating expert personas", zap.Int("count", count))

	resp, err := g.client.Complete(ctx, req)
	g.audit.Record(logging.Interaction{
		AgentType: "persona_generator",
		Role:      "panel design",
		Request:   req,
		Response:  resp,
		Error:     errString(err),
	})
	if err != nil {
		return nil, &GenerationError{Reason: "generation call failed", Err: err}
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, &GenerationError{Reason: "empty response"}
	}

	payload, err := articulation.FirstArray(resp.Content)
	if err != nil {
		return nil, &GenerationError{Reason: "no JSON array in response", Err: err}
	}

	var personas []delphi.PersonaSpec
	if err := json.Unmarshal([]byte(payload), &personas); err != nil {
		return nil, &GenerationError{Reason: "unparsable persona array", Err: err}
	}
	if len(personas) == 0 {
		return nil, &GenerationError{Reason: "persona array is empty"}
	}

	for i := range personas {
		if err := articulation.ValidatePersonaSpec(&personas[i]); err != nil {
			return nil, &GenerationError{Reason: fmt.Sprintf("persona %d malformed", i+1), Err: err}
		}
	}

	g.logger.Info("personas generated", zap.Int("count", len(personas)))
	return personas, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
