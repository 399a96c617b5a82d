// Package perception wraps the two external network collaborators: the
// generative text service (OpenAI-compatible chat completions with tool
// invocation) and the web search service. Both wrappers absorb the
// transient failure modes of their upstreams so callers see either usable
// content or a definite error, never an ambiguous empty success.
package perception

import "time"

// TokenParam selects which max-output-tokens parameter name a request is
// sent with. Models disagree on which of the two names they accept; the
// generation client swaps between them when the upstream rejects one.
type TokenParam string

const (
	TokenParamLegacy     TokenParam = "max_tokens"
	TokenParamCompletion TokenParam = "max_completion_tokens"
)

// Message is one entry in the ordered conversation sent to the generation
// service. ToolCalls is populated on assistant messages that request tool
// execution; ToolCallID ties a tool-role message back to the call it
// answers.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the tool name and its JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ChatRequest is a provider-neutral completion request. Temperature is a
// pointer so the transformation loop can distinguish "unset" from zero and
// strip it when a model rejects the parameter.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	TokenParam  TokenParam
	Tools       []ToolDefinition
	ToolChoice  string
}

// ChatResponse is the usable part of a completion: non-empty text content,
// tool calls, or both. Model records which model actually served the
// request (it may be the fallback).
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Model     string
}

// wire-level chat completion types, OpenAI-compatible.

type chatCompletionRequest struct {
	Model               string        `json:"model"`
	Messages            []Message     `json:"messages"`
	Temperature         *float64      `json:"temperature,omitempty"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Tools               []wireTool    `json:"tools,omitempty"`
	ToolChoice          string        `json:"tool_choice,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Param   string `json:"param"`
}

// GenerationConfig configures the generation client.
type GenerationConfig struct {
	APIKey        string
	BaseURL       string
	FallbackModel string
	Timeout       time.Duration
}

// SearchMode selects the retrieval surface of the search service.
type SearchMode string

const (
	SearchModeWeb      SearchMode = "web"
	SearchModeAcademic SearchMode = "academic"
	SearchModeTopic    SearchMode = "topic"
)

// SearchConfig configures the search client.
type SearchConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}
