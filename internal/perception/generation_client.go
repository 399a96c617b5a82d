package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxTransformAttempts bounds the adaptive retry loop. Each attempt either
// succeeds, applies one request transformation, or fails fatally.
const maxTransformAttempts = 5

// DefaultGenerationConfig returns sensible defaults. The fallback model is
// substituted when the requested model is unknown or returns empty output.
func DefaultGenerationConfig(apiKey string) GenerationConfig {
	return GenerationConfig{
		APIKey:        apiKey,
		BaseURL:       "https://api.openai.com/v1",
		FallbackModel: "gpt-4o",
		Timeout:       3 * time.Minute,
	}
}

// GenerationClient is a chat-completion wrapper with an adaptive
// transformation loop for parameter incompatibilities across models:
//   - temperature rejected as unsupported: stripped and retried
//   - one max-output-tokens parameter name rejected: swapped and retried
//     (both directions)
//   - unknown/invalid model: fallback model substituted and retried
//   - empty response from a non-fallback model: retried once on the fallback
//
// Any other error propagates immediately. Callers always receive either a
// response with usable content (text or tool calls) or an error.
type GenerationClient struct {
	apiKey        string
	baseURL       string
	fallbackModel string
	httpClient    *http.Client
	logger        *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGenerationClient creates a generation client.
func NewGenerationClient(cfg GenerationConfig, logger *zap.Logger) *GenerationClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = "gpt-4o"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationClient{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		fallbackModel: cfg.FallbackModel,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
	}
}

// FallbackModel reports the configured fallback model identifier.
func (c *GenerationClient) FallbackModel() string { return c.fallbackModel }

// Complete issues the request, applying request transformations until the
// model yields usable content or a fatal error occurs.
func (c *GenerationClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("generation API key not configured")
	}
	if req.TokenParam == "" {
		req.TokenParam = TokenParamLegacy
	}

	var lastErr error
	for attempt := 1; attempt <= maxTransformAttempts; attempt++ {
		c.throttle()

		resp, apiErr, err := c.post(ctx, req)
		if err != nil {
			return nil, err
		}

		if apiErr != nil {
			transformed, terr := c.transform(&req, apiErr)
			if terr != nil {
				return nil, terr
			}
			if !transformed {
				return nil, fmt.Errorf("generation request failed: %s", apiErr.Message)
			}
			lastErr = fmt.Errorf("generation parameter rejected: %s", apiErr.Message)
			continue
		}

		out := extractContent(resp)
		if out != nil {
			out.Model = req.Model
			return out, nil
		}

		// Empty success. Retry once against the fallback model; an empty
		// response from the fallback itself is fatal.
		if req.Model != c.fallbackModel {
			c.logger.Warn("empty generation response, retrying on fallback model",
				zap.String("model", req.Model),
				zap.String("fallback", c.fallbackModel))
			req.Model = c.fallbackModel
			lastErr = fmt.Errorf("model %s returned an empty response", resp.Model)
			continue
		}
		return nil, fmt.Errorf("generation service returned no usable content (model %s)", req.Model)
	}

	return nil, fmt.Errorf("generation request exhausted %d attempts: %w", maxTransformAttempts, lastErr)
}

// transform mutates req according to the recognized parameter
// incompatibilities. Returns false when the error is not transformable.
func (c *GenerationClient) transform(req *ChatRequest, apiErr *apiError) (bool, error) {
	msg := strings.ToLower(apiErr.Message)

	if req.Temperature != nil && strings.Contains(msg, "temperature") &&
		(strings.Contains(msg, "unsupported") || strings.Contains(msg, "does not support") || strings.Contains(msg, "not supported")) {
		c.logger.Debug("stripping unsupported temperature parameter", zap.String("model", req.Model))
		req.Temperature = nil
		return true, nil
	}

	// Token parameter name swap, both directions. The upstream error names
	// the parameter it objects to (or the one it wants instead).
	if strings.Contains(msg, string(TokenParamCompletion)) || apiErr.Param == string(TokenParamCompletion) {
		return c.swapTokenParam(req, TokenParamLegacy, TokenParamCompletion)
	}
	if strings.Contains(msg, string(TokenParamLegacy)) || apiErr.Param == string(TokenParamLegacy) {
		return c.swapTokenParam(req, TokenParamCompletion, TokenParamLegacy)
	}

	if strings.Contains(msg, "model") &&
		(strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist") ||
			strings.Contains(msg, "invalid") || strings.Contains(msg, "unknown") ||
			strings.Contains(msg, "not available")) {
		if req.Model == c.fallbackModel {
			return false, fmt.Errorf("fallback model %s rejected: %s", req.Model, apiErr.Message)
		}
		c.logger.Warn("model rejected, substituting fallback",
			zap.String("model", req.Model),
			zap.String("fallback", c.fallbackModel))
		req.Model = c.fallbackModel
		return true, nil
	}

	return false, nil
}

// swapTokenParam flips the token parameter name. mentioned is the parameter
// the error message referenced: if the request already uses the other name,
// the upstream is telling us to switch to the mentioned one; if the request
// uses the mentioned name, the upstream rejected it and we switch away.
func (c *GenerationClient) swapTokenParam(req *ChatRequest, other, mentioned TokenParam) (bool, error) {
	var target TokenParam
	switch req.TokenParam {
	case mentioned:
		target = other
	default:
		target = mentioned
	}
	if target == req.TokenParam {
		return false, nil
	}
	c.logger.Debug("swapping max-output-tokens parameter name",
		zap.String("model", req.Model),
		zap.String("from", string(req.TokenParam)),
		zap.String("to", string(target)))
	req.TokenParam = target
	return true, nil
}

// post issues one wire request. A non-nil apiError means the upstream
// answered with a structured error the transformation loop may handle;
// a non-nil error is fatal.
func (c *GenerationClient) post(ctx context.Context, req ChatRequest) (*chatCompletionResponse, *apiError, error) {
	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		ToolChoice:  req.ToolChoice,
	}
	switch req.TokenParam {
	case TokenParamCompletion:
		body.MaxCompletionTokens = req.MaxTokens
	default:
		body.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to decode generation response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return nil, parsed.Error, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("generation request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &parsed, nil, nil
}

// extractContent returns nil when the response carries nothing usable.
func extractContent(resp *chatCompletionResponse) *ChatResponse {
	if len(resp.Choices) == 0 {
		return nil
	}
	msg := resp.Choices[0].Message
	if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
		return nil
	}
	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	}
}

// throttle enforces a minimum gap between requests.
func (c *GenerationClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}
