package perception

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"delphi/internal/delphi"
)

const (
	searchMaxAttempts = 3
	searchBackoffBase = time.Second
)

// SearchOptions carries the optional filters of a search request.
type SearchOptions struct {
	DomainFilter []string
	AfterDate    time.Time
	BeforeDate   time.Time
}

// SearchResponse is the normalized result of one search call. SearchResults
// always has at least as many entries as Citations when citations exist.
type SearchResponse struct {
	Content       string
	Citations     []delphi.Citation
	SearchResults []delphi.SearchResult
}

// SearchClient wraps the web search service with a bounded exponential
// backoff retry. Only timeouts and 5xx-class server errors are retried;
// everything else is fatal immediately.
type SearchClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// DefaultSearchConfig returns sensible defaults.
func DefaultSearchConfig(apiKey string) SearchConfig {
	return SearchConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.perplexity.ai",
		Timeout: 30 * time.Second,
	}
}

// NewSearchClient creates a search client.
func NewSearchClient(cfg SearchConfig, logger *zap.Logger) *SearchClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		sleep:      time.Sleep,
	}
}

type searchWireRequest struct {
	Query             string   `json:"query"`
	Mode              string   `json:"mode"`
	SearchContextSize string   `json:"search_context_size,omitempty"`
	DomainFilter      []string `json:"search_domain_filter,omitempty"`
	AfterDateFilter   string   `json:"search_after_date_filter,omitempty"`
	BeforeDateFilter  string   `json:"search_before_date_filter,omitempty"`
}

type searchWireResponse struct {
	Content       string        `json:"content"`
	Citations     []interface{} `json:"citations"`
	SearchResults []struct {
		Title          string  `json:"title"`
		URL            string  `json:"url"`
		Summary        string  `json:"summary"`
		Snippet        string  `json:"snippet"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"search_results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Search performs a retrieval call. Date filters are normalized to the
// MM/DD/YYYY textual format the upstream expects.
func (c *SearchClient) Search(ctx context.Context, query string, mode SearchMode, contextSize string, opts *SearchOptions) (*SearchResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("search API key not configured")
	}

	wireReq := searchWireRequest{
		Query:             query,
		Mode:              string(mode),
		SearchContextSize: contextSize,
	}
	if opts != nil {
		wireReq.DomainFilter = opts.DomainFilter
		if !opts.AfterDate.IsZero() {
			wireReq.AfterDateFilter = opts.AfterDate.Format("01/02/2006")
		}
		if !opts.BeforeDate.IsZero() {
			wireReq.BeforeDateFilter = opts.BeforeDate.Format("01/02/2006")
		}
	}

	payload, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < searchMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := searchBackoffBase << uint(attempt-1)
			c.logger.Debug("retrying search after backoff",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			c.sleep(backoff)
		}

		resp, retryable, err := c.doSearch(ctx, payload, query)
		if err == nil {
			return resp, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("search failed after %d attempts: %w", searchMaxAttempts, lastErr)
}

// doSearch issues one wire call. retryable is true only for timeouts and
// 5xx responses.
func (c *SearchClient) doSearch(ctx context.Context, payload []byte, query string) (*SearchResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, true, fmt.Errorf("search request timed out: %w", err)
		}
		return nil, false, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("search service error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("search request rejected (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed searchWireResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode search response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("search service error: %s", parsed.Error.Message)
	}

	out := &SearchResponse{
		Content:   parsed.Content,
		Citations: SanitizeCitations(parsed.Citations),
	}
	for _, r := range parsed.SearchResults {
		summary := r.Summary
		if summary == "" {
			summary = r.Snippet
		}
		out.SearchResults = append(out.SearchResults, delphi.SearchResult{
			Title:          r.Title,
			URL:            r.URL,
			Summary:        summary,
			RelevanceScore: r.RelevanceScore,
		})
	}

	// Some upstream modes return citations without a structured result
	// list. Synthesize one entry per citation so callers always have at
	// least as many results as citations.
	if len(out.SearchResults) == 0 && len(out.Citations) > 0 {
		for _, cit := range out.Citations {
			out.SearchResults = append(out.SearchResults, delphi.SearchResult{
				Title:          cit.Title,
				URL:            cit.URL,
				Summary:        fmt.Sprintf("Result for query: %s", query),
				RelevanceScore: 0.7,
			})
		}
	}

	return out, false, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout exceeded")
}
