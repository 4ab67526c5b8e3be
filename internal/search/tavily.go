// Package search fetches short web-search digests that analysis stages embed
// in their prompts.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Defaults for the Tavily search API.
const (
	DefaultTavilyURL  = "https://api.tavily.com/search"
	DefaultMaxResults = 3
	DefaultTimeout    = 15 * time.Second
)

// ErrNoAPIKey is returned when a Tavily client is built without a key.
var ErrNoAPIKey = errors.New("TAVILY_API_KEY is not set")

// Searcher returns a plain-text digest of search results for query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// TavilyConfig configures a TavilyClient.
type TavilyConfig struct {
	APIKey     string
	URL        string
	MaxResults int
	Timeout    time.Duration
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey     string
	url        string
	maxResults int
	http       *http.Client
}

var _ Searcher = (*TavilyClient)(nil)

// NewTavily creates a client. It fails only when no API key is configured.
func NewTavily(cfg TavilyConfig) (*TavilyClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	url := cfg.URL
	if url == "" {
		url = DefaultTavilyURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &TavilyClient{
		apiKey:     cfg.APIKey,
		url:        url,
		maxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
	}, nil
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type tavilyResponse struct {
	Results []Result `json:"results"`
}

// Results runs query and returns the raw hits.
func (c *TavilyClient) Results(ctx context.Context, query string) ([]Result, error) {
	payload, err := json.Marshal(tavilyRequest{APIKey: c.apiKey, Query: query, MaxResults: c.maxResults})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %s", resp.Status)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(decoded.Results) > c.maxResults {
		decoded.Results = decoded.Results[:c.maxResults]
	}
	return decoded.Results, nil
}

// Search runs query and formats the hits one per line.
func (c *TavilyClient) Search(ctx context.Context, query string) (string, error) {
	results, err := c.Results(ctx, query)
	if err != nil {
		return "", err
	}
	return Format(results), nil
}

// Format renders hits as "title: content (url)" lines.
func Format(results []Result) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s (%s)", strings.TrimSpace(r.Title), strings.Join(strings.Fields(r.Content), " "), r.URL)
	}
	return sb.String()
}
