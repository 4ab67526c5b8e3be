package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Defaults for the OpenAI-compatible backends.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOpenAITimeout = 30 * time.Second

	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3:latest"
	DefaultOllamaTimeout = 120 * time.Second

	DefaultMaxTokens = 2000
)

// ProbeStyle selects how a ChatClient checks reachability.
type ProbeStyle int

const (
	// ProbeChat sends a one-word chat completion.
	ProbeChat ProbeStyle = iota
	// ProbeOllamaTags lists local models via GET /api/tags.
	ProbeOllamaTags
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI chat completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the first choice of a chat completion.
type ChatResponse struct {
	Content      string
	FinishReason string
}

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	// Name is the model-selection tag the client answers to.
	Name string
	// BaseURL may list several endpoints separated by commas; they are tried in order.
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Probe       ProbeStyle
}

// OpenAIConfig returns the default configuration for the hosted OpenAI API.
func OpenAIConfig(apiKey string) ChatConfig {
	return ChatConfig{
		Name:      "openai",
		BaseURL:   DefaultOpenAIBaseURL,
		APIKey:    apiKey,
		Model:     DefaultOpenAIModel,
		MaxTokens: DefaultMaxTokens,
		Timeout:   DefaultOpenAITimeout,
		Probe:     ProbeChat,
	}
}

// OllamaConfig returns the default configuration for a local Ollama server.
func OllamaConfig() ChatConfig {
	return ChatConfig{
		Name:      "ollama",
		BaseURL:   DefaultOllamaBaseURL,
		Model:     DefaultOllamaModel,
		MaxTokens: DefaultMaxTokens,
		Timeout:   DefaultOllamaTimeout,
		Probe:     ProbeOllamaTags,
	}
}

// ChatClient talks to any OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	name        string
	baseURLs    []string
	model       string
	apiKey      string
	temperature float32
	maxTokens   int
	probe       ProbeStyle
	http        *http.Client
}

var _ Provider = (*ChatClient)(nil)

// NewChatClient creates a client from cfg.
func NewChatClient(cfg ChatConfig) *ChatClient {
	baseURLs := splitBaseURLs(cfg.BaseURL)
	if len(baseURLs) == 0 {
		baseURLs = []string{normalizeBaseURL(DefaultOpenAIBaseURL)}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultOpenAITimeout
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &ChatClient{
		name:        name,
		baseURLs:    baseURLs,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		probe:       cfg.Probe,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

// Name returns the model-selection tag.
func (c *ChatClient) Name() string { return c.name }

// Model returns the configured model.
func (c *ChatClient) Model() string { return c.model }

// Complete sends p as a system + user chat and returns the first choice.
func (c *ChatClient) Complete(ctx context.Context, p Prompt) (string, error) {
	msgs := make([]Message, 0, 2)
	if p.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: p.System})
	}
	msgs = append(msgs, Message{Role: "user", Content: p.User})

	resp, err := c.Chat(ctx, ChatRequest{
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Chat sends req to each configured endpoint in turn until one answers.
func (c *ChatClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if c == nil {
		return ChatResponse{}, fmt.Errorf("llm client is nil")
	}
	if len(req.Messages) == 0 {
		return ChatResponse{}, fmt.Errorf("llm chat requires at least one message")
	}
	if req.Model == "" {
		req.Model = c.model
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	failures := make([]string, 0, len(c.baseURLs))
	for _, baseURL := range c.baseURLs {
		resp, err := c.chatAtEndpoint(ctx, baseURL+"/chat/completions", payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return ChatResponse{}, fmt.Errorf("%s: %w", c.name, ctx.Err())
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", baseURL, err))
	}
	return ChatResponse{}, fmt.Errorf("%s request failed across endpoints: %s", c.name, strings.Join(failures, " | "))
}

// Probe checks that the backend answers.
func (c *ChatClient) Probe(ctx context.Context) error {
	if c.probe == ProbeOllamaTags {
		_, err := c.ListModels(ctx)
		return err
	}
	_, err := c.Chat(ctx, ChatRequest{
		Messages:  []Message{{Role: "user", Content: "Hello"}},
		MaxTokens: 5,
	})
	return err
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the model names an Ollama server has pulled.
func (c *ChatClient) ListModels(ctx context.Context) ([]string, error) {
	var failures []string
	for _, baseURL := range c.baseURLs {
		endpoint := strings.TrimSuffix(baseURL, "/v1") + "/api/tags"
		names, err := c.tagsAtEndpoint(ctx, endpoint)
		if err == nil {
			return names, nil
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", endpoint, err))
	}
	return nil, fmt.Errorf("list models failed: %s", strings.Join(failures, " | "))
}

func (c *ChatClient) tagsAtEndpoint(ctx context.Context, endpoint string) ([]string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}

	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func splitBaseURLs(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r' || r == '\t' || r == ' '
	})
	out := make([]string, 0, len(tokens))
	seen := map[string]struct{}{}
	for _, token := range tokens {
		normalized := normalizeBaseURL(token)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

func (c *ChatClient) chatAtEndpoint(ctx context.Context, endpoint string, payload []byte) (ChatResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResponse{}, fmt.Errorf("status %s", resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("response missing choices")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return ChatResponse{}, ErrEmptyResponse
	}
	return ChatResponse{
		Content:      content,
		FinishReason: strings.TrimSpace(decoded.Choices[0].FinishReason),
	}, nil
}
