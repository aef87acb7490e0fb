package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

type OpenAIConfig struct {
	APIURL string
	APIKey string
	Model  string
}

// OpenAIProvider asks a chat completions endpoint for a JSON object holding
// one string per unit.
type OpenAIProvider struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		// Deadlines come from the caller's context.
		client: &http.Client{},
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) ([]string, error) {
	reqBody := openAIRequest{
		Model: p.model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: request failed: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: openai: read body: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		kind := ErrRejected
		if retryableStatus(resp.StatusCode) {
			kind = ErrProviderUnavailable
		}
		return nil, fmt.Errorf("%w: openai: unexpected status %s: %s", kind, resp.Status, strings.TrimSpace(string(body)))
	}

	var completion openAIResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("%w: openai: decode response: %v", ErrMalformedOutput, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai: no choices", ErrMalformedOutput)
	}

	var out openAIItems
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("%w: openai: decode items: %v", ErrMalformedOutput, err)
	}
	return out.Items, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

const systemPrompt = `You write marketing content. Reply with a JSON object of the form {"items": ["...", "..."]} holding exactly the number of items requested and nothing else.`

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d %s item(s).\n", req.Quantity, strings.ReplaceAll(req.Category, "_", " "))
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", req.Title)
	}

	keys := make([]string, 0, len(req.Inputs))
	for k := range req.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, req.Inputs[k])
	}
	return b.String()
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIItems struct {
	Items []string `json:"items"`
}
