package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

const chatCompletionsPath = "/chat/completions"

// OpenRouterClient talks to an OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	client *openai.Client
}

// headerTransport adds the customer header the gateway expects.
type headerTransport struct {
	customerID string
	base       http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.customerID != "" {
		req = req.Clone(req.Context())
		req.Header.Set("customerId", t.customerID)
	}
	return t.base.RoundTrip(req)
}

// NewOpenRouterClient accepts either the full chat completions URL or the API base.
func NewOpenRouterClient(endpoint, apiKey, customerID string) *OpenRouterClient {
	if apiKey == "" {
		apiKey = "anonymous"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(strings.TrimSuffix(endpoint, "/"), chatCompletionsPath)
	cfg.HTTPClient = &http.Client{
		Timeout:   2 * time.Minute,
		Transport: &headerTransport{customerID: customerID, base: http.DefaultTransport},
	}
	return &OpenRouterClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenRouterClient) Name() string { return "openrouter" }

func (c *OpenRouterClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		log.Errorf("OpenRouterClient.Complete: model %s failed: %v", req.Model, err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		log.Warnf("OpenRouterClient.Complete: model %s returned no choices", req.Model)
		return "", ErrEmptyResponse
	}

	log.Debugf("OpenRouterClient.Complete: model %s used %d tokens", req.Model, resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenRouterClient) Close() error { return nil }
