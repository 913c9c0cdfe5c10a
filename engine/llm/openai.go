package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/WessleyAI/forumlens/engine/domain"
)

// OpenAI calls the chat completions API of OpenAI or a compatible server.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func openAIClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(config)
}

// NewOpenAI creates an OpenAI completer.
func NewOpenAI(cfg Config) *OpenAI {
	return &OpenAI{client: openAIClient(cfg.APIKey, cfg.BaseURL), model: cfg.Model, maxTokens: cfg.MaxTokens}
}

func (o *OpenAI) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   o.maxTokens,
		Temperature: float32(temperature),
	})
	if err != nil {
		return "", llmErr(ProviderOpenAI, openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", emptyErr(ProviderOpenAI)
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// OpenAIEmbedder calls the embeddings API of OpenAI or a compatible server.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder. dimensions may be 0 to use the
// model's native size.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int) *OpenAIEmbedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openAIClient(apiKey, baseURL), model: model, dimensions: dimensions}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimensions,
	})
	if err != nil {
		if openAIStatus(err) == 429 {
			return nil, fmt.Errorf("llm: embed: %w: %w", domain.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("llm: embed: %w: %w", domain.ErrNetwork, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("llm: embed: empty embedding: %w", domain.ErrParse)
	}
	return resp.Data[0].Embedding, nil
}
