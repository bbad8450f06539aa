package classifier

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const openaiModel = "gpt-4o-mini"

// OpenAI categorizes chunks through a chat completion. BaseURL makes it work
// with any OpenAI-compatible provider.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI backend. Empty model and baseURL use the defaults.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = openaiModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Categorize asks the model for a folder name
func (o *OpenAI) Categorize(ctx context.Context, chunk string, known []string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(chunk, known)},
		},
		MaxTokens:   256,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return parseResponse(resp.Choices[0].Message.Content)
}
