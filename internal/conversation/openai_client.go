package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements LLMClient with the Chat Completions API. JSON mode
// requests use the json_object response format.
type OpenAIClient struct {
	client chatClient
	model  string
}

// NewOpenAIClient wraps an API client. baseURL is optional.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return newOpenAIClient(openai.NewClientWithConfig(cfg), model), nil
}

func newOpenAIClient(client chatClient, model string) *OpenAIClient {
	if client == nil {
		panic("conversation: chat client cannot be nil")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{client: client, model: model}
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.System)+len(req.Messages))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: block})
	}
	for _, msg := range req.Messages {
		role, err := openAIRole(msg.Role)
		if err != nil {
			return LLMResponse{}, err
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   int(req.MaxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return LLMResponse{Provider: "openai"}, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{Provider: "openai"}, errors.New("conversation: openai returned no choices")
	}

	choice := resp.Choices[0]
	return LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Provider:   "openai",
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}

func openAIRole(role string) (string, error) {
	switch role {
	case ChatRoleUser:
		return openai.ChatMessageRoleUser, nil
	case ChatRoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	case ChatRoleSystem:
		return openai.ChatMessageRoleSystem, nil
	default:
		return "", fmt.Errorf("conversation: unsupported role %q", role)
	}
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return fmt.Errorf("conversation: openai completion failed: %w", err)
}
