package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Harshitk-cp/credence/internal/domain"
)

const openaiModel = "gpt-4o-mini"

// OpenAICompatClient speaks the chat-completions shape. With a custom
// endpoint it also covers Groq, Cerebras, Gemini's OpenAI surface, and
// self-hosted gateways, so it is the dispatch default.
type OpenAICompatClient struct {
	httpClient *http.Client
}

func NewOpenAICompatClient(httpClient *http.Client) *OpenAICompatClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAICompatClient{httpClient: httpClient}
}

func (c *OpenAICompatClient) Complete(ctx context.Context, spec domain.ProviderSpec, msgs []domain.ChatMessage, key string) (string, error) {
	cfg := openai.DefaultConfig(key)
	cfg.HTTPClient = c.httpClient
	if spec.Endpoint != "" {
		cfg.BaseURL = strings.TrimRight(spec.Endpoint, "/")
	}
	client := openai.NewClientWithConfig(cfg)

	model := spec.Model
	if model == "" {
		model = openaiModel
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{
			Role:    openaiRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: oaMsgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func openaiRole(role string) string {
	switch role {
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
