package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/credence/internal/domain"
)

const (
	ollamaDefaultURL = "http://localhost:11434"
	ollamaModel      = "llama3.2"
)

// OllamaClient speaks the local Ollama chat API. No key is required; a
// non-empty key is simply ignored.
type OllamaClient struct {
	httpClient *http.Client
}

func NewOllamaClient(httpClient *http.Client) *OllamaClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OllamaClient{httpClient: httpClient}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

func (c *OllamaClient) Complete(ctx context.Context, spec domain.ProviderSpec, msgs []domain.ChatMessage, _ string) (string, error) {
	olMsgs := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		olMsgs = append(olMsgs, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	model := spec.Model
	if model == "" {
		model = ollamaModel
	}

	body, err := json.Marshal(ollamaRequest{
		Model:    model,
		Messages: olMsgs,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	base := spec.Endpoint
	if base == "" {
		base = ollamaDefaultURL
	}
	url := strings.TrimRight(base, "/") + "/api/chat"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal ollama response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("ollama API error: %s", result.Error)
	}

	return strings.TrimSpace(result.Message.Content), nil
}
