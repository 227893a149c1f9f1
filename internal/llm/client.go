package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/domain"
)

// Wire families. OpenAI-compatible is the default: Cerebras, Groq, Gemini
// and most self-hosted gateways speak that shape behind a custom endpoint.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyOllama    = "ollama"
)

var ErrEmptyResponse = errors.New("provider returned no text")

// Family picks the wire adapter for a provider entry from its name and
// endpoint.
func Family(spec domain.ProviderSpec) string {
	name := strings.ToLower(spec.Name)
	endpoint := strings.ToLower(spec.Endpoint)
	switch {
	case strings.Contains(endpoint, "anthropic.com"),
		strings.Contains(name, "anthropic"),
		strings.Contains(name, "claude"):
		return FamilyAnthropic
	case strings.Contains(endpoint, ":11434"),
		strings.Contains(name, "ollama"):
		return FamilyOllama
	default:
		return FamilyOpenAI
	}
}

// Client fans provider calls out to the vendor adapters and converts every
// failure into sentinel text, honoring the never-throw contract of
// domain.ProviderCaller. Safe for concurrent use.
type Client struct {
	logger    *zap.Logger
	keys      *KeyResolver
	openai    *OpenAICompatClient
	anthropic *AnthropicClient
	ollama    *OllamaClient
}

var _ domain.ProviderCaller = (*Client)(nil)

func NewClient(keys *KeyResolver, logger *zap.Logger) *Client {
	httpClient := &http.Client{}
	return &Client{
		logger:    logger,
		keys:      keys,
		openai:    NewOpenAICompatClient(httpClient),
		anthropic: NewAnthropicClient(httpClient),
		ollama:    NewOllamaClient(httpClient),
	}
}

// Call consults one provider under its own timeout. Transport errors,
// non-2xx statuses, vendor error bodies, and key-reference rejections all
// come back as sentinel text; the caller pattern-matches with
// domain.IsErrorText instead of handling errors.
func (c *Client) Call(ctx context.Context, spec domain.ProviderSpec, msgs []domain.ChatMessage) string {
	ctx, cancel := context.WithTimeout(ctx, spec.CallTimeout())
	defer cancel()

	start := time.Now()
	text, err := c.dispatch(ctx, spec, msgs)
	if err != nil {
		c.logger.Warn("provider call failed",
			zap.String("provider", spec.Name),
			zap.String("family", Family(spec)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return domain.ErrorText(spec.Name, err)
	}

	c.logger.Debug("provider call ok",
		zap.String("provider", spec.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)))
	return text
}

func (c *Client) dispatch(ctx context.Context, spec domain.ProviderSpec, msgs []domain.ChatMessage) (string, error) {
	key, err := c.keys.Resolve(spec.KeyRef)
	if err != nil {
		return "", fmt.Errorf("resolve key for %s: %w", spec.Name, err)
	}

	var text string
	switch Family(spec) {
	case FamilyAnthropic:
		text, err = c.anthropic.Complete(ctx, spec, msgs, key)
	case FamilyOllama:
		text, err = c.ollama.Complete(ctx, spec, msgs, key)
	default:
		text, err = c.openai.Complete(ctx, spec, msgs, key)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
