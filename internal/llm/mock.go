package llm

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/credence/internal/domain"
)

// MockCaller is a configurable provider caller for testing. Set the
// response fields to control replies; calls are recorded for assertions.
// Safe for concurrent use, since voting rounds fan out.
type MockCaller struct {
	mu sync.Mutex

	// Response is returned for any provider without a per-name override.
	Response string
	// Responses overrides Response by provider name.
	Responses map[string]string
	// ResponseFunc, when set, computes the reply and wins over both fields.
	ResponseFunc func(spec domain.ProviderSpec, msgs []domain.ChatMessage) string
	// Delay stalls each call, for timeout and concurrency tests.
	Delay time.Duration

	// Call tracking for assertions
	Calls []MockCall
}

type MockCall struct {
	Spec domain.ProviderSpec
	Msgs []domain.ChatMessage
}

var _ domain.ProviderCaller = (*MockCaller)(nil)

func NewMockCaller() *MockCaller {
	return &MockCaller{Response: "mock answer"}
}

func (c *MockCaller) Call(ctx context.Context, spec domain.ProviderSpec, msgs []domain.ChatMessage) string {
	c.mu.Lock()
	c.Calls = append(c.Calls, MockCall{Spec: spec, Msgs: append([]domain.ChatMessage(nil), msgs...)})
	respFunc := c.ResponseFunc
	resp, ok := "", false
	if c.Responses != nil {
		resp, ok = c.Responses[spec.Name]
	}
	if !ok {
		resp = c.Response
	}
	delay := c.Delay
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.ErrorText(spec.Name, err)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return domain.ErrorText(spec.Name, ctx.Err())
		case <-time.After(delay):
		}
	}

	if respFunc != nil {
		return respFunc(spec, msgs)
	}
	return resp
}

// CallsFor returns the recorded calls made to one provider name.
func (c *MockCaller) CallsFor(name string) []MockCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []MockCall
	for _, call := range c.Calls {
		if call.Spec.Name == name {
			out = append(out, call)
		}
	}
	return out
}

// CallCount returns the total number of recorded calls.
func (c *MockCaller) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls and resets responses to defaults.
func (c *MockCaller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Response = "mock answer"
	c.Responses = nil
	c.ResponseFunc = nil
	c.Delay = 0
	c.Calls = nil
}
