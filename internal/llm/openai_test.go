package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harshitk-cp/credence/internal/domain"
)

func TestOpenAICompatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want the spec's model", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system then user", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": " the answer "}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(nil)
	spec := domain.ProviderSpec{Name: "openai", Endpoint: srv.URL, Model: "test-model"}
	msgs := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUser, Content: "q"},
	}

	got, err := c.Complete(context.Background(), spec, msgs, "sk-test")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if got != "the answer" {
		t.Errorf("Complete = %q, want trimmed content", got)
	}
}

func TestOpenAICompatCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewOpenAICompatClient(nil)
	spec := domain.ProviderSpec{Name: "openai", Endpoint: srv.URL}

	_, err := c.Complete(context.Background(), spec, []domain.ChatMessage{{Role: domain.RoleUser, Content: "q"}}, "k")
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
