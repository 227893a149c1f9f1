package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Harshitk-cp/credence/internal/domain"
)

func TestSplitSystem(t *testing.T) {
	msgs := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "base"},
		{Role: domain.RoleUser, Content: "q"},
		{Role: domain.RoleSystem, Content: "extra"},
		{Role: domain.RoleAssistant, Content: "a"},
	}

	system, turns := splitSystem(msgs)
	if system != "base\n\nextra" {
		t.Errorf("system = %q, want joined system blocks", system)
	}
	if len(turns) != 2 || turns[0].Role != domain.RoleUser || turns[1].Role != domain.RoleAssistant {
		t.Errorf("turns = %+v, want the non-system turns in order", turns)
	}
}

func TestMergeAlternating(t *testing.T) {
	tests := []struct {
		name      string
		in        []domain.ChatMessage
		wantRoles []string
	}{
		{
			name: "consecutive same-role turns collapse",
			in: []domain.ChatMessage{
				{Role: domain.RoleUser, Content: "a"},
				{Role: domain.RoleUser, Content: "b"},
				{Role: domain.RoleAssistant, Content: "c"},
			},
			wantRoles: []string{domain.RoleUser, domain.RoleAssistant},
		},
		{
			name: "assistant-first gains a leading user turn",
			in: []domain.ChatMessage{
				{Role: domain.RoleAssistant, Content: "a"},
				{Role: domain.RoleUser, Content: "b"},
			},
			wantRoles: []string{domain.RoleUser, domain.RoleAssistant, domain.RoleUser},
		},
		{
			name: "blank turns are dropped",
			in: []domain.ChatMessage{
				{Role: domain.RoleUser, Content: "  "},
				{Role: domain.RoleUser, Content: "real"},
			},
			wantRoles: []string{domain.RoleUser},
		},
		{
			name:      "empty in, empty out",
			in:        nil,
			wantRoles: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeAlternating(tt.in)
			if len(got) != len(tt.wantRoles) {
				t.Fatalf("len = %d, want %d (%+v)", len(got), len(tt.wantRoles), got)
			}
			for i, role := range tt.wantRoles {
				if got[i].Role != role {
					t.Errorf("turn %d role = %q, want %q", i, got[i].Role, role)
				}
			}
		})
	}
}

func TestMergeAlternatingJoinsContent(t *testing.T) {
	got := mergeAlternating([]domain.ChatMessage{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleUser, Content: "second"},
	})
	if len(got) != 1 || got[0].Content != "first\n\nsecond" {
		t.Errorf("merged content = %+v, want both parts joined", got)
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.System != "stay factual" {
			t.Errorf("system = %q, want the system block in its own field", req.System)
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != domain.RoleUser {
			t.Errorf("messages = %+v, want a leading user turn", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "42"}},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient(nil)
	spec := domain.ProviderSpec{Name: "anthropic", Endpoint: srv.URL, Model: "claude-test"}
	msgs := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "stay factual"},
		{Role: domain.RoleUser, Content: "what is the answer?"},
	}

	got, err := c.Complete(context.Background(), spec, msgs, "sk-ant-test")
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if got != "42" {
		t.Errorf("Complete = %q, want %q", got, "42")
	}
}

func TestAnthropicCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "overloaded_error", "message": "try later"},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient(nil)
	spec := domain.ProviderSpec{Name: "anthropic", Endpoint: srv.URL}

	_, err := c.Complete(context.Background(), spec, []domain.ChatMessage{{Role: domain.RoleUser, Content: "q"}}, "k")
	if err == nil {
		t.Fatal("expected error for API error body")
	}
}
