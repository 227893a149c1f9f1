package domain

import (
	"context"
	"fmt"
	"strings"
)

type TrustStore interface {
	Put(ctx context.Context, e *TrustEntry) error
	GetByID(ctx context.Context, id string) (*TrustEntry, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]TrustEntry, error)
	// Replace swaps the whole graph in one step, used by imports and merges.
	Replace(ctx context.Context, entries []TrustEntry) error
}

type ConversationStore interface {
	Put(ctx context.Context, c *Conversation) error
	GetByID(ctx context.Context, id string) (*Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, m Message) error
	List(ctx context.Context) ([]Conversation, error)
	Replace(ctx context.Context, nodes []Conversation) error
}

// RetrievalOpts tune source selection for a prompt.
type RetrievalOpts struct {
	// MaxEntries caps the result; services apply their default when <= 0.
	MaxEntries int
	// MinCertainty filters out the ignorance zone: entries survive when
	// |certainty| >= MinCertainty. Both polarities are retrieval-worthy.
	MinCertainty float64
	// IncludeStructural admits operator, provider and authority entries,
	// which are otherwise excluded from prompts.
	IncludeStructural bool
}

// RoleSystem marks provider-bound instructions. It is valid inside a
// ChatMessage but never inside a stored conversation turn.
const RoleSystem = "system"

// ChatMessage is one provider-bound message after bundle flattening.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Bundle is the provider-agnostic request shape handed to wire adapters.
// Sources carry ranked trust entries; RAG-free bundles leave it empty.
type Bundle struct {
	System       string
	History      []ChatMessage
	Sources      []TrustEntry
	Query        string
	Instructions string
}

// ProviderCaller consults one LLM backend. Call never fails across this
// boundary: transport and vendor errors come back as sentinel text
// recognizable via IsErrorText, and the implementation must honor ctx
// cancellation and be safe for concurrent use.
type ProviderCaller interface {
	Call(ctx context.Context, spec ProviderSpec, msgs []ChatMessage) string
}

// AuthorityFetcher retrieves a remote trust table for an authority target.
type AuthorityFetcher interface {
	FetchTable(ctx context.Context, target string) ([]TrustEntry, error)
}

const errorTextPrefix = "[provider error"

// ErrorText renders a provider failure as sentinel text. Coordinators
// pattern-match on it instead of catching errors.
func ErrorText(provider string, err error) string {
	if err == nil {
		return fmt.Sprintf("%s: %s]", errorTextPrefix, provider)
	}
	return fmt.Sprintf("%s: %s: %v]", errorTextPrefix, provider, err)
}

// IsErrorText reports whether text is a provider-failure sentinel.
func IsErrorText(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), errorTextPrefix)
}
