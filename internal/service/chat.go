package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/domain"
)

// DefaultHistoryLimit caps how many prior turns reach the provider prompt.
const DefaultHistoryLimit = 20

var ErrEmptyMessage = errors.New("chat message is empty")

// ChatRequest is one inbound user turn.
type ChatRequest struct {
	// ConversationID continues an existing node. Empty starts a new one.
	ConversationID string
	// ParentID attaches the new node under an existing one when
	// ConversationID is empty. The parent must exist.
	ParentID string
	Username string
	Message  string
	// CallChain carries provider names already consulted upstream, for
	// turns that arrive from another shim instance. Normally empty.
	CallChain []string
	Retrieval domain.RetrievalOpts
}

// ChatResult is what a turn hands back: the stored messages plus the
// voting round's provenance.
type ChatResult struct {
	ConversationID string
	UserMessage    domain.Message
	Reply          domain.Message
	Provider       string
	Folded         []domain.TrustEntry
	Sources        []domain.TrustEntry
}

// ChatService drives one chat turn end to end: persist the user message,
// resolve remote authorities into the working set, run the voting round,
// persist the reply. The reply is appended even when it is sentinel text;
// failures stay visible in the transcript.
type ChatService struct {
	conversations domain.ConversationStore
	trustStore    domain.TrustStore
	authorities   *AuthorityResolver
	ensemble      *EnsembleService
	logger        *zap.Logger

	// HistoryLimit caps the prior turns included in the prompt.
	HistoryLimit int
}

func NewChatService(cs domain.ConversationStore, ts domain.TrustStore, authorities *AuthorityResolver, ensemble *EnsembleService, logger *zap.Logger) *ChatService {
	return &ChatService{
		conversations: cs,
		trustStore:    ts,
		authorities:   authorities,
		ensemble:      ensemble,
		logger:        logger,
		HistoryLimit:  DefaultHistoryLimit,
	}
}

// Respond handles one user turn.
func (s *ChatService) Respond(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.conversation(ctx, req)
	if err != nil {
		return nil, err
	}

	// Window the history before the new message lands; the message itself
	// travels as the query.
	history := windowHistory(conv.Messages, s.HistoryLimit)

	userMsg := domain.NewMessage(domain.RoleUser, strings.TrimSpace(req.Username), content, time.Now().UTC())
	if err := s.conversations.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		return nil, err
	}

	vote, err := s.ensemble.Vote(ctx, VoteRequest{
		Query:     content,
		History:   history,
		CallChain: req.CallChain,
		Retrieval: req.Retrieval,
		Extra:     s.resolveAuthorities(ctx),
	})
	if err != nil {
		return nil, err
	}

	reply := domain.NewMessage(domain.RoleAssistant, vote.Provider, vote.Text, time.Now().UTC())
	if err := s.conversations.AppendMessage(ctx, conv.ID, reply); err != nil {
		return nil, err
	}

	s.logger.Info("chat turn complete",
		zap.String("conversation", conv.ID),
		zap.String("provider", vote.Provider),
		zap.Int("folded", len(vote.Folded)),
		zap.Int("sources", len(vote.Sources)),
		zap.Bool("sentinel", domain.IsErrorText(vote.Text)))

	return &ChatResult{
		ConversationID: conv.ID,
		UserMessage:    userMsg,
		Reply:          reply,
		Provider:       vote.Provider,
		Folded:         vote.Folded,
		Sources:        vote.Sources,
	}, nil
}

// conversation finds or creates the node this turn belongs to.
func (s *ChatService) conversation(ctx context.Context, req ChatRequest) (*domain.Conversation, error) {
	if req.ConversationID != "" {
		return s.conversations.GetByID(ctx, req.ConversationID)
	}
	if req.ParentID != "" {
		if _, err := s.conversations.GetByID(ctx, req.ParentID); err != nil {
			return nil, err
		}
	}
	conv := domain.NewConversation(req.ParentID)
	if err := s.conversations.Put(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// resolveAuthorities gathers the remote working set for this turn. A
// failing authority contributes nothing and never blocks the turn.
func (s *ChatService) resolveAuthorities(ctx context.Context) []domain.TrustEntry {
	if s.authorities == nil {
		return nil
	}
	entries, err := s.trustStore.List(ctx)
	if err != nil {
		s.logger.Warn("listing graph for authority resolution", zap.Error(err))
		return nil
	}

	var extra []domain.TrustEntry
	for i := range entries {
		e := &entries[i]
		if e.Kind != domain.KindAuthority {
			continue
		}
		remote, err := s.authorities.Resolve(ctx, e)
		if err != nil {
			s.logger.Warn("authority resolution failed",
				zap.String("authority", e.ID),
				zap.Error(err))
			continue
		}
		extra = append(extra, remote...)
	}
	return extra
}

// windowHistory converts the tail of a conversation into provider-bound
// messages.
func windowHistory(msgs []domain.Message, limit int) []domain.ChatMessage {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
