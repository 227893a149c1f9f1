package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// TitleMaxRunes caps the derived conversation title.
	TitleMaxRunes = 80
)

func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one turn inside a conversation node.
type Message struct {
	ID       string    `json:"id"`
	Role     string    `json:"role"`
	Username string    `json:"username,omitempty"`
	Time     time.Time `json:"time"`
	Content  string    `json:"content"`
}

func NewMessage(role, username, content string, at time.Time) Message {
	return Message{
		ID:       uuid.NewString(),
		Role:     role,
		Username: username,
		Time:     at,
		Content:  content,
	}
}

// Conversation is one node in the conversation tree. ParentID is the
// persisted link; Children is rebuilt in memory and never serialized.
// Parent/child is a strict tree: no node has two parents, no cycles.
type Conversation struct {
	ID       string    `json:"id"`
	ParentID string    `json:"parent_id,omitempty"`
	Messages []Message `json:"messages"`

	Children []*Conversation `json:"-"`
}

func NewConversation(parentID string) *Conversation {
	return &Conversation{ID: uuid.NewString(), ParentID: parentID}
}

// Title derives the node's display title from its first user message,
// truncated to TitleMaxRunes. Titles are never stored independently.
func (c *Conversation) Title() string {
	for _, m := range c.Messages {
		if m.Role != RoleUser {
			continue
		}
		t := strings.Join(strings.Fields(m.Content), " ")
		r := []rune(t)
		if len(r) > TitleMaxRunes {
			return string(r[:TitleMaxRunes-1]) + "…"
		}
		return t
	}
	return "(untitled)"
}

// LastMessage returns the most recent message, or nil for an empty node.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LinkChildren rebuilds the in-memory child lists for a flat set of nodes
// using a two-pass index then link. Nodes whose parent is absent from the
// set are returned as roots. Child order follows input order, so the walk
// is deterministic for a fixed input.
func LinkChildren(nodes []*Conversation) (roots []*Conversation) {
	index := make(map[string]*Conversation, len(nodes))
	for _, n := range nodes {
		n.Children = nil
		index[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID == "" {
			roots = append(roots, n)
			continue
		}
		parent, ok := index[n.ParentID]
		if !ok || parent == n {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}
