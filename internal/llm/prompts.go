package llm

import (
	"fmt"
	"strings"

	"github.com/Harshitk-cp/credence/internal/domain"
)

// Prompt text for the chat pipeline lives here so wording changes never
// touch coordinator logic.

const answerSystemPrompt = `You are the answering assistant of a local chat application backed by a personal trust graph. Be direct and concise. When trusted notes are supplied, ground your answer in them and do not contradict a note without saying why.`

const sourcesPreamble = `You may rely on the trusted notes below. Each carries a signed certainty in [-1, 1]: positive means believed true at that strength, negative means believed false, and values near zero mean ignorance. Prefer notes with high absolute certainty, and treat negative-certainty claims as known to be false.`

// EnsembleInstructions is appended to the query for secondary providers
// during a voting round. They answer blind, without trusted notes, so their
// agreement carries independent signal.
const EnsembleInstructions = `Answer the question above independently and concisely. If you are not sure, say so plainly instead of guessing.`

// PrelimFollowup closes a bundle that replays the preliminary exchange to a
// prelim-enabled secondary.
const PrelimFollowup = `Above is a preliminary answer from another model. Now answer the original question yourself, independently and concisely. If you disagree with the preliminary answer, say so and explain briefly.`

// BuildMessages flattens a bundle into the provider-bound message list:
// one system turn (base prompt plus rendered sources), the history as-is,
// then the query with any trailing instructions as the final user turn.
func BuildMessages(b domain.Bundle) []domain.ChatMessage {
	system := strings.TrimSpace(b.System)
	if system == "" {
		system = answerSystemPrompt
	}
	if block := RenderSources(b.Sources); block != "" {
		system += "\n\n" + block
	}

	msgs := make([]domain.ChatMessage, 0, len(b.History)+2)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	msgs = append(msgs, b.History...)

	query := strings.TrimSpace(b.Query)
	if b.Instructions != "" {
		query = strings.TrimSpace(query + "\n\n" + b.Instructions)
	}
	if query != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: query})
	}
	return msgs
}

// RenderSources renders ranked trust entries as a numbered block with
// signed certainties. Returns "" for an empty slice.
func RenderSources(entries []domain.TrustEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(sourcesPreamble)
	sb.WriteString("\n\n")
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. (certainty %+.2f)", i+1, e.EffectiveCertainty())
		if t := strings.TrimSpace(e.Title); t != "" {
			sb.WriteString(" ")
			sb.WriteString(t)
			sb.WriteString(":")
		}
		if body := strings.TrimSpace(e.Text); body != "" {
			sb.WriteString(" ")
			sb.WriteString(body)
		}
		if e.Kind == domain.KindReference && e.Href != "" {
			fmt.Fprintf(&sb, " <%s>", e.Href)
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}
