package service

import "strings"

// DefaultMaxDeltaChars caps the delta block appended by RewriteContext when
// the caller does not set a budget.
const DefaultMaxDeltaChars = 600

// deltaMarker introduces the block of lines carried over from the discarded
// side of a context rewrite.
const deltaMarker = "[merged context delta]"

// truncationMarker ends a delta block that ran out of budget.
const truncationMarker = "…"

// deltaKeywords flag lines worth preserving across a rewrite: recorded
// decisions, standing constraints and open action items.
var deltaKeywords = []string{
	"decision",
	"decided",
	"agreed",
	"must",
	"never",
	"always",
	"constraint",
	"require",
	"todo",
	"action item",
	"follow up",
	"blocker",
	"deadline",
}

// RewriteOpts control how RewriteContext combines two context blocks.
type RewriteOpts struct {
	// TakeIncoming keeps the incoming context and discards base. The
	// default keeps base.
	TakeIncoming bool
	// WithDelta appends a bounded summary of important lines that only the
	// discarded side had, so a human can review what the rewrite dropped.
	WithDelta bool
	// MaxDeltaChars caps the delta block. Zero or negative means
	// DefaultMaxDeltaChars.
	MaxDeltaChars int
}

// RewriteContext merges two free-text context blocks. One side wins whole;
// with WithDelta set, the losing side contributes the decision-bearing lines
// the winner lacks, capped to the character budget and marked as truncated
// when cut short.
func RewriteContext(base, incoming string, opts RewriteOpts) string {
	kept, dropped := base, incoming
	if opts.TakeIncoming {
		kept, dropped = incoming, base
	}
	kept = strings.TrimSpace(kept)
	if !opts.WithDelta {
		return kept
	}

	budget := opts.MaxDeltaChars
	if budget <= 0 {
		budget = DefaultMaxDeltaChars
	}
	delta := contextDelta(dropped, kept, budget)
	if delta == "" {
		return kept
	}
	if kept == "" {
		return deltaMarker + "\n" + delta
	}
	return kept + "\n\n" + deltaMarker + "\n" + delta
}

// contextDelta extracts important lines present in from but not in into,
// keeping their original order, within maxChars.
func contextDelta(from, into string, maxChars int) string {
	have := make(map[string]bool)
	for _, line := range strings.Split(into, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			have[t] = true
		}
	}

	var b strings.Builder
	for _, line := range strings.Split(from, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || have[t] || !importantLine(t) {
			continue
		}
		have[t] = true
		need := len(t)
		if b.Len() > 0 {
			need++
		}
		if b.Len()+need > maxChars {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(truncationMarker)
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t)
	}
	return b.String()
}

// importantLine reports whether a context line carries a decision keyword or
// references a file path.
func importantLine(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range deltaKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return mentionsPath(s)
}

// mentionsPath reports whether any token looks like a file path: at least
// one slash plus a dot, and not a URL.
func mentionsPath(s string) bool {
	for _, f := range strings.Fields(s) {
		f = strings.Trim(f, ".,;:()[]{}<>'\"`")
		if strings.Contains(f, "://") {
			continue
		}
		if strings.Contains(f, "/") && strings.Contains(f, ".") {
			return true
		}
	}
	return false
}
