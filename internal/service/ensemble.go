package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Harshitk-cp/credence/internal/canon"
	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/llm"
)

const (
	// DefaultEnsembleConcurrency bounds how many secondaries run at once.
	DefaultEnsembleConcurrency = 4
	// DefaultAggregateFloor is the minimum ceiling for a whole voting round.
	DefaultAggregateFloor = 60 * time.Second

	// aggregateGrace pads the largest per-call timeout when it exceeds the
	// floor, leaving room for the fold-back and final call.
	aggregateGrace = 10 * time.Second

	voteTitleMaxRunes = 60
)

var ErrNoProvider = errors.New("no provider entries in the trust graph")

// VoteRequest carries one ensemble round's inputs. CallChain lists provider
// names already consulted upstream; chained providers are silenced for the
// whole round, which is what breaks mutual-invocation cycles.
type VoteRequest struct {
	Query     string
	History   []domain.ChatMessage
	CallChain []string
	Retrieval domain.RetrievalOpts
	// Extra holds transient working-set entries, typically resolved
	// authority tables. They ground derivation and retrieval for this round
	// but are never persisted. The resolver strips provider and authority
	// kinds from remote tables, so Extra cannot influence the roster.
	Extra []domain.TrustEntry
}

// VoteResult reports the outcome of a round.
type VoteResult struct {
	// Text is the final answer. It may be sentinel error text when every
	// provider failed; failures stay visible, they are never swallowed.
	Text string
	// Provider names the entry that produced Text.
	Provider string
	// Folded holds the trust entries created from secondary answers.
	Folded []domain.TrustEntry
	// Sources are the entries that grounded the final call.
	Sources []domain.TrustEntry
	// Table is the certainty table re-derived after fold-back.
	Table domain.CertaintyTable
}

// EnsembleService coordinates hierarchical voting across the graph's
// provider entries: an optional preliminary call by the primary, a bounded
// RAG-free fan-out to the secondaries, fold-back of their answers as trust
// entries, re-derivation, then the primary's final grounded call with a
// rank-ordered fallback chain.
type EnsembleService struct {
	trustStore domain.TrustStore
	caller     domain.ProviderCaller
	truth      *TruthService
	ranker     *RetrievalRanker
	logger     *zap.Logger

	// Concurrency bounds the secondary fan-out.
	Concurrency int
	// AggregateFloor is the minimum round ceiling.
	AggregateFloor time.Duration
}

func NewEnsembleService(ts domain.TrustStore, caller domain.ProviderCaller, truth *TruthService, ranker *RetrievalRanker, logger *zap.Logger) *EnsembleService {
	return &EnsembleService{
		trustStore:     ts,
		caller:         caller,
		truth:          truth,
		ranker:         ranker,
		logger:         logger,
		Concurrency:    DefaultEnsembleConcurrency,
		AggregateFloor: DefaultAggregateFloor,
	}
}

// Vote runs one full round and returns the final answer. The only error
// condition is an empty provider roster; provider failures come back as
// sentinel text inside the result.
func (s *EnsembleService) Vote(ctx context.Context, req VoteRequest) (*VoteResult, error) {
	entries, err := s.trustStore.List(ctx)
	if err != nil {
		return nil, err
	}

	ranked := rankProviders(entries)
	eligible := silenceChained(ranked, req.CallChain)
	if len(eligible) == 0 {
		if len(ranked) > 0 {
			s.logger.Warn("every provider is on the call chain",
				zap.Strings("chain", req.CallChain))
		}
		return nil, ErrNoProvider
	}

	primary := eligible[0]
	secondaries := eligible[1:]

	ctx, cancel := context.WithTimeout(ctx, s.ceiling(eligible))
	defer cancel()

	prelim := s.preliminary(ctx, primary, secondaries, req.Query)
	answers := s.fanOut(ctx, secondaries, req.Query, prelim)
	folded := s.foldBack(ctx, secondaries, answers, req.Query)

	// Re-derive so folded votes influence the final ranking.
	entries, err = s.trustStore.List(ctx)
	if err != nil {
		return nil, err
	}
	entries = append(entries, req.Extra...)
	table := s.truth.Derive(entries)
	sources := s.ranker.SelectSources(entries, table, req.Retrieval)

	bundle := domain.Bundle{
		History: req.History,
		Sources: sources,
		Query:   req.Query,
	}
	msgs := llm.BuildMessages(bundle)

	text, provider := s.finalCall(ctx, primary, secondaries, msgs)

	return &VoteResult{
		Text:     text,
		Provider: provider,
		Folded:   folded,
		Sources:  sources,
		Table:    table,
	}, nil
}

// ceiling computes the round deadline: never below the floor, and padded
// past the slowest per-call timeout so one slow provider cannot eat the
// whole budget.
func (s *EnsembleService) ceiling(providers []domain.TrustEntry) time.Duration {
	floor := s.AggregateFloor
	if floor <= 0 {
		floor = DefaultAggregateFloor
	}
	var largest time.Duration
	for _, p := range providers {
		if t := p.Provider.CallTimeout(); t > largest {
			largest = t
		}
	}
	if padded := largest + aggregateGrace; padded > floor {
		return padded
	}
	return floor
}

// preliminary runs the RAG-free primary call when at least one secondary is
// marked prelim. A sentinel answer disables the exchange rather than
// feeding garbage to the secondaries.
func (s *EnsembleService) preliminary(ctx context.Context, primary domain.TrustEntry, secondaries []domain.TrustEntry, query string) string {
	wanted := false
	for _, sec := range secondaries {
		if sec.Provider.Prelim {
			wanted = true
			break
		}
	}
	if !wanted {
		return ""
	}

	msgs := llm.BuildMessages(domain.Bundle{Query: query})
	answer := s.caller.Call(ctx, *primary.Provider, msgs)
	if domain.IsErrorText(answer) {
		s.logger.Warn("preliminary call failed",
			zap.String("provider", primary.Provider.Name))
		return ""
	}
	return answer
}

// fanOut consults the secondaries concurrently, bounded, each with its own
// RAG-free bundle. Results land at the secondary's rank index so fold-back
// order is deterministic regardless of completion order.
func (s *EnsembleService) fanOut(ctx context.Context, secondaries []domain.TrustEntry, query, prelim string) []string {
	answers := make([]string, len(secondaries))
	if len(secondaries) == 0 {
		return answers
	}

	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultEnsembleConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, sec := range secondaries {
		i, sec := i, sec
		g.Go(func() error {
			bundle := domain.Bundle{Query: query, Instructions: llm.EnsembleInstructions}
			if sec.Provider.Prelim && prelim != "" {
				bundle = domain.Bundle{
					History: []domain.ChatMessage{
						{Role: domain.RoleUser, Content: query},
						{Role: domain.RoleAssistant, Content: prelim},
					},
					Query: llm.PrelimFollowup,
				}
			}
			answers[i] = s.caller.Call(gctx, *sec.Provider, llm.BuildMessages(bundle))
			return nil
		})
	}
	_ = g.Wait()
	return answers
}

// foldBack persists each non-sentinel secondary answer as a fresh fact
// entry sourced to its provider, inheriting the provider entry's certainty.
// Sentinel answers are discarded: an error is not evidence.
func (s *EnsembleService) foldBack(ctx context.Context, secondaries []domain.TrustEntry, answers []string, query string) []domain.TrustEntry {
	now := time.Now().UTC()
	var folded []domain.TrustEntry
	for i, sec := range secondaries {
		answer := answers[i]
		if answer == "" || domain.IsErrorText(answer) {
			continue
		}

		entry := &domain.TrustEntry{
			Kind:      domain.KindFact,
			Certainty: sec.EffectiveCertainty(),
			Title:     truncateRunes(query, voteTitleMaxRunes),
			Text:      answer,
			Source:    sec.Provider.Name,
			Time:      now,
		}
		canon.Finalize(entry)

		if err := s.trustStore.Put(ctx, entry); err != nil {
			s.logger.Warn("failed to fold back vote",
				zap.String("provider", sec.Provider.Name),
				zap.Error(err))
			continue
		}
		folded = append(folded, *entry)
	}
	if len(folded) > 0 {
		s.logger.Debug("folded back votes", zap.Int("count", len(folded)))
	}
	return folded
}

// finalCall asks the primary for the grounded answer and walks the fallback
// chain on sentinel replies. When everyone fails, the last sentinel is the
// answer; it stays visible to the user.
func (s *EnsembleService) finalCall(ctx context.Context, primary domain.TrustEntry, secondaries []domain.TrustEntry, msgs []domain.ChatMessage) (string, string) {
	text := s.caller.Call(ctx, *primary.Provider, msgs)
	if !domain.IsErrorText(text) {
		return text, primary.Provider.Name
	}

	for _, sec := range secondaries {
		s.logger.Warn("falling back to next provider",
			zap.String("failed", primary.Provider.Name),
			zap.String("next", sec.Provider.Name))
		next := s.caller.Call(ctx, *sec.Provider, msgs)
		if !domain.IsErrorText(next) {
			return next, sec.Provider.Name
		}
		text = next
		primary = sec
	}
	return text, primary.Provider.Name
}

// rankProviders selects the graph's usable provider entries ordered by
// certainty desc, then time desc, then id asc. Signed certainty, so a
// distrusted provider sinks to the bottom instead of vanishing.
func rankProviders(entries []domain.TrustEntry) []domain.TrustEntry {
	var out []domain.TrustEntry
	for _, e := range entries {
		if e.Kind == domain.KindProvider && e.Provider != nil && e.Provider.Name != "" {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].EffectiveCertainty(), out[j].EffectiveCertainty()
		if ci != cj {
			return ci > cj
		}
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// silenceChained drops providers whose name is already on the call chain.
// The chain is value-copied per branch by the caller, so silencing here can
// never leak across sibling branches.
func silenceChained(providers []domain.TrustEntry, chain []string) []domain.TrustEntry {
	if len(chain) == 0 {
		return providers
	}
	chained := make(map[string]bool, len(chain))
	for _, name := range chain {
		chained[name] = true
	}
	out := providers[:0:0]
	for _, p := range providers {
		if !chained[p.Provider.Name] {
			out = append(out, p)
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
