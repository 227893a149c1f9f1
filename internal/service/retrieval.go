package service

import (
	"math"
	"sort"

	"github.com/Harshitk-cp/credence/internal/domain"
)

const (
	// DefaultMaxSources caps how many entries reach a provider prompt.
	DefaultMaxSources = 12
	// DefaultMinCertainty is the ignorance-zone cutoff: entries with
	// |certainty| below it carry no usable signal.
	DefaultMinCertainty = 0.05
)

// RetrievalRanker selects the trust entries worth including in a prompt.
// Both strongly-believed and strongly-disbelieved entries are retrieval
// worthy; only the zone near zero is filtered.
type RetrievalRanker struct {
	MaxEntries   int
	MinCertainty float64
}

func NewRetrievalRanker() *RetrievalRanker {
	return &RetrievalRanker{
		MaxEntries:   DefaultMaxSources,
		MinCertainty: DefaultMinCertainty,
	}
}

// SelectSources filters entries by |certainty| >= MinCertainty against the
// table (falling back to stored certainty for IDs the table does not cover),
// drops structural kinds unless opts asks for them, and orders the survivors
// by |certainty| descending, then time descending, then ID ascending. The
// ordering has no ties left, so equal inputs always produce equal output.
func (r *RetrievalRanker) SelectSources(entries []domain.TrustEntry, table domain.CertaintyTable, opts domain.RetrievalOpts) []domain.TrustEntry {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = r.MaxEntries
	}
	minCertainty := opts.MinCertainty
	if minCertainty < 0 {
		minCertainty = r.MinCertainty
	}

	selected := make([]domain.TrustEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind.Structural() && !opts.IncludeStructural {
			continue
		}
		c := table.ValueOr(e.ID, domain.ClampCertainty(e.Certainty))
		if math.Abs(c) < minCertainty {
			continue
		}
		c2 := c
		e.DerivedCertainty = &c2
		selected = append(selected, e)
	}

	sort.Slice(selected, func(i, j int) bool {
		ci := math.Abs(*selected[i].DerivedCertainty)
		cj := math.Abs(*selected[j].DerivedCertainty)
		if ci != cj {
			return ci > cj
		}
		if !selected[i].Time.Equal(selected[j].Time) {
			return selected[i].Time.After(selected[j].Time)
		}
		return selected[i].ID < selected[j].ID
	})

	if len(selected) > maxEntries {
		selected = selected[:maxEntries]
	}
	return selected
}
