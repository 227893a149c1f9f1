package service

import (
	"math"

	"go.uber.org/zap"

	"github.com/Harshitk-cp/credence/internal/domain"
)

const (
	// DefaultConvergenceEpsilon is the largest per-pass delta still counted
	// as a fixed point.
	DefaultConvergenceEpsilon = 1e-9
	// DefaultMaxIterations bounds the solver so cyclic operator graphs
	// cannot hang a request; the best value reached is returned.
	DefaultMaxIterations = 100
)

// KleeneAnd is conjunction over [-1,1]: the minimum.
func KleeneAnd(vals ...float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	out := vals[0]
	for _, v := range vals[1:] {
		if v < out {
			out = v
		}
	}
	return domain.ClampCertainty(out)
}

// KleeneOr is disjunction over [-1,1]: the maximum.
func KleeneOr(vals ...float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	out := vals[0]
	for _, v := range vals[1:] {
		if v > out {
			out = v
		}
	}
	return domain.ClampCertainty(out)
}

// KleeneNot is affirming negation: belief flips polarity at full strength.
func KleeneNot(a float64) float64 {
	return domain.ClampCertainty(-a)
}

// KleeneNon is non-affirming negation: sign(a) × (1 − |a|). Full belief or
// full disbelief collapses to zero residual doubt; zero stays zero.
func KleeneNon(a float64) float64 {
	switch {
	case a > 0:
		return domain.ClampCertainty(1 - a)
	case a < 0:
		return domain.ClampCertainty(-(1 + a))
	}
	return 0
}

// TruthService evaluates operator entries over a certainty table to a fixed
// point. Derive has no side effects and touches no shared state, so it is
// safe to call from any goroutine.
type TruthService struct {
	logger *zap.Logger

	Epsilon       float64
	MaxIterations int
}

func NewTruthService(logger *zap.Logger) *TruthService {
	return &TruthService{
		logger:        logger,
		Epsilon:       DefaultConvergenceEpsilon,
		MaxIterations: DefaultMaxIterations,
	}
}

type operatorRow struct {
	id   string
	kind domain.EntryKind
	refs []string
}

// Derive seeds the table from stored certainties, then re-evaluates every
// operator row until no value moves by more than Epsilon or the iteration
// cap is hit. An operator whose child is absent from the table is skipped
// that pass and retried on later passes, making evaluation order-independent.
func (s *TruthService) Derive(entries []domain.TrustEntry) domain.CertaintyTable {
	table := make(domain.CertaintyTable, len(entries))
	var ops []operatorRow
	for i := range entries {
		e := &entries[i]
		table[e.ID] = domain.ClampCertainty(e.Certainty)
		if e.Kind.Operator() {
			ops = append(ops, operatorRow{id: e.ID, kind: e.Kind, refs: e.Children})
		}
	}
	if len(ops) == 0 {
		return table
	}

	iterations := 0
	converged := false
	for iterations < s.MaxIterations && !converged {
		iterations++
		maxDelta := 0.0
		for _, op := range ops {
			vals := make([]float64, 0, len(op.refs))
			missing := false
			for _, ref := range op.refs {
				v, ok := table[ref]
				if !ok {
					missing = true
					break
				}
				vals = append(vals, v)
			}
			if missing || len(vals) == 0 {
				continue
			}

			var next float64
			switch op.kind {
			case domain.KindAnd:
				next = KleeneAnd(vals...)
			case domain.KindOr:
				next = KleeneOr(vals...)
			case domain.KindNot:
				next = KleeneNot(vals[0])
			case domain.KindNon:
				next = KleeneNon(vals[0])
			}

			if d := math.Abs(next - table[op.id]); d > maxDelta {
				maxDelta = d
			}
			table[op.id] = next
		}
		converged = maxDelta <= s.Epsilon
	}

	s.logger.Debug("derived truth fixed point",
		zap.Int("entries", len(entries)),
		zap.Int("operators", len(ops)),
		zap.Int("iterations", iterations),
		zap.Bool("converged", converged))

	return table
}

// AnnotateDerived attaches table values to entries as transient derived
// certainties. Stored certainties are left untouched.
func AnnotateDerived(entries []domain.TrustEntry, table domain.CertaintyTable) {
	for i := range entries {
		if v, ok := table[entries[i].ID]; ok {
			c := v
			entries[i].DerivedCertainty = &c
		}
	}
}
