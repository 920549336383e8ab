package backtest

import (
	"context"
	"fmt"

	"folio/internal/domain"
	"folio/internal/strategy"
)

// Comparison is one row of a side-by-side strategy comparison.
type Comparison struct {
	Strategy string          `json:"strategy"`
	Summary  Summary         `json:"summary"`
	Failure  *domain.Failure `json:"failure,omitempty"`
}

// Compare runs every strategy in reg over s, in registry order.
func (bt *Backtester) Compare(ctx context.Context, s domain.Series, reg *strategy.Registry) ([]Comparison, error) {
	names := reg.List()
	out := make([]Comparison, 0, len(names))
	for _, name := range names {
		strat, _ := reg.Get(name)
		res, err := bt.Run(ctx, s, strat)
		if err != nil {
			return nil, fmt.Errorf("compare %s on %s: %w", name, s.Symbol, err)
		}
		out = append(out, Comparison{Strategy: name, Summary: res.Summary, Failure: res.Failure})
	}
	return out, nil
}

// Best returns the completed comparison with the highest total return.
func Best(rows []Comparison) (Comparison, bool) {
	var best Comparison
	found := false
	for _, r := range rows {
		if r.Failure != nil {
			continue
		}
		if !found || r.Summary.TotalReturnPct > best.Summary.TotalReturnPct {
			best, found = r, true
		}
	}
	return best, found
}
