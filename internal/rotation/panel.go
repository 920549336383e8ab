package rotation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"folio/internal/domain"
)

// Alignment is the policy that puts a pool of series on one date index.
type Alignment string

const (
	// AlignInnerJoin keeps only dates on which every eligible symbol
	// has a bar.
	AlignInnerJoin Alignment = "inner_join"
	// AlignForwardFill keeps every date any eligible symbol traded and
	// carries the last close forward for ranking. Filled prices are
	// never traded or marked.
	AlignForwardFill Alignment = "forward_fill"
)

// Panel is an immutable date×symbol grid of closes. Rows are dates and
// Symbols is sorted.
type Panel struct {
	Dates    []time.Time
	Symbols  []string
	Prices   [][]float64 // [symbol][row], NaN before the first observation
	Observed [][]bool    // [symbol][row]
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.Dates) }

// Slice returns the rows [from, to). The result shares storage with p.
func (p *Panel) Slice(from, to int) *Panel {
	out := &Panel{
		Dates:    p.Dates[from:to],
		Symbols:  p.Symbols,
		Prices:   make([][]float64, len(p.Symbols)),
		Observed: make([][]bool, len(p.Symbols)),
	}
	for s := range p.Symbols {
		out.Prices[s] = p.Prices[s][from:to]
		out.Observed[s] = p.Observed[s][from:to]
	}
	return out
}

// Price returns the observed close of symbol index s on row i.
func (p *Panel) Price(s, i int) (float64, bool) {
	if !p.Observed[s][i] {
		return 0, false
	}
	return p.Prices[s][i], true
}

// Align filters the pool to symbols observed on more than minCoverage of
// all dates and aligns the survivors under policy. It returns the panel and
// the dropped symbols.
func Align(series []domain.Series, policy Alignment, minCoverage float64) (*Panel, []string, error) {
	seen := make(map[string]bool, len(series))
	byDate := make(map[time.Time]bool)
	for _, s := range series {
		if seen[s.Symbol] {
			return nil, nil, fmt.Errorf("duplicate symbol %q in pool", s.Symbol)
		}
		seen[s.Symbol] = true
		if err := s.Validate(); err != nil {
			return nil, nil, err
		}
		for _, b := range s.Bars {
			byDate[dateKey(b.Date)] = true
		}
	}
	union := len(byDate)

	var kept []domain.Series
	var dropped []string
	for _, s := range series {
		if union > 0 && float64(s.Len()) > minCoverage*float64(union) {
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s.Symbol)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Symbol < kept[j].Symbol })
	sort.Strings(dropped)

	counts := make(map[time.Time]int)
	for _, s := range kept {
		for _, b := range s.Bars {
			counts[dateKey(b.Date)]++
		}
	}
	var dates []time.Time
	for d, c := range counts {
		if policy == AlignForwardFill || c == len(kept) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	row := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		row[d] = i
	}

	p := &Panel{
		Dates:    dates,
		Symbols:  make([]string, len(kept)),
		Prices:   make([][]float64, len(kept)),
		Observed: make([][]bool, len(kept)),
	}
	for k, s := range kept {
		p.Symbols[k] = s.Symbol
		prices := make([]float64, len(dates))
		for i := range prices {
			prices[i] = math.NaN()
		}
		obs := make([]bool, len(dates))
		for _, b := range s.Bars {
			if i, ok := row[dateKey(b.Date)]; ok {
				prices[i] = b.Close
				obs[i] = true
			}
		}
		if policy == AlignForwardFill {
			last := math.NaN()
			for i := range prices {
				if obs[i] {
					last = prices[i]
				} else {
					prices[i] = last
				}
			}
		}
		p.Prices[k] = prices
		p.Observed[k] = obs
	}
	return p, dropped, nil
}

func dateKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
