package rotation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"folio/internal/domain"
	"folio/internal/ledger"
	"folio/internal/signal"
)

const reasonDropped = "dropped from selection"

// sim is the state of one rotation run. It owns its Ledger and only reads
// the panel.
type sim struct {
	cfg   Config
	p     Params
	panel *Panel
	index map[string]int
	led   *ledger.Ledger

	curve      []domain.EquityPoint
	rebalances []domain.RebalanceRecord
	notes      []domain.Note
}

func newSim(cfg Config, p Params, panel *Panel) *sim {
	index := make(map[string]int, len(panel.Symbols))
	for i, sym := range panel.Symbols {
		index[sym] = i
	}
	return &sim{
		cfg:   cfg,
		p:     p,
		panel: panel,
		index: index,
		led:   ledger.New(cfg.InitialCapital),
		curve: make([]domain.EquityPoint, 0, panel.Len()),
	}
}

func (s *sim) run() {
	for i := range s.panel.Dates {
		if s.isRebalanceDay(i) {
			s.rebalance(i)
		}
		s.mark(i)
	}
}

func (s *sim) isRebalanceDay(i int) bool {
	if i < s.p.LookbackDays {
		return false
	}
	return i == s.p.LookbackDays || i%s.p.RebalanceDays == 0
}

func (s *sim) note(kind domain.NoteKind, i int, sym, format string, args ...any) {
	s.notes = append(s.notes, domain.Note{
		Kind:   kind,
		Date:   s.panel.Dates[i],
		Symbol: sym,
		Detail: fmt.Sprintf(format, args...),
	})
}

func (s *sim) lookup(i int) ledger.PriceLookup {
	return func(sym string, _ time.Time) (float64, bool) {
		k, ok := s.index[sym]
		if !ok {
			return 0, false
		}
		return s.panel.Price(k, i)
	}
}

func (s *sim) mark(i int) {
	pt := s.led.Snapshot(s.panel.Dates[i], s.lookup(i))
	for _, sym := range pt.Unmarked {
		s.note(domain.NoteMissingPrice, i, sym, "held position has no close; excluded from equity")
	}
	s.curve = append(s.curve, pt)
}

type ranked struct {
	symbol string
	score  float64
}

// rank scores every tradable symbol on row i and returns them best first,
// ties broken by symbol.
func (s *sim) rank(i int) []ranked {
	var out []ranked
	for k, sym := range s.panel.Symbols {
		if _, ok := s.panel.Price(k, i); !ok {
			s.note(domain.NoteMissingPrice, i, sym, "no close on rebalance day; not ranked")
			continue
		}
		sc := signal.MomentumScore(s.panel.Prices[k], s.panel.Observed[k], i, s.p.LookbackDays, s.p.Method, s.cfg.Score)
		switch sc.Status {
		case signal.StatusOK:
			out = append(out, ranked{symbol: sym, score: sc.Value})
		case signal.StatusDegenerate:
			s.note(domain.NoteDegenerateRanking, i, sym, "zero %s denominator over %d days", s.p.Method, s.p.LookbackDays)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].score != out[b].score {
			return out[a].score > out[b].score
		}
		return out[a].symbol < out[b].symbol
	})
	return out
}

// rebalance moves the ledger toward equal weights across the top N on row
// i. Reductions settle before purchases so cash is never overdrawn.
func (s *sim) rebalance(i int) {
	date := s.panel.Dates[i]
	candidates := s.rank(i)
	if len(candidates) == 0 {
		s.note(domain.NoteShortSelection, i, "", "no rankable symbols; holdings unchanged")
		return
	}
	top := candidates[:min(s.p.TopN, len(candidates))]
	if len(top) < s.p.TopN {
		s.note(domain.NoteShortSelection, i, "", "%d rankable symbols for top %d", len(top), s.p.TopN)
	}

	selected := make(map[string]bool, len(top))
	rec := domain.RebalanceRecord{
		Date:     date,
		Selected: make([]string, len(top)),
		Scores:   make(map[string]float64, len(top)),
	}
	for j, r := range top {
		selected[r.symbol] = true
		rec.Selected[j] = r.symbol
		rec.Scores[r.symbol] = r.score
	}

	price := s.lookup(i)
	for _, sym := range s.led.Symbols() {
		if selected[sym] {
			continue
		}
		px, ok := price(sym, date)
		if !ok {
			s.note(domain.NoteMissingPrice, i, sym, "cannot sell dropped symbol without a close")
			continue
		}
		s.led.SellAll(date, sym, px, reasonDropped)
	}

	total, _ := s.led.Value(date, price)
	target := total / float64(s.p.TopN)
	rec.TotalValue = total

	want := make(map[string]int64, len(top))
	for _, r := range top {
		px, _ := price(r.symbol, date)
		want[r.symbol] = int64(math.Floor(target / px))
	}
	for _, r := range top {
		px, _ := price(r.symbol, date)
		if held := s.led.Shares(r.symbol); want[r.symbol] < held {
			s.trim(i, r.symbol, held-want[r.symbol], px)
		}
	}
	for _, r := range top {
		px, _ := price(r.symbol, date)
		held := s.led.Shares(r.symbol)
		if want[r.symbol] <= held {
			continue
		}
		need := want[r.symbol] - held
		_, short, _ := s.led.BuyUpTo(date, r.symbol, need, px, "rebalance buy")
		if short > 0 {
			s.note(domain.NoteAffordabilityShortfall, i, r.symbol, "bought %d of %d shares", need-short, need)
		}
	}

	s.rebalances = append(s.rebalances, rec)
}

// trim sells part of a position. A refusal by the ledger is recorded as a
// note and leaves the position unchanged.
func (s *sim) trim(i int, sym string, shares int64, px float64) {
	err := s.led.Apply(domain.Trade{
		Date: s.panel.Dates[i], Symbol: sym, Action: domain.ActionSell,
		Shares: shares, Price: px, Reason: "rebalance trim",
	})
	if err != nil {
		s.note(domain.NoteRejectedTrade, i, sym, "trim of %d shares: %v", shares, err)
	}
}
