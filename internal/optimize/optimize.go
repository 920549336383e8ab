// Package optimize searches the rotation parameter space: rolling
// walk-forward evaluation and full-grid robustness testing. Grid points run
// concurrently on a bounded worker pool; each run owns its Ledger and only
// reads the shared price panel.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"folio/internal/metrics"
	"folio/internal/rotation"
	"folio/internal/signal"
)

// Progress is called after each completed grid run with the number of runs
// done and the total. It may be called from several goroutines.
type Progress func(done, total int)

// Optimizer drives parameter searches over a rotation Backtester.
type Optimizer struct {
	bt       *rotation.Backtester
	workers  int
	logger   *slog.Logger
	metrics  *metrics.Recorder
	progress Progress
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithWorkers bounds the number of concurrent runs. Values below one use
// GOMAXPROCS.
func WithWorkers(n int) Option { return func(o *Optimizer) { o.workers = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Optimizer) { o.logger = l } }

// WithRecorder counts grid points and active searches.
func WithRecorder(r *metrics.Recorder) Option { return func(o *Optimizer) { o.metrics = r } }

// WithProgress installs a progress callback.
func WithProgress(p Progress) Option { return func(o *Optimizer) { o.progress = p } }

// New creates an Optimizer over bt.
func New(bt *rotation.Backtester, opts ...Option) *Optimizer {
	o := &Optimizer{bt: bt}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	o.logger = o.logger.With("component", "optimize")
	return o
}

// Grid is the rotation parameter search space.
type Grid struct {
	TopN          []int `yaml:"top_n" json:"top_n"`
	RebalanceDays []int `yaml:"rebalance_days" json:"rebalance_days"`
	LookbackDays  []int `yaml:"lookback_days" json:"lookback_days"`
}

// Size returns the number of grid points.
func (g Grid) Size() int {
	return len(g.TopN) * len(g.RebalanceDays) * len(g.LookbackDays)
}

// Validate rejects empty dimensions.
func (g Grid) Validate() error {
	if g.Size() == 0 {
		return fmt.Errorf("%w: grid has an empty dimension (top_n=%v rebalance_days=%v lookback_days=%v)",
			rotation.ErrInvalidParams, g.TopN, g.RebalanceDays, g.LookbackDays)
	}
	for _, p := range g.Points(signal.MethodNone) {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Points enumerates the grid with top_n outermost and lookback innermost.
func (g Grid) Points(m signal.Method) []rotation.Params {
	out := make([]rotation.Params, 0, g.Size())
	for _, n := range g.TopN {
		for _, rb := range g.RebalanceDays {
			for _, lb := range g.LookbackDays {
				out = append(out, rotation.Params{TopN: n, RebalanceDays: rb, LookbackDays: lb, Method: m})
			}
		}
	}
	return out
}

type job struct {
	panel  *rotation.Panel
	params rotation.Params
}

// tracker counts completed runs across every phase of one search so
// progress reports stay monotonic.
type tracker struct {
	total   int
	started time.Time

	mu   sync.Mutex
	done int
}

func newTracker(total int) *tracker {
	return &tracker{total: total, started: time.Now()}
}

// step records one completed run and reports it while holding the lock,
// so callbacks observe counts in increasing order.
func (tr *tracker) step(report func(done, total int)) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.done++
	if report != nil {
		report(tr.done, tr.total)
	}
	return tr.done
}

// runAll evaluates every job on the worker pool and returns results in job
// order. The first error cancels the remaining jobs.
func (o *Optimizer) runAll(ctx context.Context, search string, jobs []job, tr *tracker) ([]*rotation.Result, error) {
	results := make([]*rotation.Result, len(jobs))
	total := tr.total

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, j := range jobs {
		g.Go(func() error {
			res, err := o.bt.RunPanel(gctx, j.panel, j.params)
			if err != nil {
				return fmt.Errorf("%s %s: %w", search, j.params, err)
			}
			results[i] = res
			o.metrics.GridPoint(search)

			n := tr.step(o.progress)
			if step := max(total/10, 1); n%step == 0 || n == total {
				o.logger.Info("search progress",
					"search", search,
					"done", n,
					"total", total,
					"elapsed", time.Since(tr.started).Round(time.Millisecond),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
