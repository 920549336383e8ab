// Package engine coordinates price loading, the backtesters, run
// persistence and metrics behind one facade used by the CLI and the HTTP
// server.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"folio/internal/backtest"
	"folio/internal/config"
	"folio/internal/domain"
	"folio/internal/metrics"
	"folio/internal/optimize"
	"folio/internal/rotation"
	"folio/internal/signal"
	"folio/internal/store"
	"folio/internal/strategy"
	"folio/internal/strategy/builtins"
)

// Run kinds, used as metric labels and saved-run kinds.
const (
	KindBacktest    = "backtest"
	KindCompare     = "compare"
	KindRotation    = "rotation"
	KindWalkForward = "walk_forward"
	KindRobustness  = "robustness"
)

// ErrEmptyPool is returned when a pool request names no symbols and the
// watch-list is empty.
var ErrEmptyPool = errors.New("empty symbol pool")

// Stores groups the persistence dependencies. Runs may be nil, in which
// case runs are not saved.
type Stores struct {
	Bars      store.BarStore
	Watchlist store.WatchlistStore
	Runs      store.RunStore
}

// Engine loads price data once per request and dispatches it to the
// single-asset, rotation, walk-forward and robustness evaluators.
type Engine struct {
	market   domain.Market
	stores   Stores
	signals  signal.Params
	rotation rotation.Params
	wf       optimize.WalkForwardConfig
	robust   optimize.RobustnessConfig
	registry *strategy.Registry
	bt       *backtest.Backtester
	rot      *rotation.Backtester
	opt      *optimize.Optimizer
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

// New creates an Engine from the configuration. rec and logger may be nil.
func New(cfg *config.Config, stores Stores, rec *metrics.Recorder, logger *slog.Logger, progress optimize.Progress) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if stores.Bars == nil {
		return nil, errors.New("engine: bar store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "engine")

	bt, err := backtest.New(cfg.Backtest.Config, logger)
	if err != nil {
		return nil, err
	}
	rot, err := rotation.New(cfg.Rotation.Config, logger)
	if err != nil {
		return nil, err
	}
	opt := optimize.New(rot,
		optimize.WithWorkers(cfg.Workers),
		optimize.WithLogger(logger),
		optimize.WithRecorder(rec),
		optimize.WithProgress(progress),
	)

	market := domain.Market(cfg.Schedule.Market)
	if market == "" {
		market = domain.MarketUS
	}

	return &Engine{
		market:   market,
		stores:   stores,
		signals:  cfg.Backtest.Signals,
		rotation: cfg.Rotation.Defaults,
		wf:       cfg.WalkForward,
		robust:   cfg.Robustness,
		registry: builtins.NewRegistry(cfg.Backtest.Signals),
		bt:       bt,
		rot:      rot,
		opt:      opt,
		metrics:  rec,
		logger:   logger,
	}, nil
}

// Market returns the default market.
func (e *Engine) Market() domain.Market { return e.market }

// Strategies lists the registered single-asset strategies.
func (e *Engine) Strategies() []string { return e.registry.List() }

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Range is an inclusive date range. A zero End means today.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) resolve() (time.Time, time.Time) {
	end := r.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return r.Start, end
}

// SymbolRequest selects one symbol over a date range.
type SymbolRequest struct {
	Symbol   string        `json:"symbol"`
	Market   domain.Market `json:"market,omitempty"`
	Strategy string        `json:"strategy,omitempty"`
	Range
}

// PoolRequest selects a symbol pool over a date range. An empty Symbols
// list means the active watch-list of Market.
type PoolRequest struct {
	Symbols []string      `json:"symbols,omitempty"`
	Market  domain.Market `json:"market,omitempty"`
	Range
}

// ---------------------------------------------------------------------------
// Price loading
// ---------------------------------------------------------------------------

func (e *Engine) marketOr(m domain.Market) domain.Market {
	if m == "" {
		return e.market
	}
	return m
}

// Series loads one symbol's bars over the range.
func (e *Engine) Series(ctx context.Context, symbol string, market domain.Market, r Range) (domain.Series, error) {
	start, end := r.resolve()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.Series{}, fmt.Errorf("%w: symbol is required", backtest.ErrInvalidParams)
	}
	bars, err := e.stores.Bars.ReadBars(ctx, symbol, e.marketOr(market), start, end)
	if err != nil {
		return domain.Series{}, fmt.Errorf("reading %s: %w", symbol, err)
	}
	return domain.Series{Symbol: symbol, Bars: bars}, nil
}

// Pool resolves the symbols of req and loads every series once.
func (e *Engine) Pool(ctx context.Context, req PoolRequest) ([]domain.Series, error) {
	market := e.marketOr(req.Market)
	symbols := req.Symbols
	if len(symbols) == 0 && e.stores.Watchlist != nil {
		var err error
		symbols, err = e.stores.Watchlist.ListWatchlist(ctx, market)
		if err != nil {
			return nil, fmt.Errorf("listing %s watchlist: %w", market, err)
		}
	}
	if len(symbols) == 0 {
		return nil, ErrEmptyPool
	}

	seen := make(map[string]bool, len(symbols))
	series := make([]domain.Series, 0, len(symbols))
	for _, sym := range symbols {
		s, err := e.Series(ctx, sym, market, req.Range)
		if err != nil {
			return nil, err
		}
		if seen[s.Symbol] {
			continue
		}
		seen[s.Symbol] = true
		series = append(series, s)
	}
	e.logger.Debug("pool loaded", "market", market, "symbols", len(series))
	return series, nil
}

// ---------------------------------------------------------------------------
// Single-asset
// ---------------------------------------------------------------------------

// Backtest runs one registered strategy over one symbol. An empty strategy
// name selects buy_and_hold.
func (e *Engine) Backtest(ctx context.Context, req SymbolRequest) (*backtest.Result, error) {
	name := req.Strategy
	if name == "" {
		name = "buy_and_hold"
	}
	strat, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", backtest.ErrInvalidParams, name)
	}
	s, err := e.Series(ctx, req.Symbol, req.Market, req.Range)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	res, err := e.bt.Run(ctx, s, strat)
	if err != nil {
		e.observe(KindBacktest, nil, err, began)
		return nil, err
	}
	e.observe(KindBacktest, res.Failure, nil, began)
	e.save(ctx, KindBacktest, req, res.Summary, res.Failure)
	return res, nil
}

// Compare runs every registered strategy over one symbol.
func (e *Engine) Compare(ctx context.Context, req SymbolRequest) ([]backtest.Comparison, error) {
	s, err := e.Series(ctx, req.Symbol, req.Market, req.Range)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	rows, err := e.bt.Compare(ctx, s, e.registry)
	if err != nil {
		e.observe(KindCompare, nil, err, began)
		return nil, err
	}
	var failure *domain.Failure
	best, ok := backtest.Best(rows)
	if !ok && len(rows) > 0 {
		failure = rows[0].Failure
	}
	e.observe(KindCompare, failure, nil, began)
	if ok {
		e.save(ctx, KindCompare, req, best, nil)
	} else {
		e.save(ctx, KindCompare, req, rows, failure)
	}
	return rows, nil
}

// Recommend evaluates the signal families on the latest bar of a symbol.
func (e *Engine) Recommend(ctx context.Context, req SymbolRequest) (signal.Recommendation, error) {
	s, err := e.Series(ctx, req.Symbol, req.Market, req.Range)
	if err != nil {
		return signal.Recommendation{}, err
	}
	return signal.Recommend(s, e.signals)
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// RotationRequest is a pool request with optional rotation parameters. Nil
// Params selects the configured defaults.
type RotationRequest struct {
	PoolRequest
	Params *rotation.Params `json:"params,omitempty"`
}

// Rotate runs momentum rotation over the pool.
func (e *Engine) Rotate(ctx context.Context, req RotationRequest) (*rotation.Result, error) {
	p := e.rotation
	if req.Params != nil {
		p = *req.Params
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	series, err := e.Pool(ctx, req.PoolRequest)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	res, err := e.rot.Run(ctx, series, p)
	if err != nil {
		e.observe(KindRotation, nil, err, began)
		return nil, err
	}
	e.observe(KindRotation, res.Failure, nil, began)
	e.save(ctx, KindRotation, RotationRequest{PoolRequest: req.PoolRequest, Params: &p}, res.Summary, res.Failure)
	return res, nil
}

// WalkForwardRequest is a pool request with an optional evaluator config.
type WalkForwardRequest struct {
	PoolRequest
	Config *optimize.WalkForwardConfig `json:"config,omitempty"`
}

// WalkForward runs rolling train/test evaluation over the pool.
func (e *Engine) WalkForward(ctx context.Context, req WalkForwardRequest) (*optimize.WalkForwardResult, error) {
	cfg := e.wf
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	series, err := e.Pool(ctx, req.PoolRequest)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	res, err := e.opt.WalkForward(ctx, series, cfg)
	if err != nil {
		e.observe(KindWalkForward, nil, err, began)
		return nil, err
	}
	e.observe(KindWalkForward, res.Failure, nil, began)
	e.save(ctx, KindWalkForward, WalkForwardRequest{PoolRequest: req.PoolRequest, Config: &cfg}, res.Summary, res.Failure)
	return res, nil
}

// RobustnessRequest is a pool request with an optional tester config.
type RobustnessRequest struct {
	PoolRequest
	Config *optimize.RobustnessConfig `json:"config,omitempty"`
}

// robustnessSummary is the saved headline of a robustness run.
type robustnessSummary struct {
	Raw        optimize.ModeStats `json:"raw"`
	Adjusted   optimize.ModeStats `json:"adjusted"`
	VolBenefit float64            `json:"vol_adjustment_benefit"`
}

// Robustness sweeps the full grid over the pool with and without risk
// adjustment.
func (e *Engine) Robustness(ctx context.Context, req RobustnessRequest) (*optimize.RobustnessResult, error) {
	cfg := e.robust
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	series, err := e.Pool(ctx, req.PoolRequest)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	res, err := e.opt.Robustness(ctx, series, cfg)
	if err != nil {
		e.observe(KindRobustness, nil, err, began)
		return nil, err
	}
	e.observe(KindRobustness, res.Failure, nil, began)
	e.save(ctx, KindRobustness, RobustnessRequest{PoolRequest: req.PoolRequest, Config: &cfg},
		robustnessSummary{Raw: res.Raw, Adjusted: res.Adjusted, VolBenefit: res.VolBenefit}, res.Failure)
	return res, nil
}

// ---------------------------------------------------------------------------
// Watch-list and saved runs
// ---------------------------------------------------------------------------

// Watchlist returns the watch-list store, or nil when none is configured.
func (e *Engine) Watchlist() store.WatchlistStore { return e.stores.Watchlist }

// Runs lists saved runs, newest first.
func (e *Engine) Runs(ctx context.Context, kind string, limit int) ([]store.Run, error) {
	if e.stores.Runs == nil {
		return nil, nil
	}
	return e.stores.Runs.ListRuns(ctx, kind, limit)
}

// Run returns one saved run.
func (e *Engine) Run(ctx context.Context, id string) (*store.Run, error) {
	if e.stores.Runs == nil {
		return nil, store.ErrNotFound
	}
	return e.stores.Runs.GetRun(ctx, id)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func outcome(failure *domain.Failure, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case failure != nil:
		return metrics.OutcomeFailure
	}
	return metrics.OutcomeOK
}

func (e *Engine) observe(kind string, failure *domain.Failure, err error, began time.Time) {
	elapsed := time.Since(began)
	e.metrics.ObserveRun(kind, outcome(failure, err), elapsed)
	switch {
	case err != nil:
		e.logger.Error("run failed", "kind", kind, "error", err)
	case failure != nil:
		e.logger.Warn("run produced no result", "kind", kind, "failure", failure.Kind, "message", failure.Message)
	default:
		e.logger.Info("run complete", "kind", kind, "elapsed", elapsed)
	}
}

// save persists a run. A storage error is logged and does not fail the
// request whose result has already been computed.
func (e *Engine) save(ctx context.Context, kind string, params, summary any, failure *domain.Failure) {
	if e.stores.Runs == nil {
		return
	}
	p, err := json.Marshal(params)
	if err != nil {
		e.logger.Error("encoding run params", "kind", kind, "error", err)
		return
	}
	var payload any = summary
	if failure != nil {
		payload = map[string]any{"failure": failure}
	}
	s, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("encoding run summary", "kind", kind, "error", err)
		return
	}
	run := &store.Run{Kind: kind, Outcome: outcome(failure, nil), Params: p, Summary: s}
	if err := e.stores.Runs.SaveRun(ctx, run); err != nil {
		e.logger.Error("saving run", "kind", kind, "error", err)
		return
	}
	e.logger.Debug("run saved", "kind", kind, "id", run.ID)
}
