package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"folio/internal/backtest"
	"folio/internal/config"
	"folio/internal/domain"
	"folio/internal/engine"
	"folio/internal/gather"
	"folio/internal/metrics"
	"folio/internal/optimize"
	"folio/internal/rotation"
	fsignal "folio/internal/signal"
	"folio/internal/store"
	"folio/internal/util"
)

const version = "0.3.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: folio-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  backtest     Run one strategy on one symbol\n")
	fmt.Fprintf(os.Stderr, "  compare      Run every strategy on one symbol\n")
	fmt.Fprintf(os.Stderr, "  recommend    Show the latest combined signal for a symbol\n")
	fmt.Fprintf(os.Stderr, "  rotate       Run momentum rotation over a pool\n")
	fmt.Fprintf(os.Stderr, "  walkforward  Run rolling train/test evaluation over a pool\n")
	fmt.Fprintf(os.Stderr, "  robustness   Sweep the parameter grid over a pool\n")
	fmt.Fprintf(os.Stderr, "  watchlist    add|remove|list watch-list symbols\n")
	fmt.Fprintf(os.Stderr, "  runs         list saved runs, or show one by id\n")
	fmt.Fprintf(os.Stderr, "  gather       Fetch missing daily bars for the watch-list\n")
	fmt.Fprintf(os.Stderr, "\nConfig is read from $FOLIO_CONFIG (default %s).\n", config.DefaultPath)
}

// app holds the wiring shared by every command.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	bars   *store.ParquetStore
	db     *store.SQLiteStore
	engine *engine.Engine
}

func setup(progress bool) (*app, error) {
	// Optional .env carrying Alpaca credentials.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging)
	util.SetDefault(logger)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, err
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", cfg.Storage.SQLitePath, err)
	}
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	var report optimize.Progress
	if progress {
		report = func(done, total int) {
			fmt.Fprintf(os.Stderr, "\r%d/%d grid runs", done, total)
			if done == total {
				fmt.Fprintln(os.Stderr)
			}
		}
	}
	e, err := engine.New(cfg, engine.Stores{Bars: bars, Watchlist: db, Runs: db}, metrics.New(), logger, report)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &app{cfg: cfg, log: logger, bars: bars, db: db, engine: e}, nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("folio-cli %s\n", version)
		return
	}

	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}

	a, err := setup(cmd == "walkforward" || cmd == "robustness")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer a.db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, a, args); err != nil {
		a.db.Close()
		log.Fatalf("%s: %v", cmd, err)
	}
}

var commands = map[string]func(context.Context, *app, []string) error{
	"backtest":    cmdBacktest,
	"compare":     cmdCompare,
	"recommend":   cmdRecommend,
	"rotate":      cmdRotate,
	"walkforward": cmdWalkForward,
	"robustness":  cmdRobustness,
	"watchlist":   cmdWatchlist,
	"runs":        cmdRuns,
	"gather":      cmdGather,
}

// ---------------------------------------------------------------------------
// Flag helpers
// ---------------------------------------------------------------------------

type rangeFlags struct {
	start, end, market *string
}

func addRange(fs *flag.FlagSet) rangeFlags {
	return rangeFlags{
		start:  fs.String("start", "", "start date YYYY-MM-DD (default: all history)"),
		end:    fs.String("end", "", "end date YYYY-MM-DD (default: today)"),
		market: fs.String("market", "", "market: us, tw or cn (default from config)"),
	}
}

func (f rangeFlags) parse() (engine.Range, domain.Market, error) {
	var r engine.Range
	var err error
	if *f.start != "" {
		if r.Start, err = time.Parse(domain.DateLayout, *f.start); err != nil {
			return r, "", fmt.Errorf("invalid -start: %w", err)
		}
	}
	if *f.end != "" {
		if r.End, err = time.Parse(domain.DateLayout, *f.end); err != nil {
			return r, "", fmt.Errorf("invalid -end: %w", err)
		}
	}
	return r, domain.Market(strings.ToLower(*f.market)), nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// Single-asset commands
// ---------------------------------------------------------------------------

func symbolFlags(name string, args []string, withStrategy bool) (engine.SymbolRequest, bool, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	symbol := fs.String("symbol", "", "symbol to evaluate (required)")
	var strat *string
	if withStrategy {
		strat = fs.String("strategy", "buy_and_hold", "strategy name")
	}
	full := fs.Bool("full", false, "print the full result including equity curve and trades")
	rf := addRange(fs)
	fs.Parse(args)

	r, market, err := rf.parse()
	if err != nil {
		return engine.SymbolRequest{}, false, err
	}
	req := engine.SymbolRequest{Symbol: *symbol, Market: market, Range: r}
	if strat != nil {
		req.Strategy = *strat
	}
	return req, *full, nil
}

func cmdBacktest(ctx context.Context, a *app, args []string) error {
	req, full, err := symbolFlags("backtest", args, true)
	if err != nil {
		return err
	}
	res, err := a.engine.Backtest(ctx, req)
	if err != nil {
		return err
	}
	if full {
		return printJSON(res)
	}
	return printJSON(struct {
		Symbol   string           `json:"symbol"`
		Strategy string           `json:"strategy"`
		Summary  backtest.Summary `json:"summary"`
		Failure  *domain.Failure  `json:"failure,omitempty"`
		Trades   int              `json:"closed_trades"`
	}{res.Symbol, res.Strategy, res.Summary, res.Failure, len(res.ClosedTrades)})
}

func cmdCompare(ctx context.Context, a *app, args []string) error {
	req, _, err := symbolFlags("compare", args, false)
	if err != nil {
		return err
	}
	rows, err := a.engine.Compare(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%-14s %10s %10s %8s %8s\n", "strategy", "return%", "maxDD%", "sharpe", "trades")
	for _, r := range rows {
		if r.Failure != nil {
			fmt.Printf("%-14s %s\n", r.Strategy, r.Failure)
			continue
		}
		s := r.Summary
		fmt.Printf("%-14s %10.2f %10.2f %8.2f %8d\n", r.Strategy, s.TotalReturnPct, s.MaxDrawdownPct, s.SharpeRatio, s.TotalTrades)
	}
	return nil
}

func cmdRecommend(ctx context.Context, a *app, args []string) error {
	req, _, err := symbolFlags("recommend", args, false)
	if err != nil {
		return err
	}
	rec, err := a.engine.Recommend(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

// ---------------------------------------------------------------------------
// Portfolio commands
// ---------------------------------------------------------------------------

type poolFlags struct {
	symbols *string
	full    *bool
	rng     rangeFlags
}

func addPool(fs *flag.FlagSet) poolFlags {
	return poolFlags{
		symbols: fs.String("symbols", "", "comma-separated pool (default: active watch-list)"),
		full:    fs.Bool("full", false, "print the full result"),
		rng:     addRange(fs),
	}
}

func (p poolFlags) request() (engine.PoolRequest, error) {
	r, market, err := p.rng.parse()
	if err != nil {
		return engine.PoolRequest{}, err
	}
	return engine.PoolRequest{Symbols: splitSymbols(*p.symbols), Market: market, Range: r}, nil
}

func cmdRotate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("rotate", flag.ExitOnError)
	pf := addPool(fs)
	def := a.cfg.Rotation.Defaults
	top := fs.Int("top", def.TopN, "number of symbols held")
	reb := fs.Int("rebalance", def.RebalanceDays, "rebalance interval in trading days")
	look := fs.Int("lookback", def.LookbackDays, "momentum lookback in trading days")
	method := fs.String("method", string(def.Method), "risk adjustment: none, sharpe, sortino, vol_scaled")
	fs.Parse(args)

	pool, err := pf.request()
	if err != nil {
		return err
	}
	m, err := fsignal.ParseMethod(*method)
	if err != nil {
		return err
	}
	p := rotation.Params{TopN: *top, RebalanceDays: *reb, LookbackDays: *look, Method: m}
	res, err := a.engine.Rotate(ctx, engine.RotationRequest{PoolRequest: pool, Params: &p})
	if err != nil {
		return err
	}
	if *pf.full {
		return printJSON(res)
	}
	return printJSON(struct {
		Params     rotation.Params  `json:"params"`
		Pool       []string         `json:"pool"`
		Dropped    []string         `json:"dropped,omitempty"`
		Summary    rotation.Summary `json:"summary"`
		Rebalances int              `json:"rebalances"`
		Failure    *domain.Failure  `json:"failure,omitempty"`
	}{res.Params, res.Pool, res.Dropped, res.Summary, len(res.Rebalances), res.Failure})
}

func cmdWalkForward(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("walkforward", flag.ExitOnError)
	pf := addPool(fs)
	def := a.cfg.WalkForward
	train := fs.Int("train", def.TrainMonths, "train window in months")
	test := fs.Int("test", def.TestMonths, "test window in months")
	method := fs.String("method", string(def.Method), "risk adjustment used for ranking")
	fs.Parse(args)

	pool, err := pf.request()
	if err != nil {
		return err
	}
	m, err := fsignal.ParseMethod(*method)
	if err != nil {
		return err
	}
	cfg := def
	cfg.TrainMonths, cfg.TestMonths, cfg.Method = *train, *test, m
	res, err := a.engine.WalkForward(ctx, engine.WalkForwardRequest{PoolRequest: pool, Config: &cfg})
	if err != nil {
		return err
	}
	if *pf.full {
		return printJSON(res)
	}
	return printJSON(struct {
		Windows []optimize.WindowResult     `json:"window_results"`
		Summary optimize.WalkForwardSummary `json:"summary"`
		Failure *domain.Failure             `json:"failure,omitempty"`
	}{res.Windows, res.Summary, res.Failure})
}

func cmdRobustness(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("robustness", flag.ExitOnError)
	pf := addPool(fs)
	method := fs.String("method", string(a.cfg.Robustness.AdjustedMethod), "risk adjustment compared against raw momentum")
	fs.Parse(args)

	pool, err := pf.request()
	if err != nil {
		return err
	}
	m, err := fsignal.ParseMethod(*method)
	if err != nil {
		return err
	}
	cfg := a.cfg.Robustness
	cfg.AdjustedMethod = m
	res, err := a.engine.Robustness(ctx, engine.RobustnessRequest{PoolRequest: pool, Config: &cfg})
	if err != nil {
		return err
	}
	if *pf.full {
		return printJSON(res)
	}
	return printJSON(struct {
		Raw         optimize.ModeStats   `json:"raw"`
		Adjusted    optimize.ModeStats   `json:"adjusted"`
		VolBenefit  float64              `json:"vol_adjustment_benefit"`
		Sensitivity optimize.Sensitivity `json:"sensitivity"`
		Failure     *domain.Failure      `json:"failure,omitempty"`
	}{res.Raw, res.Adjusted, res.VolBenefit, res.Sensitivity, res.Failure})
}

// ---------------------------------------------------------------------------
// Maintenance commands
// ---------------------------------------------------------------------------

func cmdWatchlist(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watchlist", flag.ExitOnError)
	market := fs.String("market", "", "market (default from config)")
	fs.Parse(args)
	m := domain.Market(strings.ToLower(*market))
	if m == "" {
		m = a.engine.Market()
	}

	rest := fs.Args()
	if len(rest) == 0 {
		rest = []string{"list"}
	}
	switch rest[0] {
	case "add":
		for _, sym := range rest[1:] {
			if err := a.db.AddSymbol(ctx, m, sym); err != nil {
				return err
			}
		}
	case "remove":
		for _, sym := range rest[1:] {
			if err := a.db.DeactivateSymbol(ctx, m, sym); err != nil {
				return err
			}
		}
	case "list":
	default:
		return fmt.Errorf("unknown watchlist action %q (want add, remove or list)", rest[0])
	}

	items, err := a.db.Watchlist(ctx, m)
	if err != nil {
		return err
	}
	for _, it := range items {
		state := "active"
		if !it.Active {
			state = "inactive"
		}
		fmt.Printf("%-10s %-8s added %s\n", it.Symbol, state, it.AddedAt.Format(domain.DateLayout))
	}
	return nil
}

func cmdRuns(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	kind := fs.String("kind", "", "filter by kind")
	limit := fs.Int("limit", 20, "maximum runs listed")
	fs.Parse(args)

	if id := fs.Arg(0); id != "" {
		run, err := a.engine.Run(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(run)
	}
	runs, err := a.engine.Runs(ctx, *kind, *limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-13s %-8s %s\n", r.CreatedAt.Format(time.DateTime), r.Kind, r.Outcome, r.ID)
	}
	return nil
}

func cmdGather(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("gather", flag.ExitOnError)
	market := fs.String("market", "", "market (default from config)")
	fs.Parse(args)
	m := domain.Market(strings.ToLower(*market))
	if m == "" {
		m = a.engine.Market()
	}

	g, err := gather.NewDailyBarGatherer(gather.NewAlpacaFetcher(a.cfg.Alpaca), a.bars, a.db, m, a.cfg.Gather, a.log)
	if err != nil {
		return err
	}
	stats, err := g.Gather(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}
