package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"folio/internal/config"
	"folio/internal/engine"
	"folio/internal/gather"
	"folio/internal/httpapi"
	"folio/internal/metrics"
	"folio/internal/schedule"
	"folio/internal/store"
	"folio/internal/util"
)

func main() {
	_ = godotenv.Load()

	// Load config.
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Setup logging.
	logger := util.NewLogger(cfg.Logging)
	util.SetDefault(logger)

	// Create stores.
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	rec := metrics.New()
	eng, err := engine.New(cfg, engine.Stores{Bars: bars, Watchlist: db, Runs: db}, rec, logger, nil)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}

	// Schedule data gathering and nightly evaluation.
	cal := util.NewTradingCalendar(eng.Market())
	sched := schedule.New(cal, logger)

	gatherer, err := gather.NewDailyBarGatherer(gather.NewAlpacaFetcher(cfg.Alpaca), bars, db, eng.Market(), cfg.Gather, logger)
	if err != nil {
		log.Fatalf("creating gatherer: %v", err)
	}
	if err := sched.Add(gatherer.Name(), cfg.Schedule.GatherCron, true, gatherer.Run); err != nil {
		log.Fatalf("scheduling gather: %v", err)
	}
	if err := sched.Add("evaluate", cfg.Schedule.EvaluateCron, true, evaluate(eng, logger)); err != nil {
		log.Fatalf("scheduling evaluate: %v", err)
	}

	// Start HTTP server.
	srv := httpapi.NewServer(eng, rec.Handler(), logger)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched.Start()
	go func() {
		logger.Info("folio server listening", "addr", httpServer.Addr, "market", eng.Market())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down folio server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	sched.Stop()
}

// evaluate runs walk-forward and robustness over the active watch-list.
// Both runs are persisted by the engine.
func evaluate(eng *engine.Engine, logger *slog.Logger) schedule.Job {
	return func(ctx context.Context) error {
		var pool engine.PoolRequest

		wf, err := eng.WalkForward(ctx, engine.WalkForwardRequest{PoolRequest: pool})
		if errors.Is(err, engine.ErrEmptyPool) {
			logger.Info("watch-list is empty, nothing to evaluate")
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk-forward: %w", err)
		}
		if wf.Failure != nil {
			logger.Warn("walk-forward did not run", "failure", wf.Failure)
		} else {
			logger.Info("walk-forward complete",
				"windows", wf.Summary.Windows,
				"avg_test_return_pct", wf.Summary.AvgTestReturnPct,
				"consistency_pct", wf.Summary.ConsistencyPct,
			)
		}

		rb, err := eng.Robustness(ctx, engine.RobustnessRequest{PoolRequest: pool})
		if err != nil {
			return fmt.Errorf("robustness: %w", err)
		}
		if rb.Failure != nil {
			logger.Warn("robustness did not run", "failure", rb.Failure)
			return nil
		}
		logger.Info("robustness complete",
			"points", len(rb.Points),
			"vol_adjustment_benefit", rb.VolBenefit,
		)
		return nil
	}
}
