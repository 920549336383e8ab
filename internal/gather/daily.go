package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"folio/internal/config"
	"folio/internal/domain"
	"folio/internal/store"
	"folio/internal/util"
)

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// BarSink is the store the gatherer writes into. LastDate reports the most
// recent stored bar so runs only fetch what is missing.
type BarSink interface {
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error
	LastDate(symbol string, market domain.Market, now time.Time) (time.Time, bool, error)
}

// Compile-time interface check.
var _ BarSink = (*store.ParquetStore)(nil)

// Stats summarises one gathering pass.
type Stats struct {
	Symbols  int   `json:"symbols"`
	UpToDate int   `json:"up_to_date"`
	Batches  int   `json:"batches"`
	Failed   int   `json:"failed_batches"`
	Bars     int64 `json:"bars"`
}

// DailyBarGatherer brings the daily bars of every active watch-list symbol
// up to the last completed session.
type DailyBarGatherer struct {
	fetcher    BarFetcher
	sink       BarSink
	watchlist  store.WatchlistStore
	market     domain.Market
	calendar   *util.TradingCalendar
	limiter    *util.RateLimiter
	batchSize  int
	maxWorkers int
	startDate  time.Time
	retryDelay time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer for one market.
func NewDailyBarGatherer(
	fetcher BarFetcher,
	sink BarSink,
	watchlist store.WatchlistStore,
	market domain.Market,
	cfg config.GatherJobConfig,
	log *slog.Logger,
) (*DailyBarGatherer, error) {
	start, err := time.Parse(domain.DateLayout, cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", cfg.StartDate, err)
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	rate := cfg.RateLimitPerMin
	if rate <= 0 {
		rate = 200
	}
	return &DailyBarGatherer{
		fetcher:    fetcher,
		sink:       sink,
		watchlist:  watchlist,
		market:     market,
		calendar:   util.NewTradingCalendar(market),
		limiter:    util.NewRateLimiter(rate),
		batchSize:  max(cfg.BatchSize, 1),
		maxWorkers: max(cfg.MaxWorkers, 1),
		startDate:  start,
		retryDelay: time.Second,
		now:        time.Now,
		log:        log.With("gatherer", "daily", "market", string(market)),
	}, nil
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return string(g.market) + "-daily" }

// Run performs one gathering pass and logs its statistics.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	_, err := g.Gather(ctx)
	return err
}

type batch struct {
	symbols []string
	rng     DateRange
}

// Gather fetches the missing bars for every active watch-list symbol. Failed
// batches are logged and counted; Gather returns an error only when the
// watch-list or store cannot be read, the context ends, or every batch
// failed.
func (g *DailyBarGatherer) Gather(ctx context.Context) (Stats, error) {
	var stats Stats

	// 1. Determine end date from the trading calendar.
	end := g.calendar.LastCompletedSession(g.now())

	// 2. Resolve the pool.
	symbols, err := g.watchlist.ListWatchlist(ctx, g.market)
	if err != nil {
		return stats, fmt.Errorf("listing watchlist: %w", err)
	}
	stats.Symbols = len(symbols)

	// 3. Group by first missing date, so a batch shares one request range.
	byStart := make(map[time.Time][]string)
	for _, sym := range symbols {
		last, ok, err := g.sink.LastDate(sym, g.market, end)
		if err != nil {
			return stats, fmt.Errorf("reading last bar of %s: %w", sym, err)
		}
		from := g.startDate
		if ok {
			if !last.Before(end) {
				stats.UpToDate++
				continue
			}
			from = last.AddDate(0, 0, 1)
		}
		byStart[from] = append(byStart[from], sym)
	}

	starts := make([]time.Time, 0, len(byStart))
	for s := range byStart {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	var batches []batch
	for _, s := range starts {
		group := byStart[s]
		for i := 0; i < len(group); i += g.batchSize {
			batches = append(batches, batch{
				symbols: group[i:min(i+g.batchSize, len(group))],
				rng:     DateRange{Start: s, End: end},
			})
		}
	}
	stats.Batches = len(batches)

	g.log.Info("starting gather",
		"endDate", end.Format(domain.DateLayout),
		"symbols", stats.Symbols,
		"upToDate", stats.UpToDate,
		"batches", stats.Batches,
	)
	if len(batches) == 0 {
		return stats, nil
	}

	// 4. Feed batches to workers.
	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.maxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.runBatch(ctx, batches[idx])
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
						"err", err,
					)
					continue
				}
				totalBars.Add(int64(n))
				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
					"bars", n,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()

	stats.Bars = totalBars.Load()
	stats.Failed = int(failed.Load())
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	g.log.Info("complete",
		"bars", stats.Bars,
		"failed", stats.Failed,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	if stats.Failed == stats.Batches {
		return stats, errors.New("every gather batch failed")
	}
	return stats, nil
}

// runBatch fetches one batch with retry and writes it to the sink.
func (g *DailyBarGatherer) runBatch(ctx context.Context, b batch) (int, error) {
	var got map[string][]domain.Bar
	err := util.Retry(ctx, 3, g.retryDelay, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		got, err = g.fetcher.FetchDailyBars(ctx, b.symbols, b.rng)
		return err
	})
	if err != nil {
		return 0, err
	}

	var bars []domain.Bar
	for _, sym := range b.symbols {
		bars = append(bars, got[sym]...)
	}
	if len(bars) == 0 {
		return 0, nil
	}
	if err := g.sink.WriteBars(ctx, g.market, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	return len(bars), nil
}
