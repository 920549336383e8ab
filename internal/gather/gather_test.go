package gather

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"folio/internal/config"
	"folio/internal/domain"
	"folio/internal/store"
)

// fakeFetcher serves bars from a fixed per-symbol history.
type fakeFetcher struct {
	mu       sync.Mutex
	history  map[string][]domain.Bar
	calls    []DateRange
	failures int
}

func (f *fakeFetcher) FetchDailyBars(_ context.Context, symbols []string, r DateRange) (map[string][]domain.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r)
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient")
	}
	out := make(map[string][]domain.Bar)
	for _, sym := range symbols {
		for _, b := range f.history[sym] {
			if !b.Date.Before(r.Start) && !b.Date.After(r.End) {
				out[sym] = append(out[sym], b)
			}
		}
	}
	return out, nil
}

func weekdays(sym string, from time.Time, n int) []domain.Bar {
	var bars []domain.Bar
	for d := from; len(bars) < n; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		px := 100 + float64(len(bars))
		bars = append(bars, domain.Bar{Symbol: sym, Date: d, Open: px, High: px, Low: px, Close: px, Volume: 10})
	}
	return bars
}

func setup(t *testing.T, fetcher BarFetcher, symbols ...string) (*DailyBarGatherer, *store.ParquetStore) {
	t.Helper()
	dir := t.TempDir()
	bars := store.NewParquetStore(dir)
	db, err := store.NewSQLiteStore(filepath.Join(dir, "folio.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	for _, sym := range symbols {
		if err := db.AddSymbol(context.Background(), domain.MarketUS, sym); err != nil {
			t.Fatalf("AddSymbol: %v", err)
		}
	}

	g, err := NewDailyBarGatherer(fetcher, bars, db, domain.MarketUS, config.GatherJobConfig{
		StartDate:       "2024-01-01",
		BatchSize:       2,
		MaxWorkers:      2,
		RateLimitPerMin: 600000,
	}, nil)
	if err != nil {
		t.Fatalf("NewDailyBarGatherer: %v", err)
	}
	g.retryDelay = 0
	// Friday 2024-02-02 after the close in New York.
	g.now = func() time.Time { return time.Date(2024, 2, 2, 23, 0, 0, 0, time.UTC) }
	return g, bars
}

func TestGatherFillsStore(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{history: map[string][]domain.Bar{
		"AAA": weekdays("AAA", jan1, 40),
		"BBB": weekdays("BBB", jan1, 40),
		"CCC": weekdays("CCC", jan1, 40),
	}}
	g, bars := setup(t, f, "AAA", "BBB", "CCC")
	ctx := context.Background()

	stats, err := g.Gather(ctx)
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if stats.Symbols != 3 || stats.Batches != 2 {
		t.Errorf("stats = %+v, want 3 symbols in 2 batches", stats)
	}
	// 2024-01-01 .. 2024-02-02 holds 25 weekdays.
	if stats.Bars != 3*25 {
		t.Errorf("stats.Bars = %d, want %d", stats.Bars, 3*25)
	}

	got, err := bars.ReadBars(ctx, "BBB", domain.MarketUS, jan1, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 25 {
		t.Errorf("stored %d BBB bars, want 25", len(got))
	}

	// A second pass finds every symbol current.
	stats, err = g.Gather(ctx)
	if err != nil {
		t.Fatalf("second Gather: %v", err)
	}
	if stats.UpToDate != 3 || stats.Batches != 0 {
		t.Errorf("second pass stats = %+v, want all up to date", stats)
	}

	// A week later only the missing days are requested.
	g.now = func() time.Time { return time.Date(2024, 2, 9, 23, 0, 0, 0, time.UTC) }
	f.calls = nil
	stats, err = g.Gather(ctx)
	if err != nil {
		t.Fatalf("third Gather: %v", err)
	}
	if stats.Bars != 3*5 {
		t.Errorf("third pass Bars = %d, want %d", stats.Bars, 3*5)
	}
	for _, c := range f.calls {
		if want := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC); !c.Start.Equal(want) {
			t.Errorf("request start = %v, want %v", c.Start, want)
		}
	}
}

func TestGatherRetriesTransientErrors(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fakeFetcher{history: map[string][]domain.Bar{"AAA": weekdays("AAA", jan1, 40)}, failures: 2}
	g, _ := setup(t, f, "AAA")

	stats, err := g.Gather(context.Background())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if stats.Failed != 0 || stats.Bars != 25 {
		t.Errorf("stats = %+v, want no failures and 25 bars", stats)
	}
	if len(f.calls) != 3 {
		t.Errorf("fetch calls = %d, want 3", len(f.calls))
	}
}

func TestGatherAllBatchesFail(t *testing.T) {
	f := &fakeFetcher{failures: 100}
	g, _ := setup(t, f, "AAA")

	stats, err := g.Gather(context.Background())
	if err == nil {
		t.Fatal("Gather returned nil error when every batch failed")
	}
	if stats.Failed != 1 {
		t.Errorf("stats.Failed = %d, want 1", stats.Failed)
	}
}

func TestGatherEmptyWatchlist(t *testing.T) {
	g, _ := setup(t, &fakeFetcher{})
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if g.Name() != "us-daily" {
		t.Errorf("Name() = %q, want us-daily", g.Name())
	}
}

func TestNewDailyBarGathererBadStart(t *testing.T) {
	_, err := NewDailyBarGatherer(&fakeFetcher{}, nil, nil, domain.MarketUS, config.GatherJobConfig{StartDate: "01/01/2024"}, nil)
	if err == nil {
		t.Error("NewDailyBarGatherer accepted a malformed start date")
	}
}
