package gather

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"folio/internal/config"
	"folio/internal/domain"
)

// BarFetcher retrieves daily bars for several symbols at once. Symbols with
// no bars in the range are absent from the result.
type BarFetcher interface {
	FetchDailyBars(ctx context.Context, symbols []string, r DateRange) (map[string][]domain.Bar, error)
}

// Compile-time interface check.
var _ BarFetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher fetches daily bars from the Alpaca market-data API.
type AlpacaFetcher struct {
	client *marketdata.Client
	feed   marketdata.Feed
}

// NewAlpacaFetcher creates an AlpacaFetcher from the alpaca config section.
func NewAlpacaFetcher(cfg config.Alpaca) *AlpacaFetcher {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaFetcher{
		client: marketdata.NewClient(opts),
		feed:   marketdata.Feed(feed),
	}
}

// FetchDailyBars fetches daily bars for multiple symbols in a single API call.
func (f *AlpacaFetcher) FetchDailyBars(ctx context.Context, symbols []string, r DateRange) (map[string][]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	multiBars, err := f.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     r.Start,
		End:       r.End.AddDate(0, 0, 1),
		Feed:      f.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	out := make(map[string][]domain.Bar, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		sym := strings.ToUpper(symbol)
		bars := make([]domain.Bar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol: sym,
				Date:   ab.Timestamp,
				Open:   ab.Open,
				High:   ab.High,
				Low:    ab.Low,
				Close:  ab.Close,
				Volume: int64(ab.Volume),
			})
		}
		out[sym] = bars
	}
	return out, nil
}
