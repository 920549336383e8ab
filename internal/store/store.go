// Package store defines storage interfaces for persisting and retrieving
// daily bars, the symbol watch-list and saved engine runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"folio/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], ordered by date.
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// WatchItem is one watch-list entry.
type WatchItem struct {
	Symbol  string        `json:"symbol"`
	Market  domain.Market `json:"market"`
	Active  bool          `json:"active"`
	AddedAt time.Time     `json:"added_at"`
}

// WatchlistStore maintains the symbol pool per market.
type WatchlistStore interface {
	// AddSymbol inserts a symbol, reactivating it if it was deactivated.
	AddSymbol(ctx context.Context, market domain.Market, symbol string) error

	// DeactivateSymbol keeps the row but removes it from the active pool.
	DeactivateSymbol(ctx context.Context, market domain.Market, symbol string) error

	// ListWatchlist returns the active symbols of a market, sorted.
	ListWatchlist(ctx context.Context, market domain.Market) ([]string, error)

	// Watchlist returns every entry of a market, active or not.
	Watchlist(ctx context.Context, market domain.Market) ([]WatchItem, error)
}

// Run is a persisted engine run. Params and Summary hold the JSON encodings
// of the run's inputs and headline results.
type Run struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Outcome   string          `json:"outcome"`
	Params    json.RawMessage `json:"params"`
	Summary   json.RawMessage `json:"summary"`
	CreatedAt time.Time       `json:"created_at"`
}

// RunStore saves and lists engine runs.
type RunStore interface {
	// SaveRun inserts a run, assigning an ID and timestamp when unset.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run by ID, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the most recent runs, newest first. An empty kind
	// matches every kind.
	ListRuns(ctx context.Context, kind string, limit int) ([]Run, error)
}
