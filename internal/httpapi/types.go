// Package httpapi provides an HTTP REST API over the backtesting engine,
// serving run results, saved runs and the watch-list as JSON.
package httpapi

import (
	"fmt"
	"strings"
	"time"

	"folio/internal/domain"
	"folio/internal/engine"
	"folio/internal/optimize"
	"folio/internal/rotation"
	"folio/internal/store"
)

// PoolBody is the JSON body shared by the portfolio endpoints. Dates use
// the YYYY-MM-DD layout; an empty symbol list selects the watch-list.
type PoolBody struct {
	Symbols []string `json:"symbols,omitempty"`
	Market  string   `json:"market,omitempty"`
	Start   string   `json:"start,omitempty"`
	End     string   `json:"end,omitempty"`
}

func (b PoolBody) request() (engine.PoolRequest, error) {
	r, err := parseRange(b.Start, b.End)
	if err != nil {
		return engine.PoolRequest{}, err
	}
	return engine.PoolRequest{Symbols: b.Symbols, Market: domain.Market(strings.ToLower(b.Market)), Range: r}, nil
}

// RotationBody is the body of POST /api/rotation.
type RotationBody struct {
	PoolBody
	Params *rotation.Params `json:"params,omitempty"`
}

// WalkForwardBody is the body of POST /api/walk-forward.
type WalkForwardBody struct {
	PoolBody
	Config *optimize.WalkForwardConfig `json:"config,omitempty"`
}

// RobustnessBody is the body of POST /api/robustness.
type RobustnessBody struct {
	PoolBody
	Config *optimize.RobustnessConfig `json:"config,omitempty"`
}

// StrategiesResponse lists the registered single-asset strategies.
type StrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

// WatchlistResponse lists watch-list entries of one market.
type WatchlistResponse struct {
	Market  string            `json:"market"`
	Symbols []string          `json:"symbols"`
	Items   []store.WatchItem `json:"items"`
}

// RunsResponse lists saved runs.
type RunsResponse struct {
	Runs []store.Run `json:"runs"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseRange(start, end string) (engine.Range, error) {
	s, err := parseDate(start)
	if err != nil {
		return engine.Range{}, err
	}
	e, err := parseDate(end)
	if err != nil {
		return engine.Range{}, err
	}
	if !e.IsZero() && e.Before(s) {
		return engine.Range{}, fmt.Errorf("end %s is before start %s", end, start)
	}
	return engine.Range{Start: s, End: e}, nil
}
