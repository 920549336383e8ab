// Package folio is a Go client for the folio-server HTTP API.
package folio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"folio/internal/backtest"
	"folio/internal/httpapi"
	"folio/internal/optimize"
	"folio/internal/rotation"
	"folio/internal/signal"
	"folio/internal/store"
)

// Client provides a Go SDK for interacting with the folio-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new folio API client. Grid searches can take a while,
// so the default timeout is generous.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("folio: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// SymbolQuery holds the optional query parameters of the single-symbol
// endpoints. Dates use YYYY-MM-DD.
type SymbolQuery struct {
	Strategy string
	Market   string
	Start    string
	End      string
}

func (q SymbolQuery) values() url.Values {
	v := url.Values{}
	for k, s := range map[string]string{"strategy": q.Strategy, "market": q.Market, "start": q.Start, "end": q.End} {
		if s != "" {
			v.Set(k, s)
		}
	}
	return v
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Strategies lists the registered single-asset strategies.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var out httpapi.StrategiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// Backtest runs one strategy over symbol.
func (c *Client) Backtest(ctx context.Context, symbol string, q SymbolQuery) (*backtest.Result, error) {
	var out backtest.Result
	if err := c.do(ctx, http.MethodGet, "/api/backtest/"+url.PathEscape(symbol), q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare runs every strategy over symbol.
func (c *Client) Compare(ctx context.Context, symbol string, q SymbolQuery) ([]backtest.Comparison, error) {
	var out []backtest.Comparison
	if err := c.do(ctx, http.MethodGet, "/api/compare/"+url.PathEscape(symbol), q.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Recommend returns the latest combined signal for symbol.
func (c *Client) Recommend(ctx context.Context, symbol string, q SymbolQuery) (*signal.Recommendation, error) {
	var out signal.Recommendation
	if err := c.do(ctx, http.MethodGet, "/api/recommend/"+url.PathEscape(symbol), q.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rotate runs momentum rotation over a pool.
func (c *Client) Rotate(ctx context.Context, body httpapi.RotationBody) (*rotation.Result, error) {
	var out rotation.Result
	if err := c.do(ctx, http.MethodPost, "/api/rotation", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WalkForward runs rolling train/test evaluation over a pool.
func (c *Client) WalkForward(ctx context.Context, body httpapi.WalkForwardBody) (*optimize.WalkForwardResult, error) {
	var out optimize.WalkForwardResult
	if err := c.do(ctx, http.MethodPost, "/api/walk-forward", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Robustness sweeps the parameter grid over a pool.
func (c *Client) Robustness(ctx context.Context, body httpapi.RobustnessBody) (*optimize.RobustnessResult, error) {
	var out optimize.RobustnessResult
	if err := c.do(ctx, http.MethodPost, "/api/robustness", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Runs lists saved runs, newest first. An empty kind matches every kind and
// a zero limit uses the server default.
func (c *Client) Runs(ctx context.Context, kind string, limit int) ([]store.Run, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out httpapi.RunsResponse
	if err := c.do(ctx, http.MethodGet, "/api/runs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// Run fetches one saved run.
func (c *Client) Run(ctx context.Context, id string) (*store.Run, error) {
	var out store.Run
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watchlist returns the watch-list of market; empty selects the server's
// default market.
func (c *Client) Watchlist(ctx context.Context, market string) (*httpapi.WatchlistResponse, error) {
	var out httpapi.WatchlistResponse
	if err := c.do(ctx, http.MethodGet, "/api/watchlist", marketQuery(market), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddSymbol adds or reactivates a watch-list symbol.
func (c *Client) AddSymbol(ctx context.Context, market, symbol string) error {
	return c.do(ctx, http.MethodPut, "/api/watchlist/"+url.PathEscape(symbol), marketQuery(market), nil, nil)
}

// RemoveSymbol deactivates a watch-list symbol.
func (c *Client) RemoveSymbol(ctx context.Context, market, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/watchlist/"+url.PathEscape(symbol), marketQuery(market), nil, nil)
}

func marketQuery(market string) url.Values {
	if market == "" {
		return nil
	}
	return url.Values{"market": {market}}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
