package folio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"folio/internal/backtest"
	"folio/internal/domain"
	"folio/internal/httpapi"
	"folio/internal/rotation"
	"folio/internal/store"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestClientRequests(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	var gotBody []byte

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotQuery = r.Method, r.URL.Path, r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/strategies":
			json.NewEncoder(w).Encode(httpapi.StrategiesResponse{Strategies: []string{"ma", "rsi"}})
		case "/api/backtest/AAPL":
			json.NewEncoder(w).Encode(backtest.Result{Symbol: "AAPL", ClosedTrades: []domain.ClosedTrade{{
				EntryDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
				ExitDate:  time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
				Shares:    10,
			}}})
		case "/api/rotation":
			json.NewEncoder(w).Encode(rotation.Result{Pool: []string{"AAA", "BBB"}})
		case "/api/runs":
			json.NewEncoder(w).Encode(httpapi.RunsResponse{Runs: []store.Run{{ID: "r1", Kind: "rotation"}}})
		case "/api/watchlist/AAPL":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	ctx := context.Background()

	names, err := c.Strategies(ctx)
	if err != nil {
		t.Fatalf("Strategies: %v", err)
	}
	if len(names) != 2 || names[0] != "ma" {
		t.Errorf("Strategies = %v, want [ma rsi]", names)
	}

	bt, err := c.Backtest(ctx, "AAPL", SymbolQuery{Strategy: "ma"})
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}
	if gotQuery != "strategy=ma" {
		t.Errorf("Backtest query = %q", gotQuery)
	}
	if len(bt.ClosedTrades) != 1 {
		t.Fatalf("Backtest closed trades = %v", bt.ClosedTrades)
	}
	if want := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC); !bt.ClosedTrades[0].ExitDate.Equal(want) {
		t.Errorf("ClosedTrades[0].ExitDate = %v, want %v", bt.ClosedTrades[0].ExitDate, want)
	}

	body := httpapi.RotationBody{PoolBody: httpapi.PoolBody{Symbols: []string{"AAA", "BBB"}}}
	res, err := c.Rotate(ctx, body)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if gotMethod != http.MethodPost || len(res.Pool) != 2 {
		t.Errorf("Rotate: method %s, pool %v", gotMethod, res.Pool)
	}
	var sent httpapi.RotationBody
	if err := json.Unmarshal(gotBody, &sent); err != nil || len(sent.Symbols) != 2 {
		t.Errorf("Rotate sent body %s", gotBody)
	}

	runs, err := c.Runs(ctx, "rotation", 5)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if gotQuery != "kind=rotation&limit=5" {
		t.Errorf("Runs query = %q", gotQuery)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("Runs = %v", runs)
	}

	if err := c.AddSymbol(ctx, "us", "AAPL"); err != nil {
		t.Fatalf("AddSymbol: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/watchlist/AAPL" || gotQuery != "market=us" {
		t.Errorf("AddSymbol sent %s %s?%s", gotMethod, gotPath, gotQuery)
	}
}

func TestClientAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "insufficient history"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Recommend(context.Background(), "AAPL", SymbolQuery{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Message != "insufficient history" {
		t.Errorf("APIError = %+v", apiErr)
	}
}
