package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestSeriesValidate(t *testing.T) {
	ok := Series{Symbol: "AAPL", Bars: []Bar{
		{Date: day(2), Close: 10},
		{Date: day(3), Close: 11},
	}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() returned error for ordered series: %v", err)
	}

	dup := Series{Symbol: "AAPL", Bars: []Bar{
		{Date: day(2), Close: 10},
		{Date: day(2), Close: 11},
	}}
	if err := dup.Validate(); err == nil {
		t.Error("Validate() accepted duplicate dates")
	}

	zero := Series{Symbol: "AAPL", Bars: []Bar{{Date: day(2), Close: 0}}}
	if err := zero.Validate(); err == nil {
		t.Error("Validate() accepted a zero close")
	}
}

func TestSeriesCloses(t *testing.T) {
	s := Series{Symbol: "MSFT", Bars: []Bar{
		{Date: day(2), Close: 1.5},
		{Date: day(3), Close: 2.5},
	}}
	got := s.Closes()
	if len(got) != 2 || got[0] != 1.5 || got[1] != 2.5 {
		t.Errorf("Closes() = %v, want [1.5 2.5]", got)
	}
}

func TestClosedTradeJSON(t *testing.T) {
	open := ClosedTrade{EntryDate: day(2), EntryPrice: 10, ExitDate: day(5), ExitPrice: 12, Shares: 3, Open: true}
	data, err := json.Marshal(open)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"exit_date":"open"`) {
		t.Errorf("open trade JSON = %s, want exit_date \"open\"", data)
	}

	closed := open
	closed.Open = false
	data, err = json.Marshal(closed)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"exit_date":"2024-01-05"`) {
		t.Errorf("closed trade JSON = %s, want exit_date 2024-01-05", data)
	}
}

func TestClosedTradeDecode(t *testing.T) {
	closed := ClosedTrade{EntryDate: day(2), EntryPrice: 10, ExitDate: day(5), ExitPrice: 12, Shares: 3, Profit: 6, ProfitPct: 20}
	data, err := json.Marshal(closed)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got ClosedTrade
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.ExitDate.Equal(day(5)) {
		t.Errorf("ExitDate = %v, want %v", got.ExitDate, day(5))
	}
	if got.Open || got.Shares != 3 || got.ExitPrice != 12 || !got.EntryDate.Equal(day(2)) {
		t.Errorf("decoded trade = %+v, want %+v", got, closed)
	}

	var open ClosedTrade
	if err := json.Unmarshal([]byte(`{"entry_date":"2024-01-02T00:00:00Z","exit_date":"open","shares":1}`), &open); err != nil {
		t.Fatalf("Unmarshal open: %v", err)
	}
	if !open.Open || !open.ExitDate.IsZero() {
		t.Errorf("open trade decoded as Open=%v ExitDate=%v, want true and zero", open.Open, open.ExitDate)
	}

	if err := json.Unmarshal([]byte(`{"exit_date":"05/01/2024"}`), &open); err == nil {
		t.Error("Unmarshal accepted a malformed exit_date")
	}
}

func TestFailureError(t *testing.T) {
	f := &Failure{Kind: FailureInsufficientPool, Message: "2 eligible symbols, need 5"}
	if got := f.Error(); got != "insufficient_pool: 2 eligible symbols, need 5" {
		t.Errorf("Error() = %q", got)
	}
	if ActionBuy != "BUY" || ActionSell != "SELL" {
		t.Error("Action constants have unexpected values")
	}
}
