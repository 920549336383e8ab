package util

import (
	"time"
	_ "time/tzdata"

	"folio/internal/domain"
)

// session is a market's regular trading hours in its local time zone.
type session struct {
	zone        string
	openHour    int
	openMinute  int
	closeHour   int
	closeMinute int
}

var sessions = map[domain.Market]session{
	domain.MarketUS: {zone: "America/New_York", openHour: 9, openMinute: 30, closeHour: 16},
	domain.MarketTW: {zone: "Asia/Taipei", openHour: 9, closeHour: 13, closeMinute: 30},
	domain.MarketCN: {zone: "Asia/Shanghai", openHour: 9, openMinute: 30, closeHour: 15},
}

// TradingCalendar provides weekday and session-hour awareness for a market.
// Exchange holidays are not modelled; a holiday simply yields no bar.
type TradingCalendar struct {
	market domain.Market
	sess   session
	loc    *time.Location
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets use US hours.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	sess, ok := sessions[market]
	if !ok {
		sess = sessions[domain.MarketUS]
	}
	loc, err := time.LoadLocation(sess.zone)
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{market: market, sess: sess, loc: loc}
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// Location returns the market's time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsTradingDay reports whether t falls on a weekday in the market's zone.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// IsMarketOpen returns whether the market is in its regular session at t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	local := t.In(tc.loc)
	return !local.Before(tc.open(local)) && local.Before(tc.close(local))
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	open := tc.open(local)
	if local.After(open) {
		open = open.AddDate(0, 0, 1)
	}
	for !tc.IsTradingDay(open) {
		open = open.AddDate(0, 0, 1)
	}
	return open
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	cl := tc.close(local)
	if local.After(cl) {
		cl = cl.AddDate(0, 0, 1)
	}
	for !tc.IsTradingDay(cl) {
		cl = cl.AddDate(0, 0, 1)
	}
	return cl
}

// LastCompletedSession returns the calendar date (UTC midnight) of the most
// recent session that had closed by t.
func (tc *TradingCalendar) LastCompletedSession(t time.Time) time.Time {
	local := t.In(tc.loc)
	day := local
	if local.Before(tc.close(local)) {
		day = day.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

// TradingDaysBetween counts the weekday calendar dates in [start, end]. The
// arguments are treated as dates, not instants.
func (tc *TradingCalendar) TradingDaysBetween(start, end time.Time) int {
	n := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

func (tc *TradingCalendar) open(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), tc.sess.openHour, tc.sess.openMinute, 0, 0, tc.loc)
}

func (tc *TradingCalendar) close(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), tc.sess.closeHour, tc.sess.closeMinute, 0, 0, tc.loc)
}
